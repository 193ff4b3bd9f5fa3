package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/achilles-ltd/apiserver/internal/store"
	"github.com/achilles-ltd/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type mockAccountRepo struct {
	getByIDFn              func(ctx context.Context, id int) (types.Account, error)
	getByUsernameFn        func(ctx context.Context, username string) (types.Account, error)
	getByUsernameOrEmailFn func(ctx context.Context, username, email string) (types.Account, error)
	createFn               func(ctx context.Context, account types.Account) (types.Account, error)
}

func (m *mockAccountRepo) GetByID(ctx context.Context, id int) (types.Account, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return types.Account{}, store.ErrNotFound
}

func (m *mockAccountRepo) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	if m.getByUsernameFn != nil {
		return m.getByUsernameFn(ctx, username)
	}
	return types.Account{}, store.ErrNotFound
}

func (m *mockAccountRepo) GetByUsernameOrEmail(ctx context.Context, username, email string) (types.Account, error) {
	if m.getByUsernameOrEmailFn != nil {
		return m.getByUsernameOrEmailFn(ctx, username, email)
	}
	return types.Account{}, store.ErrNotFound
}

func (m *mockAccountRepo) Create(ctx context.Context, account types.Account) (types.Account, error) {
	if m.createFn != nil {
		return m.createFn(ctx, account)
	}
	account.ID = 1
	account.CreatedAt = time.Now()
	return account, nil
}

func TestRegisterSuccess(t *testing.T) {
	svc := NewAuthService(&mockAccountRepo{}, testSecret)

	result, err := svc.Register(context.Background(), "alice", "alice@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Account.ID)
	assert.Equal(t, "alice", result.Account.Username)
	assert.Equal(t, "alice@x.com", result.Account.Email)
	assert.NotEmpty(t, result.Account.PasswordHash)
	assert.NotEqual(t, "secret1", result.Account.PasswordHash)

	// The stored hash must verify against the original plaintext.
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(result.Account.PasswordHash), []byte("secret1")))

	claims, err := svc.VerifyToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, claims.ID)
	assert.Equal(t, "alice", claims.Username)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewAuthService(&mockAccountRepo{}, testSecret)

	testCases := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  error
	}{
		{"empty username", "", "a@x.com", "secret1", ErrMissingFields},
		{"empty email", "alice", "", "secret1", ErrMissingFields},
		{"empty password", "alice", "a@x.com", "", ErrMissingFields},
		{"whitespace username", "   ", "a@x.com", "secret1", ErrMissingFields},
		{"short password", "alice", "a@x.com", "12345", ErrPasswordTooShort},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.username, tc.email, tc.password)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRegisterDuplicatePreCheck(t *testing.T) {
	repo := &mockAccountRepo{
		getByUsernameOrEmailFn: func(ctx context.Context, username, email string) (types.Account, error) {
			return types.Account{ID: 1, Username: username}, nil
		},
	}
	svc := NewAuthService(repo, testSecret)

	_, err := svc.Register(context.Background(), "alice", "other@x.com", "secret1")
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestRegisterDuplicateAtInsert(t *testing.T) {
	// Pre-check passes but the constraint fires, as when two
	// registrations race.
	repo := &mockAccountRepo{
		createFn: func(ctx context.Context, account types.Account) (types.Account, error) {
			return types.Account{}, store.ErrDuplicate
		},
	}
	svc := NewAuthService(repo, testSecret)

	_, err := svc.Register(context.Background(), "alice", "alice@x.com", "secret1")
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestRegisterStoreFailure(t *testing.T) {
	repo := &mockAccountRepo{
		getByUsernameOrEmailFn: func(ctx context.Context, username, email string) (types.Account, error) {
			return types.Account{}, errors.New("connection refused")
		},
	}
	svc := NewAuthService(repo, testSecret)

	_, err := svc.Register(context.Background(), "alice", "alice@x.com", "secret1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateAccount)
}

func registeredRepo(t *testing.T, username, password string) *mockAccountRepo {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	account := types.Account{
		ID:           7,
		Username:     username,
		Email:        username + "@x.com",
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	return &mockAccountRepo{
		getByUsernameFn: func(ctx context.Context, name string) (types.Account, error) {
			if name == username {
				return account, nil
			}
			return types.Account{}, store.ErrNotFound
		},
		getByIDFn: func(ctx context.Context, id int) (types.Account, error) {
			if id == account.ID {
				return account, nil
			}
			return types.Account{}, store.ErrNotFound
		},
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	svc := NewAuthService(registeredRepo(t, "alice", "secret1"), testSecret)

	result, err := svc.Authenticate(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, 7, result.Account.ID)

	claims, err := svc.VerifyToken(result.Token)
	require.NoError(t, err)
	assert.Equal(t, 7, claims.ID)
	assert.Equal(t, "alice", claims.Username)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := NewAuthService(registeredRepo(t, "alice", "secret1"), testSecret)

	_, err := svc.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	svc := NewAuthService(registeredRepo(t, "alice", "secret1"), testSecret)

	// Same error as a wrong password so account existence never leaks.
	_, err := svc.Authenticate(context.Background(), "bob", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateMissingFields(t *testing.T) {
	svc := NewAuthService(registeredRepo(t, "alice", "secret1"), testSecret)

	_, err := svc.Authenticate(context.Background(), "", "secret1")
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = svc.Authenticate(context.Background(), "alice", "")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService(&mockAccountRepo{}, testSecret)

	token, err := svc.IssueToken(42, "carol")
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.ID)
	assert.Equal(t, "carol", claims.Username)
}

func TestVerifyTokenExpired(t *testing.T) {
	svc := NewAuthService(&mockAccountRepo{}, testSecret)

	token, err := issueToken(42, "carol", []byte(testSecret), -1*time.Second)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	svc := NewAuthService(&mockAccountRepo{}, testSecret)

	token, err := issueToken(42, "carol", []byte("other-secret"), time.Hour)
	require.NoError(t, err)

	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenTampered(t *testing.T) {
	svc := NewAuthService(&mockAccountRepo{}, testSecret)

	token, err := svc.IssueToken(42, "carol")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + ".eyJpZCI6OTl9." + parts[2]

	_, err = svc.VerifyToken(tampered)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenMalformed(t *testing.T) {
	svc := NewAuthService(&mockAccountRepo{}, testSecret)

	for _, token := range []string{"", "garbage", "a.b", "a.b.c"} {
		_, err := svc.VerifyToken(token)
		assert.ErrorIs(t, err, ErrTokenInvalid, "token %q", token)
	}
}
