package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/achilles-ltd/apiserver/internal/store"
	"github.com/achilles-ltd/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL   = 24 * time.Hour
	minPasswordLength = 6
	bcryptCost        = 10
)

var (
	// ErrMissingFields indicates that a required input field was empty.
	ErrMissingFields = errors.New("all fields are required")
	// ErrPasswordTooShort indicates that the password did not meet the minimum length.
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	// ErrDuplicateAccount indicates that the username or email is already taken.
	ErrDuplicateAccount = errors.New("username or email already exists")
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password so callers cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenExpired indicates that the token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid indicates a malformed, tampered, or mis-signed token.
	ErrTokenInvalid = errors.New("token invalid")
)

// AccountRepository defines persistence operations for accounts.
// Lookups return store.ErrNotFound for missing rows; Create returns
// store.ErrDuplicate on a uniqueness violation.
type AccountRepository interface {
	GetByID(ctx context.Context, id int) (types.Account, error)
	GetByUsername(ctx context.Context, username string) (types.Account, error)
	GetByUsernameOrEmail(ctx context.Context, username, email string) (types.Account, error)
	Create(ctx context.Context, account types.Account) (types.Account, error)
}

// Claims are the statements encoded in a session token.
type Claims struct {
	jwt.RegisteredClaims
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// AuthResult is returned by Register and Authenticate.
type AuthResult struct {
	Token   string
	Account types.Account
}

// AuthService encapsulates registration, login, and token use-cases.
type AuthService struct {
	repo     AccountRepository
	secret   []byte
	tokenTTL time.Duration
}

func NewAuthService(repo AccountRepository, jwtSecret string) *AuthService {
	return &AuthService{
		repo:     repo,
		secret:   []byte(jwtSecret),
		tokenTTL: defaultTokenTTL,
	}
}

// Register validates the input, stores a new account with a bcrypt hash of
// the password, and returns a session token for the new account.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return AuthResult{}, ErrMissingFields
	}
	if len(password) < minPasswordLength {
		return AuthResult{}, ErrPasswordTooShort
	}

	if _, err := s.repo.GetByUsernameOrEmail(ctx, username, email); err == nil {
		return AuthResult{}, ErrDuplicateAccount
	} else if !errors.Is(err, store.ErrNotFound) {
		return AuthResult{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return AuthResult{}, err
	}

	account, err := s.repo.Create(ctx, types.Account{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashed),
	})
	if err != nil {
		// The pre-check above races with concurrent registrations; the
		// table's UNIQUE constraints are the authoritative check.
		if errors.Is(err, store.ErrDuplicate) {
			return AuthResult{}, ErrDuplicateAccount
		}
		return AuthResult{}, err
	}

	token, err := s.IssueToken(account.ID, account.Username)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, Account: account}, nil
}

// Authenticate verifies a username/password pair and returns a session
// token. An unknown username and a wrong password fail identically.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return AuthResult{}, ErrMissingFields
	}

	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	token, err := s.IssueToken(account.ID, account.Username)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, Account: account}, nil
}

// Account looks up an account by id, typically from verified token claims.
func (s *AuthService) Account(ctx context.Context, id int) (types.Account, error) {
	return s.repo.GetByID(ctx, id)
}

// IssueToken produces a signed token encoding the account's id and username.
func (s *AuthService) IssueToken(id int, username string) (string, error) {
	return issueToken(id, username, s.secret, s.tokenTTL)
}

// VerifyToken checks signature and expiry and returns the decoded claims.
// It never returns claims from a token that failed verification.
func (s *AuthService) VerifyToken(tokenString string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if !token.Valid {
		return Claims{}, ErrTokenInvalid
	}
	if claims.ID < 1 || strings.TrimSpace(claims.Username) == "" {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}

func issueToken(id int, username string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ID:       id,
		Username: username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
