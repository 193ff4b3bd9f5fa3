package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/achilles-ltd/apiserver/internal/services"
)

type contextKey string

const contextClaimsKey contextKey = "claims"

type ErrorResponse struct {
	Error string `json:"error"`
}

func claimsFromContext(ctx context.Context) (services.Claims, error) {
	claims, ok := ctx.Value(contextClaimsKey).(services.Claims)
	if !ok {
		return services.Claims{}, errors.New("missing claims")
	}
	return claims, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Root is the unauthenticated banner route.
func Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Achilles Ltd API - Server is running!"))
}
