// Package middleware provides the HTTP middleware chain: authentication,
// rate limiting, CORS, and request tracing.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/habitquest/service/internal/app/services/auth"
	"github.com/habitquest/service/internal/errors"
	"github.com/habitquest/service/internal/logging"
	"github.com/habitquest/service/pkg/logger"
)

// AuthMiddleware authenticates requests with bearer tokens.
type AuthMiddleware struct {
	tokens    *auth.Tokens
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. Requests to the
// skipPaths pass through without a token.
func NewAuthMiddleware(tokens *auth.Tokens, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{tokens: tokens, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("Missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
			return
		}

		claims, err := m.tokens.Parse(parts[1])
		if err != nil {
			m.log.WithError(err).Warn("token validation failed")
			m.respondError(w, r, errors.Unauthorized("Invalid or expired token"))
			return
		}

		ctx := context.WithValue(r.Context(), logging.UserIDKey, claims.UserID)
		logging.CaptureUserID(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err *errors.ServiceError) {
	writeServiceError(w, err)
	m.log.WithField("path", r.URL.Path).
		WithField("method", r.Method).
		WithField("status", err.HTTPStatus).
		Warn("authentication failed")
}

// GetUserID extracts the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// writeServiceError renders a ServiceError as the standard JSON error body.
func writeServiceError(w http.ResponseWriter, err *errors.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   err.Code,
		"message": err.Message,
	})
}
