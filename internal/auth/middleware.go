package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/airwaves/stationcms/internal/models"
	pkghttp "github.com/airwaves/stationcms/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey stores the validated token claims
	UserContextKey contextKey = "user"
	// AccountContextKey stores the account loaded for the request
	AccountContextKey contextKey = "account"
)

// UserRepository is the account lookup the middleware needs
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthMiddleware validates bearer tokens, loads the account and rejects
// sessions issued before the account's last password change.
func AuthMiddleware(tm *TokenManager, users UserRepository, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || tokenString == "" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			user, err := users.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "invalid or expired token")
					return
				}
				logger.ErrorContext(r.Context(), "failed to load session account",
					slog.String("user_id", claims.UserID),
					slog.Any("error", err))
				pkghttp.WriteInternalError(w, "An unexpected error occurred")
				return
			}

			if issuedBeforePasswordChange(claims, user) {
				pkghttp.WriteUnauthorized(w, "session expired, please sign in again")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, AccountContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// issuedBeforePasswordChange compares at second precision, matching iat
func issuedBeforePasswordChange(claims *models.TokenClaims, user *models.User) bool {
	if user.PasswordChangedAt == nil || claims.IssuedAt == nil {
		return false
	}
	return claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second))
}

// RequireRole allows the request only if the session account holds one of roles.
// Must run after AuthMiddleware.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetAccountFromContext(r)
			if user == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if !slices.Contains(roles, user.Role) {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetAccountFromContext returns the account loaded by AuthMiddleware
func GetAccountFromContext(r *http.Request) *models.User {
	user, ok := r.Context().Value(AccountContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
