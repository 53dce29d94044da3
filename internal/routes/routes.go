package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/airwaves/stationcms/internal/auth"
	"github.com/airwaves/stationcms/internal/handlers"
	"github.com/airwaves/stationcms/internal/middleware"
	pkghttp "github.com/airwaves/stationcms/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the handlers and collaborators the routes need
type Dependencies struct {
	AuthHandler     *handlers.AuthHandler
	PasswordHandler *handlers.PasswordHandler
	TokenManager    *auth.TokenManager
	Users           auth.UserRepository
	StaffRoles      []string // roles allowed to use authenticated routes; empty allows any
	IPConfig        *pkghttp.IPConfig
	IPRateLimit     middleware.RateLimitConfig
	DB              Pinger
	Logger          *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	ipLimit := middleware.RateLimitByIP(deps.IPRateLimit, deps.IPConfig)

	router.Get("/health", healthHandler(deps.DB))

	// Public routes - throttled per IP in front of the per-email ledger
	router.With(ipLimit).Post("/auth/login", deps.AuthHandler.Login)
	router.With(ipLimit).Post("/auth/password/forgot", deps.PasswordHandler.RequestPasswordReset)
	router.With(ipLimit).Post("/auth/password/reset", deps.PasswordHandler.CompletePasswordReset)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager, deps.Users, deps.Logger))
		if len(deps.StaffRoles) > 0 {
			r.Use(auth.RequireRole(deps.StaffRoles...))
		}
		r.Post("/auth/password/change", deps.PasswordHandler.ChangePassword)
	})
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				pkghttp.WriteError(w, http.StatusServiceUnavailable, pkghttp.CodeServerError, "database unavailable")
				return
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
