package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airwaves/stationcms/internal/auth"
	"github.com/airwaves/stationcms/internal/background"
	"github.com/airwaves/stationcms/internal/config"
	"github.com/airwaves/stationcms/internal/database"
	"github.com/airwaves/stationcms/internal/handlers"
	middlewareCustom "github.com/airwaves/stationcms/internal/middleware"
	"github.com/airwaves/stationcms/internal/models"
	"github.com/airwaves/stationcms/internal/repositories"
	"github.com/airwaves/stationcms/internal/routes"
	"github.com/airwaves/stationcms/internal/services"
	pkgauth "github.com/airwaves/stationcms/pkg/auth"
	pkghttp "github.com/airwaves/stationcms/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Initialize database
	db, err := database.NewConnection(startupCtx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(startupCtx, db.Pool, logger); err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	resetTokenRepo := repositories.NewPasswordResetTokenRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	ledger, closeLedger, err := newRateLimitLedger(startupCtx, cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize rate limit store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeLedger()

	hasher := pkgauth.NewHasher(cfg.Password.BcryptCost)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// Initialize security services
	rateLimitService := services.NewRateLimitService(ledger, services.RateLimitConfig{
		MaxAttempts: cfg.Password.MaxResetAttempts,
		Window:      cfg.Password.ResetWindow,
	}, logger)
	resetTokenService := services.NewResetTokenService(resetTokenRepo, hasher, cfg.Password.ResetTokenTTL, logger)
	auditService := services.NewAuditService(auditRepo, logger)

	sender, err := newEmailSender(startupCtx, cfg.Email)
	if err != nil {
		logger.Error("failed to initialize email sender", slog.Any("error", err))
		os.Exit(1)
	}
	emailService := services.NewEmailService(sender, cfg.Email.ResetURLBase, logger)
	logger.Info("email provider configured", slog.String("provider", cfg.Email.Provider))

	// Initialize services
	passwordService := services.NewPasswordService(
		userRepo,
		rateLimitService,
		resetTokenService,
		emailService,
		hasher,
		auditService,
		services.PasswordServiceConfig{
			ResetRoles:      cfg.Password.ResetRoles,
			MinResponseTime: cfg.Password.MinResponseTime,
			ResponseJitter:  cfg.Password.ResponseJitter,
		},
		logger,
	)

	loginTiming := auth.NewTimingDelay(auth.TimingConfig{
		MinDuration: cfg.Password.MinResponseTime,
		Jitter:      cfg.Password.ResponseJitter,
	})
	authService, err := services.NewAuthService(userRepo, tokenManager, hasher, auditService, cfg.Password.ResetRoles, loginTiming, logger)
	if err != nil {
		logger.Error("failed to initialize auth service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	passwordHandler := handlers.NewPasswordHandler(passwordService, emailService, ipConfig, logger)

	// Bootstrap first admin user if configured
	if err := ensureAdminUser(startupCtx, userRepo, hasher, cfg.Auth, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	ipRateLimit := middlewareCustom.DefaultPasswordRateLimit()
	ipRateLimit.RequestsPerMinute = cfg.Password.IPRequestsPerMin

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:     authHandler,
		PasswordHandler: passwordHandler,
		TokenManager:    tokenManager,
		Users:           userRepo,
		StaffRoles:      cfg.Password.ResetRoles,
		IPConfig:        ipConfig,
		IPRateLimit:     ipRateLimit,
		DB:              db,
		Logger:          logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(
		resetTokenService,
		rateLimitService,
		cfg.Password.RateLimitRetention,
		logger,
		cfg.Password.CleanupInterval,
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// newRateLimitLedger picks the reset ledger backend. The returned close
// function releases the Redis client when one was opened.
func newRateLimitLedger(ctx context.Context, cfg *config.Config, db *database.DB, logger *slog.Logger) (services.RateLimitRepository, func(), error) {
	if cfg.Redis.RateLimitStore != config.RateLimitStoreRedis {
		return repositories.NewRateLimitRepository(db), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	logger.Info("using redis rate limit store", slog.String("addr", opts.Addr))
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", slog.Any("error", err))
		}
	}
	return repositories.NewRedisRateLimitRepository(client, cfg.Password.RateLimitRetention), closeFn, nil
}

func newEmailSender(ctx context.Context, cfg config.EmailConfig) (services.EmailSender, error) {
	switch cfg.Provider {
	case config.EmailProviderSES:
		sender, err := services.NewSESEmailSender(ctx, cfg.AWSRegion, cfg.From)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case config.EmailProviderSMTP:
		return services.NewSMTPEmailSender(services.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
		}), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher *pkgauth.Hasher, cfg config.AuthConfig, logger *slog.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if result := pkgauth.ValidatePassword(cfg.AdminPassword, cfg.AdminEmail); !result.IsValid {
		return fmt.Errorf("ADMIN_PASSWORD does not meet policy: %s", strings.Join(result.Errors, "; "))
	}

	hashedPassword, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now().UTC()
	admin := &models.User{
		Email:             cfg.AdminEmail,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              models.RoleAdmin,
		PasswordChangedAt: &now,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
