package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/airwaves/stationcms/internal/models"
	pkglogger "github.com/airwaves/stationcms/pkg/logger"
)

// RateLimitRepository is the storage capability behind the reset ledger.
// Postgres and Redis implementations live in repositories.
type RateLimitRepository interface {
	Get(ctx context.Context, identifier string) (*models.PasswordResetRateLimit, error)
	Create(ctx context.Context, identifier string, windowStart time.Time) (*models.PasswordResetRateLimit, error)
	Increment(ctx context.Context, identifier string, now time.Time) error
	Reset(ctx context.Context, identifier string, windowStart time.Time) error
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// RateLimitConfig holds the ledger limits
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultRateLimitConfig allows 3 reset requests per 15 minutes
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts: 3,
		Window:      15 * time.Minute,
	}
}

// RateLimitResult is the outcome of a ledger check
type RateLimitResult struct {
	Allowed           bool
	RetryAfterSeconds int
}

// RateLimitService caps password reset requests per email address
type RateLimitService struct {
	repo   RateLimitRepository
	config RateLimitConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewRateLimitService(repo RateLimitRepository, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// NormalizeIdentifier folds an email address to its ledger key
func NormalizeIdentifier(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckRateLimit reports whether another reset request is allowed for
// identifier. It only creates a missing record (with zero attempts) and
// never counts. Storage errors fail open.
func (s *RateLimitService) CheckRateLimit(ctx context.Context, identifier string) RateLimitResult {
	identifier = NormalizeIdentifier(identifier)
	now := s.now()

	record, err := s.repo.Get(ctx, identifier)
	if errors.Is(err, models.ErrNotFound) {
		record, err = s.repo.Create(ctx, identifier, now)
	}
	if err != nil {
		// Fail open for availability - a ledger outage must not block resets
		s.logger.ErrorContext(ctx, "failed to check password reset rate limit",
			slog.String("identifier", pkglogger.SanitizedEmail(identifier)),
			slog.Any("error", err))
		return RateLimitResult{Allowed: true}
	}

	if record.WindowLapsed(now, s.config.Window) {
		return RateLimitResult{Allowed: true}
	}

	if record.AttemptCount < s.config.MaxAttempts {
		return RateLimitResult{Allowed: true}
	}

	remaining := record.WindowStart.Add(s.config.Window).Sub(now)
	retryAfter := int(math.Ceil(remaining.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	s.logger.WarnContext(ctx, "password reset rate limited",
		slog.String("identifier", pkglogger.SanitizedEmail(identifier)),
		slog.Int("attempts", record.AttemptCount),
		slog.Int("retry_after_seconds", retryAfter))

	return RateLimitResult{Allowed: false, RetryAfterSeconds: retryAfter}
}

// RecordAttempt counts one reset request. A lapsed or missing window is
// restarted at one attempt. Best effort: failures are logged only.
func (s *RateLimitService) RecordAttempt(ctx context.Context, identifier string) {
	identifier = NormalizeIdentifier(identifier)
	now := s.now()

	record, err := s.repo.Get(ctx, identifier)
	switch {
	case errors.Is(err, models.ErrNotFound):
		err = s.repo.Reset(ctx, identifier, now)
	case err != nil:
	case record.WindowLapsed(now, s.config.Window):
		err = s.repo.Reset(ctx, identifier, now)
	default:
		err = s.repo.Increment(ctx, identifier, now)
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record password reset attempt",
			slog.String("identifier", pkglogger.SanitizedEmail(identifier)),
			slog.Any("error", err))
	}
}

// CleanupStale deletes ledger records idle for longer than retention
func (s *RateLimitService) CleanupStale(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteStale(ctx, s.now().Add(-retention))
}
