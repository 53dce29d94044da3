package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ResetTokenCleaner deletes reset tokens past their expiry
type ResetTokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// RateLimitCleaner deletes ledger records idle longer than retention
type RateLimitCleaner interface {
	CleanupStale(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupManager periodically purges expired reset tokens and stale
// password reset ledger records
type CleanupManager struct {
	tokens    ResetTokenCleaner
	ledger    RateLimitCleaner
	retention time.Duration
	logger    *slog.Logger
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	tokens ResetTokenCleaner,
	ledger RateLimitCleaner,
	retention time.Duration,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		tokens:    tokens,
		ledger:    ledger,
		retention: retention,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs cleanup immediately and then every interval until Stop is
// called or ctx is cancelled. It blocks.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single cleanup pass. A failure in one store does not
// skip the other.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cm.tokens != nil {
		rows, err := cm.tokens.CleanupExpired(cleanupCtx)
		if err != nil {
			cm.logger.ErrorContext(ctx, "failed to cleanup expired reset tokens", slog.Any("error", err))
		} else if rows > 0 {
			cm.logger.InfoContext(ctx, "expired reset token cleanup completed", slog.Int64("rows_deleted", rows))
		}
	}

	if cm.ledger != nil {
		rows, err := cm.ledger.CleanupStale(cleanupCtx, cm.retention)
		if err != nil {
			cm.logger.ErrorContext(ctx, "failed to cleanup stale reset rate limits", slog.Any("error", err))
		} else if rows > 0 {
			cm.logger.InfoContext(ctx, "stale reset rate limit cleanup completed", slog.Int64("rows_deleted", rows))
		}
	}
}

// Stop signals the cleanup manager to stop. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
