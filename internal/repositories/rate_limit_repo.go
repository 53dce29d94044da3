package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/airwaves/stationcms/internal/database"
	"github.com/airwaves/stationcms/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitRepository stores the password reset ledger in Postgres
type RateLimitRepository struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{pool: db.Pool}
}

func scanRateLimitRow(row rowScanner) (*models.PasswordResetRateLimit, error) {
	var rl models.PasswordResetRateLimit

	if err := row.Scan(&rl.Identifier, &rl.AttemptCount, &rl.WindowStart, &rl.UpdatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &rl, nil
}

func (r *RateLimitRepository) Get(ctx context.Context, identifier string) (*models.PasswordResetRateLimit, error) {
	query := `
		SELECT identifier, attempt_count, window_start, updated_at
		FROM password_reset_rate_limits WHERE identifier = $1
	`
	return scanRateLimitRow(r.pool.QueryRow(ctx, query, identifier))
}

// Create inserts a zero-count record. If another request created it first,
// the existing row is returned untouched.
func (r *RateLimitRepository) Create(ctx context.Context, identifier string, windowStart time.Time) (*models.PasswordResetRateLimit, error) {
	query := `
		INSERT INTO password_reset_rate_limits (identifier, attempt_count, window_start, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (identifier) DO UPDATE SET identifier = EXCLUDED.identifier
		RETURNING identifier, attempt_count, window_start, updated_at
	`

	rl, err := scanRateLimitRow(r.pool.QueryRow(ctx, query, identifier, windowStart))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit record: %w", err)
	}

	return rl, nil
}

func (r *RateLimitRepository) Increment(ctx context.Context, identifier string, now time.Time) error {
	query := `
		UPDATE password_reset_rate_limits
		SET attempt_count = attempt_count + 1, updated_at = $1
		WHERE identifier = $2
	`

	result, err := r.pool.Exec(ctx, query, now, identifier)
	if err != nil {
		return fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Reset starts a new window at windowStart holding one attempt, creating
// the record if needed
func (r *RateLimitRepository) Reset(ctx context.Context, identifier string, windowStart time.Time) error {
	query := `
		INSERT INTO password_reset_rate_limits (identifier, attempt_count, window_start, updated_at)
		VALUES ($1, 1, $2, $2)
		ON CONFLICT (identifier) DO UPDATE
		SET attempt_count = 1, window_start = EXCLUDED.window_start, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.pool.Exec(ctx, query, identifier, windowStart); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}

	return nil
}

// DeleteStale removes records not touched since before
func (r *RateLimitRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM password_reset_rate_limits WHERE updated_at < $1`

	result, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale rate limits: %w", err)
	}

	return result.RowsAffected(), nil
}
