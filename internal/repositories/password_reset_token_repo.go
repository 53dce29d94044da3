package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airwaves/stationcms/internal/database"
	"github.com/airwaves/stationcms/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetTokenRepository handles password reset token data access
type PasswordResetTokenRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewPasswordResetTokenRepository(db *database.DB) *PasswordResetTokenRepository {
	return &PasswordResetTokenRepository{db: db, pool: db.Pool}
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func scanResetTokenRow(row rowScanner) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken
	var usedAt *time.Time

	err := row.Scan(
		&token.ID, &token.UserID, &token.TokenHash,
		&token.ExpiresAt, &usedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	token.UsedAt = usedAt
	return &token, nil
}

func scanResetTokenRows(rows pgx.Rows) ([]*models.PasswordResetToken, error) {
	defer rows.Close()

	tokens := make([]*models.PasswordResetToken, 0)

	for rows.Next() {
		token, err := scanResetTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan password reset token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token rows: %w", err)
	}

	return tokens, nil
}

func (r *PasswordResetTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	query := `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, token_hash, expires_at, used_at, created_at
	`

	token, err := scanResetTokenRow(r.pool.QueryRow(ctx, query, userID, tokenHash, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create password reset token: %w", err)
	}

	return token, nil
}

// FindActive returns every unused token that has not expired at now
func (r *PasswordResetTokenRepository) FindActive(ctx context.Context, now time.Time) ([]*models.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE used_at IS NULL AND expires_at > $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active reset tokens: %w", err)
	}

	return scanResetTokenRows(rows)
}

// MarkUsed consumes the token. It returns ErrNotFound when the token is
// missing or was already consumed, so only one caller can win.
func (r *PasswordResetTokenRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	return markResetTokenUsed(ctx, r.pool, id, usedAt)
}

// Redeem consumes the token and stores the owner's new password hash in one
// transaction. The token row stays locked until commit, so a concurrent
// redemption of the same token waits and then stores nothing.
// ErrInvalidToken means the token was already consumed; ErrNotFound means
// the account is gone.
func (r *PasswordResetTokenRepository) Redeem(ctx context.Context, tokenID, userID, passwordHash string, changedAt time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := markResetTokenUsed(ctx, tx, tokenID, changedAt); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return models.ErrInvalidToken
			}
			return err
		}

		query := `
			UPDATE users SET password_hash = $1, password_changed_at = $2, updated_at = $2
			WHERE id = $3
		`
		result, err := tx.Exec(ctx, query, passwordHash, changedAt, userID)
		if err != nil {
			return fmt.Errorf("failed to update password: %w", database.MapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func markResetTokenUsed(ctx context.Context, q execer, id string, usedAt time.Time) error {
	query := `
		UPDATE password_reset_tokens
		SET used_at = $1
		WHERE id = $2 AND used_at IS NULL
	`

	result, err := q.Exec(ctx, query, usedAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark reset token as used: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// InvalidateForUser marks all of the user's outstanding tokens used
func (r *PasswordResetTokenRepository) InvalidateForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		UPDATE password_reset_tokens
		SET used_at = $1
		WHERE user_id = $2 AND used_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, now, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate reset tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

// CleanupExpired deletes tokens that expired before now
func (r *PasswordResetTokenRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE expires_at < $1`

	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired reset tokens: %w", err)
	}

	return result.RowsAffected(), nil
}
