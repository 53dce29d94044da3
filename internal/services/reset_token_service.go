package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/airwaves/stationcms/internal/models"
	"github.com/airwaves/stationcms/pkg/auth"
)

// ResetTokenRepository is the storage capability behind reset tokens
type ResetTokenRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error)
	FindActive(ctx context.Context, now time.Time) ([]*models.PasswordResetToken, error)
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error
	Redeem(ctx context.Context, tokenID, userID, passwordHash string, changedAt time.Time) error
	InvalidateForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// DefaultResetTokenTTL is fixed at issue time and never extended
const DefaultResetTokenTTL = time.Hour

// GeneratedResetToken is a fresh secret with the hash that gets stored.
// Plaintext is only ever mailed, never persisted.
type GeneratedResetToken struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// ResetTokenService manages the reset token lifecycle
type ResetTokenService struct {
	repo   ResetTokenRepository
	hasher *auth.Hasher
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewResetTokenService(repo ResetTokenRepository, hasher *auth.Hasher, ttl time.Duration, logger *slog.Logger) *ResetTokenService {
	if ttl <= 0 {
		ttl = DefaultResetTokenTTL
	}
	return &ResetTokenService{
		repo:   repo,
		hasher: hasher,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Generate creates a random secret, its bcrypt hash and expiry
func (s *ResetTokenService) Generate() (*GeneratedResetToken, error) {
	plaintext, err := auth.GenerateResetToken()
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to hash reset token: %w", err)
	}

	return &GeneratedResetToken{
		Plaintext: plaintext,
		Hash:      hash,
		ExpiresAt: s.now().Add(s.ttl),
	}, nil
}

// Issue invalidates the user's outstanding tokens and stores a new one.
// Invalidation is issued first so two tokens are never redeemable at once.
func (s *ResetTokenService) Issue(ctx context.Context, userID string) (*GeneratedResetToken, error) {
	generated, err := s.Generate()
	if err != nil {
		return nil, err
	}

	if err := s.InvalidateForAccount(ctx, userID); err != nil {
		return nil, err
	}

	if _, err := s.repo.Create(ctx, userID, generated.Hash, generated.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to store reset token: %w", err)
	}

	return generated, nil
}

// Verify finds the outstanding token matching plaintext. Hashes are salted,
// so every active token is compared in turn. Returns ErrInvalidToken if none
// match.
func (s *ResetTokenService) Verify(ctx context.Context, plaintext string) (*models.PasswordResetToken, error) {
	if plaintext == "" {
		return nil, models.ErrInvalidToken
	}

	now := s.now()
	candidates, err := s.repo.FindActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load active reset tokens: %w", err)
	}

	for _, candidate := range candidates {
		if !candidate.IsValid(now) {
			continue
		}
		if s.hasher.Verify(plaintext, candidate.TokenHash) {
			return candidate, nil
		}
	}

	return nil, models.ErrInvalidToken
}

// MarkUsed consumes a token. ErrNotFound means it was already consumed.
func (s *ResetTokenService) MarkUsed(ctx context.Context, tokenID string) error {
	return s.repo.MarkUsed(ctx, tokenID, s.now())
}

// Redeem consumes token and stores passwordHash for its account as one
// atomic step. ErrInvalidToken means another redemption won.
func (s *ResetTokenService) Redeem(ctx context.Context, token *models.PasswordResetToken, passwordHash string, changedAt time.Time) error {
	return s.repo.Redeem(ctx, token.ID, token.UserID, passwordHash, changedAt)
}

func (s *ResetTokenService) InvalidateForAccount(ctx context.Context, userID string) error {
	count, err := s.repo.InvalidateForUser(ctx, userID, s.now())
	if err != nil {
		return fmt.Errorf("failed to invalidate reset tokens: %w", err)
	}
	if count > 0 {
		s.logger.DebugContext(ctx, "invalidated outstanding reset tokens",
			slog.String("user_id", userID),
			slog.Int64("count", count))
	}
	return nil
}

// CleanupExpired deletes tokens past their expiry
func (s *ResetTokenService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.repo.CleanupExpired(ctx, s.now())
}
