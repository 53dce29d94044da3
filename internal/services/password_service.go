package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/airwaves/stationcms/internal/auth"
	"github.com/airwaves/stationcms/internal/models"
	pkgauth "github.com/airwaves/stationcms/pkg/auth"
	pkglogger "github.com/airwaves/stationcms/pkg/logger"
)

// UserRepository is the slice of the account store the password workflow uses
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmailWithRoles(ctx context.Context, email string, roles []string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
}

// ResetRateLimiter throttles reset requests per email
type ResetRateLimiter interface {
	CheckRateLimit(ctx context.Context, identifier string) RateLimitResult
	RecordAttempt(ctx context.Context, identifier string)
}

// ResetTokenStore issues, verifies and consumes reset tokens
type ResetTokenStore interface {
	Issue(ctx context.Context, userID string) (*GeneratedResetToken, error)
	Verify(ctx context.Context, plaintext string) (*models.PasswordResetToken, error)
	Redeem(ctx context.Context, token *models.PasswordResetToken, passwordHash string, changedAt time.Time) error
}

// PasswordResetMailer delivers the reset link
type PasswordResetMailer interface {
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// Auditor records audit entries. Implementations must not fail the caller.
type Auditor interface {
	Log(ctx context.Context, entry AuditEntry)
}

// PasswordServiceConfig tunes the reset flow
type PasswordServiceConfig struct {
	ResetRoles      []string // roles allowed to reset by email
	MinResponseTime time.Duration
	ResponseJitter  time.Duration
}

// PasswordService implements authenticated change, reset initiation and
// reset completion
type PasswordService struct {
	users   UserRepository
	limiter ResetRateLimiter
	tokens  ResetTokenStore
	mailer  PasswordResetMailer
	hasher  *pkgauth.Hasher
	audit   Auditor
	timing  *auth.TimingDelay
	config  PasswordServiceConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewPasswordService(
	users UserRepository,
	limiter ResetRateLimiter,
	tokens ResetTokenStore,
	mailer PasswordResetMailer,
	hasher *pkgauth.Hasher,
	audit Auditor,
	config PasswordServiceConfig,
	logger *slog.Logger,
) *PasswordService {
	return &PasswordService{
		users:   users,
		limiter: limiter,
		tokens:  tokens,
		mailer:  mailer,
		hasher:  hasher,
		audit:   audit,
		timing: auth.NewTimingDelay(auth.TimingConfig{
			MinDuration: config.MinResponseTime,
			Jitter:      config.ResponseJitter,
		}),
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// ChangePassword replaces the password of a signed-in account after checking
// the current one. The returned account carries the new change timestamp.
func (s *PasswordService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (user *models.User, err error) {
	start := time.Now()
	entry := AuditEntry{EventType: models.AuditEventTypePasswordChange, UserID: userID, IPAddress: ClientIPFromContext(ctx)}
	defer func() { s.finishAudit(ctx, &entry, start, err) }()

	user, err = s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	entry.Email = user.Email

	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return nil, models.ErrInvalidCurrentPassword
	}

	if err := s.updatePassword(ctx, user, newPassword); err != nil {
		return nil, err
	}

	return user, nil
}

// InitiatePasswordReset starts a reset for email. It returns nil whether or
// not the address belongs to an eligible account. The only distinct failure
// is *models.RateLimitError.
func (s *PasswordService) InitiatePasswordReset(ctx context.Context, email string) (err error) {
	start := time.Now()
	identifier := NormalizeIdentifier(email)
	entry := AuditEntry{
		EventType: models.AuditEventTypePasswordResetRequest,
		Email:     identifier,
		IPAddress: ClientIPFromContext(ctx),
		Metadata:  models.AuditMetadata{},
	}
	defer func() { s.finishAudit(ctx, &entry, start, err) }()
	defer s.timing.WaitFrom(ctx, start)

	if result := s.limiter.CheckRateLimit(ctx, identifier); !result.Allowed {
		return &models.RateLimitError{RetryAfterSeconds: result.RetryAfterSeconds}
	}

	// Counted whether or not the account exists
	s.limiter.RecordAttempt(ctx, identifier)

	user, err := s.users.GetByEmailWithRoles(ctx, identifier, s.config.ResetRoles)
	if errors.Is(err, models.ErrNotFound) {
		entry.Metadata["email_exists"] = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	entry.UserID = user.ID
	entry.Metadata["email_exists"] = true

	issued, issueErr := s.tokens.Issue(ctx, user.ID)
	if issueErr != nil {
		// Only existing accounts reach this point, so the failure stays internal
		s.logger.ErrorContext(ctx, "failed to issue password reset token",
			slog.String("user_id", user.ID),
			slog.Any("error", issueErr))
		entry.Metadata["token_issued"] = false
		return nil
	}
	entry.Metadata["token_issued"] = true

	if mailErr := s.mailer.SendPasswordResetEmail(ctx, user.Email, issued.Plaintext, issued.ExpiresAt); mailErr != nil {
		s.logger.WarnContext(ctx, "password reset email not delivered",
			slog.String("user_id", user.ID),
			slog.String("email", pkglogger.SanitizedEmail(user.Email)),
			slog.Any("error", mailErr))
		entry.Metadata["email_sent"] = false
		return nil
	}
	entry.Metadata["email_sent"] = true

	return nil
}

// CompletePasswordReset redeems a reset token and sets newPassword. Every
// token problem, including a vanished account, is reported as
// models.ErrInvalidToken.
func (s *PasswordService) CompletePasswordReset(ctx context.Context, token, newPassword string) (user *models.User, err error) {
	start := time.Now()
	entry := AuditEntry{EventType: models.AuditEventTypePasswordResetComplete, IPAddress: ClientIPFromContext(ctx)}
	defer func() { s.finishAudit(ctx, &entry, start, err) }()

	resetToken, err := s.tokens.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			return nil, models.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to verify reset token: %w", err)
	}
	entry.UserID = resetToken.UserID

	user, err = s.users.GetByID(ctx, resetToken.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	entry.Email = user.Email

	hash, err := s.hashNewPassword(user, newPassword)
	if err != nil {
		return nil, err
	}

	changedAt := s.now().UTC()
	if err := s.tokens.Redeem(ctx, resetToken, hash, changedAt); err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidToken):
			s.logger.WarnContext(ctx, "reset token consumed concurrently",
				slog.String("user_id", user.ID),
				slog.String("token_id", resetToken.ID))
			return nil, models.ErrInvalidToken
		case errors.Is(err, models.ErrNotFound):
			return nil, models.ErrInvalidToken
		default:
			return nil, fmt.Errorf("failed to redeem reset token: %w", err)
		}
	}

	user.PasswordHash = hash
	user.PasswordChangedAt = &changedAt
	return user, nil
}

// updatePassword hashes a policy-checked password and stores it
func (s *PasswordService) updatePassword(ctx context.Context, user *models.User, newPassword string) error {
	hash, err := s.hashNewPassword(user, newPassword)
	if err != nil {
		return err
	}

	changedAt := s.now().UTC()
	if err := s.users.UpdatePassword(ctx, user.ID, hash, changedAt); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		return fmt.Errorf("failed to store password: %w", err)
	}

	user.PasswordHash = hash
	user.PasswordChangedAt = &changedAt
	return nil
}

// hashNewPassword validates against the policy with the account email as the
// forbidden value
func (s *PasswordService) hashNewPassword(user *models.User, newPassword string) (string, error) {
	if result := pkgauth.ValidatePassword(newPassword, user.Email); !result.IsValid {
		return "", &models.ValidationError{Errors: result.Errors}
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

func (s *PasswordService) finishAudit(ctx context.Context, entry *AuditEntry, start time.Time, err error) {
	entry.Duration = time.Since(start)
	entry.Success = err == nil
	if err != nil {
		entry.FailureReason = failureReason(err)
		if entry.FailureReason == "server_error" {
			s.logger.ErrorContext(ctx, "password operation failed",
				slog.String("event_type", entry.EventType),
				slog.String("user_id", entry.UserID),
				slog.Duration("duration", entry.Duration),
				slog.Any("error", err))
		}
	}
	if s.audit != nil {
		s.audit.Log(ctx, *entry)
	}
}

func failureReason(err error) string {
	var rlErr *models.RateLimitError
	switch {
	case errors.As(err, &rlErr):
		return "rate_limited:retry_after=" + strconv.Itoa(rlErr.RetryAfterSeconds)
	case errors.Is(err, models.ErrInvalidCurrentPassword):
		return "invalid_current_password"
	case errors.Is(err, models.ErrValidation):
		return "validation_failed"
	case errors.Is(err, models.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	default:
		return "server_error"
	}
}
