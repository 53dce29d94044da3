package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/airwaves/stationcms/internal/auth"
	"github.com/airwaves/stationcms/internal/models"
	pkgauth "github.com/airwaves/stationcms/pkg/auth"
)

// dummyPassword is hashed once so unknown accounts still cost one bcrypt compare
const dummyPassword = "timing-equalizer-not-a-real-password"

// UserResponse represents an account in HTTP responses
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// AuthResponse is returned from a successful login
type AuthResponse struct {
	AccessToken string        `json:"access_token"`
	ExpiresAt   string        `json:"expires_at"`
	User        *UserResponse `json:"user"`
}

// AuthService signs staff accounts in
type AuthService struct {
	users     UserRepository
	tm        *auth.TokenManager
	hasher    *pkgauth.Hasher
	audit     Auditor
	roles     []string
	timing    *auth.TimingDelay
	dummyHash string
	logger    *slog.Logger
}

// NewAuthService creates an AuthService. Only accounts holding one of roles
// may sign in.
func NewAuthService(users UserRepository, tm *auth.TokenManager, hasher *pkgauth.Hasher, audit Auditor, roles []string, timing *auth.TimingDelay, logger *slog.Logger) (*AuthService, error) {
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	return &AuthService{
		users:     users,
		tm:        tm,
		hasher:    hasher,
		audit:     audit,
		roles:     roles,
		timing:    timing,
		dummyHash: dummyHash,
		logger:    logger,
	}, nil
}

// Login authenticates email and password and returns a session token. Unknown
// accounts and wrong passwords both yield models.ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, email, password string) (resp *AuthResponse, err error) {
	start := time.Now()
	email = NormalizeIdentifier(email)
	entry := AuditEntry{EventType: models.AuditEventTypeLogin, Email: email, IPAddress: ClientIPFromContext(ctx)}
	defer func() {
		entry.Duration = time.Since(start)
		entry.Success = err == nil
		if err != nil {
			entry.FailureReason = failureReason(err)
		}
		if s.audit != nil {
			s.audit.Log(ctx, entry)
		}
	}()
	defer s.timing.WaitFrom(ctx, start)

	if email == "" || password == "" {
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByEmailWithRoles(ctx, email, s.roles)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.hasher.Verify(password, s.dummyHash)
			s.logger.InfoContext(ctx, "login failed: invalid credentials")
			return nil, models.ErrUnauthorized
		}
		s.logger.ErrorContext(ctx, "failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	entry.UserID = user.ID

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.InfoContext(ctx, "login failed: invalid credentials", slog.String("user_id", user.ID))
		return nil, models.ErrUnauthorized
	}

	accessToken, expiresAt, err := s.tm.GenerateAccessToken(user)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return &AuthResponse{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
		User:        UserModelToResponse(user),
	}, nil
}

// UserModelToResponse converts a User model to the HTTP representation
func UserModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}
