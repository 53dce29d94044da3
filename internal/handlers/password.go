package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/airwaves/stationcms/internal/auth"
	"github.com/airwaves/stationcms/internal/models"
	"github.com/airwaves/stationcms/internal/services"
	pkghttp "github.com/airwaves/stationcms/pkg/http"
	pkglogger "github.com/airwaves/stationcms/pkg/logger"
)

// Response messages. The reset request message is identical for every email.
const (
	MsgPasswordChanged = "Password changed successfully. Please sign in again."
	MsgResetRequested  = "If an account exists for that email, a password reset link has been sent."
	MsgResetCompleted  = "Password has been reset successfully. Please sign in with your new password."
	MsgInvalidToken    = "Reset link is invalid or has expired"
	MsgPolicyViolation = "Password does not meet requirements"
	MsgWrongPassword   = "Current password is incorrect"
	MsgTooManyResets   = "Too many password reset requests. Please try again later."
	MsgInternalError   = "An unexpected error occurred"
)

// PasswordServiceInterface defines the password workflow used by the handler
type PasswordServiceInterface interface {
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*models.User, error)
	InitiatePasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, token, newPassword string) (*models.User, error)
}

// PasswordNotifier sends the "password changed" confirmation
type PasswordNotifier interface {
	SendPasswordChangedEmail(ctx context.Context, email string, changedAt time.Time) error
}

// PasswordHandler handles password change and reset requests
type PasswordHandler struct {
	service  PasswordServiceInterface
	notifier PasswordNotifier
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewPasswordHandler(service PasswordServiceInterface, notifier PasswordNotifier, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *PasswordHandler {
	return &PasswordHandler{
		service:  service,
		notifier: notifier,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// ChangePasswordRequest is the body of POST /auth/password/change.
// newPassword is checked by the password policy, not by tags.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword"`
}

// ForgotPasswordRequest is the body of POST /auth/password/forgot
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ResetPasswordRequest is the body of POST /auth/password/reset
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword handles an authenticated password change
// @Summary Change password
// @Accept json
// @Param request body ChangePasswordRequest true "Change password request"
// @Produce json
// @Success 200 {object} pkghttp.MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/password/change [post]
func (h *PasswordHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ctx := h.requestContext(r)
	user, err := h.service.ChangePassword(ctx, claims.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.writePasswordError(w, err)
		return
	}

	h.notifyChanged(ctx, user)
	pkghttp.WriteMessage(w, MsgPasswordChanged)
}

// RequestPasswordReset starts the reset flow. The response is the same
// whether or not the email belongs to an account.
// @Summary Request password reset
// @Accept json
// @Param request body ForgotPasswordRequest true "Forgot password request"
// @Produce json
// @Success 200 {object} pkghttp.MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/password/forgot [post]
func (h *PasswordHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.InitiatePasswordReset(h.requestContext(r), req.Email); err != nil {
		h.writePasswordError(w, err)
		return
	}

	pkghttp.WriteMessage(w, MsgResetRequested)
}

// CompletePasswordReset redeems a reset token
// @Summary Complete password reset
// @Accept json
// @Param request body ResetPasswordRequest true "Reset password request"
// @Produce json
// @Success 200 {object} pkghttp.MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/password/reset [post]
func (h *PasswordHandler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx := h.requestContext(r)
	user, err := h.service.CompletePasswordReset(ctx, req.Token, req.NewPassword)
	if err != nil {
		h.writePasswordError(w, err)
		return
	}

	h.notifyChanged(ctx, user)
	pkghttp.WriteMessage(w, MsgResetCompleted)
}

func (h *PasswordHandler) requestContext(r *http.Request) context.Context {
	return services.WithClientIP(r.Context(), pkghttp.ExtractClientIP(r, h.ipConfig))
}

// notifyChanged never fails the request; the password is already stored
func (h *PasswordHandler) notifyChanged(ctx context.Context, user *models.User) {
	if h.notifier == nil || user == nil {
		return
	}

	changedAt := time.Now()
	if user.PasswordChangedAt != nil {
		changedAt = *user.PasswordChangedAt
	}

	if err := h.notifier.SendPasswordChangedEmail(ctx, user.Email, changedAt); err != nil {
		h.logger.WarnContext(ctx, "password change confirmation not delivered",
			slog.String("user_id", user.ID),
			slog.String("email", pkglogger.SanitizedEmail(user.Email)),
			slog.Any("error", err))
	}
}

func (h *PasswordHandler) writePasswordError(w http.ResponseWriter, err error) {
	var vErr *models.ValidationError
	var rlErr *models.RateLimitError

	switch {
	case errors.As(err, &vErr):
		pkghttp.WriteValidationError(w, MsgPolicyViolation, vErr.Errors)
	case errors.As(err, &rlErr):
		pkghttp.WriteRateLimited(w, MsgTooManyResets, rlErr.RetryAfterSeconds)
	case errors.Is(err, models.ErrInvalidCurrentPassword):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCurrentPassword, MsgWrongPassword)
	case errors.Is(err, models.ErrInvalidToken):
		pkghttp.WriteError(w, http.StatusBadRequest, pkghttp.CodeInvalidToken, MsgInvalidToken)
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "unauthorized")
	default:
		pkghttp.WriteInternalError(w, MsgInternalError)
	}
}
