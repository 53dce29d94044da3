package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/airwaves/stationcms/internal/auth"
	"github.com/airwaves/stationcms/internal/models"
	"github.com/airwaves/stationcms/internal/services"
	pkghttp "github.com/airwaves/stationcms/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertErrorResponse checks that response is a valid error response and returns it
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// AssertMessageResponse checks a 200 generic message body
func AssertMessageResponse(t *testing.T, w *httptest.ResponseRecorder, expectedMessage string) {
	assert.Equal(t, http.StatusOK, w.Code, "Response status mismatch")

	var resp pkghttp.MessageResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode message response")
	assert.Equal(t, expectedMessage, resp.Message)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockPasswordService implements PasswordServiceInterface for testing
type MockPasswordService struct {
	ChangePasswordFunc        func(ctx context.Context, userID, currentPassword, newPassword string) (*models.User, error)
	InitiatePasswordResetFunc func(ctx context.Context, email string) error
	CompletePasswordResetFunc func(ctx context.Context, token, newPassword string) (*models.User, error)
}

func (m *MockPasswordService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*models.User, error) {
	if m.ChangePasswordFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword)
}

func (m *MockPasswordService) InitiatePasswordReset(ctx context.Context, email string) error {
	if m.InitiatePasswordResetFunc == nil {
		return nil
	}
	return m.InitiatePasswordResetFunc(ctx, email)
}

func (m *MockPasswordService) CompletePasswordReset(ctx context.Context, token, newPassword string) (*models.User, error) {
	if m.CompletePasswordResetFunc == nil {
		return nil, models.ErrInvalidToken
	}
	return m.CompletePasswordResetFunc(ctx, token, newPassword)
}

// MockNotifier implements PasswordNotifier for testing
type MockNotifier struct {
	SendFunc func(ctx context.Context, email string, changedAt time.Time) error
	calls    []string
}

func (m *MockNotifier) SendPasswordChangedEmail(ctx context.Context, email string, changedAt time.Time) error {
	m.calls = append(m.calls, email)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, email, changedAt)
	}
	return nil
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc func(ctx context.Context, email, password string) (*services.AuthResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password)
}
