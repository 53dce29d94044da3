package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/airwaves/stationcms/internal/models"
	"github.com/airwaves/stationcms/internal/services"
	pkghttp "github.com/airwaves/stationcms/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUserID = "6f1c1f5e-8e43-4a77-9d5a-0f4f6c0b2a11"
	testEmail  = "producer@kxyz.org"
)

func changedUser() *models.User {
	changedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.User{ID: testUserID, Email: testEmail, PasswordChangedAt: &changedAt}
}

func newTestPasswordHandler(svc *MockPasswordService, notifier *MockNotifier) *PasswordHandler {
	return NewPasswordHandler(svc, notifier, pkghttp.NewIPConfig(nil), testLogger())
}

func TestChangePassword_Success(t *testing.T) {
	notifier := &MockNotifier{}
	var gotUserID, gotCurrent, gotNew string
	handler := newTestPasswordHandler(&MockPasswordService{
		ChangePasswordFunc: func(ctx context.Context, userID, currentPassword, newPassword string) (*models.User, error) {
			gotUserID, gotCurrent, gotNew = userID, currentPassword, newPassword
			return changedUser(), nil
		},
	}, notifier)

	req := NewTestRequest(t, http.MethodPost, "/auth/password/change", map[string]string{
		"currentPassword": "OnAir#2024x",
		"newPassword":     "Fresh!Mix99",
	})
	req = WithAuthContext(req, testUserID, testEmail)
	w := httptest.NewRecorder()

	handler.ChangePassword(w, req)

	AssertMessageResponse(t, w, MsgPasswordChanged)
	assert.Equal(t, testUserID, gotUserID)
	assert.Equal(t, "OnAir#2024x", gotCurrent)
	assert.Equal(t, "Fresh!Mix99", gotNew)
	assert.Equal(t, []string{testEmail}, notifier.calls)
}

func TestChangePassword_RequiresSession(t *testing.T) {
	handler := newTestPasswordHandler(&MockPasswordService{}, &MockNotifier{})

	req := NewTestRequest(t, http.MethodPost, "/auth/password/change", map[string]string{
		"currentPassword": "OnAir#2024x",
		"newPassword":     "Fresh!Mix99",
	})
	w := httptest.NewRecorder()

	handler.ChangePassword(w, req)

	AssertErrorResponse(t, w, http.StatusUnauthorized, pkghttp.CodeUnauthorized)
}

func TestChangePassword_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"wrong current password", models.ErrInvalidCurrentPassword, http.StatusUnauthorized, pkghttp.CodeInvalidCurrentPassword},
		{"policy", &models.ValidationError{Errors: []string{"Password must contain at least one number"}}, http.StatusBadRequest, pkghttp.CodeValidationError},
		{"vanished account", models.ErrUnauthorized, http.StatusUnauthorized, pkghttp.CodeUnauthorized},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError, pkghttp.CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &MockNotifier{}
			handler := newTestPasswordHandler(&MockPasswordService{
				ChangePasswordFunc: func(ctx context.Context, userID, currentPassword, newPassword string) (*models.User, error) {
					return nil, tt.err
				},
			}, notifier)

			req := NewTestRequest(t, http.MethodPost, "/auth/password/change", map[string]string{
				"currentPassword": "OnAir#2024x",
				"newPassword":     "weak",
			})
			req = WithAuthContext(req, testUserID, testEmail)
			w := httptest.NewRecorder()

			handler.ChangePassword(w, req)

			resp := AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
			assert.Empty(t, notifier.calls)
			assert.NotContains(t, resp.Message, "connection reset")
		})
	}
}

func TestChangePassword_ValidationErrorListsRules(t *testing.T) {
	rules := []string{"Password must be at least 8 characters long", "Password must contain at least one number"}
	handler := newTestPasswordHandler(&MockPasswordService{
		ChangePasswordFunc: func(ctx context.Context, userID, currentPassword, newPassword string) (*models.User, error) {
			return nil, &models.ValidationError{Errors: rules}
		},
	}, &MockNotifier{})

	req := NewTestRequest(t, http.MethodPost, "/auth/password/change", map[string]string{
		"currentPassword": "OnAir#2024x",
		"newPassword":     "weak",
	})
	req = WithAuthContext(req, testUserID, testEmail)
	w := httptest.NewRecorder()

	handler.ChangePassword(w, req)

	resp := AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.CodeValidationError)
	assert.Equal(t, rules, resp.Errors)
}

func TestChangePassword_MissingCurrentPassword(t *testing.T) {
	handler := newTestPasswordHandler(&MockPasswordService{}, &MockNotifier{})

	req := NewTestRequest(t, http.MethodPost, "/auth/password/change", map[string]string{"newPassword": "Fresh!Mix99"})
	req = WithAuthContext(req, testUserID, testEmail)
	w := httptest.NewRecorder()

	handler.ChangePassword(w, req)

	resp := AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.CodeBadRequest)
	assert.Contains(t, resp.Message, "currentPassword")
}

func TestChangePassword_NotificationFailureIsAbsorbed(t *testing.T) {
	notifier := &MockNotifier{
		SendFunc: func(ctx context.Context, email string, changedAt time.Time) error {
			return errors.New("smtp down")
		},
	}
	handler := newTestPasswordHandler(&MockPasswordService{
		ChangePasswordFunc: func(ctx context.Context, userID, currentPassword, newPassword string) (*models.User, error) {
			return changedUser(), nil
		},
	}, notifier)

	req := NewTestRequest(t, http.MethodPost, "/auth/password/change", map[string]string{
		"currentPassword": "OnAir#2024x",
		"newPassword":     "Fresh!Mix99",
	})
	req = WithAuthContext(req, testUserID, testEmail)
	w := httptest.NewRecorder()

	handler.ChangePassword(w, req)

	AssertMessageResponse(t, w, MsgPasswordChanged)
	assert.Len(t, notifier.calls, 1)
}

func TestRequestPasswordReset_SameResponseForAnyEmail(t *testing.T) {
	var gotIP string
	handler := newTestPasswordHandler(&MockPasswordService{
		InitiatePasswordResetFunc: func(ctx context.Context, email string) error {
			gotIP = services.ClientIPFromContext(ctx)
			return nil
		},
	}, &MockNotifier{})

	var bodies []string
	for _, email := range []string{testEmail, "nobody@kxyz.org"} {
		req := NewTestRequest(t, http.MethodPost, "/auth/password/forgot", map[string]string{"email": email})
		req.RemoteAddr = "192.0.2.10:5555"
		w := httptest.NewRecorder()

		handler.RequestPasswordReset(w, req)

		AssertMessageResponse(t, w, MsgResetRequested)
		bodies = append(bodies, w.Body.String())
	}

	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, "192.0.2.10", gotIP)
}

func TestRequestPasswordReset_RateLimited(t *testing.T) {
	handler := newTestPasswordHandler(&MockPasswordService{
		InitiatePasswordResetFunc: func(ctx context.Context, email string) error {
			return &models.RateLimitError{RetryAfterSeconds: 720}
		},
	}, &MockNotifier{})

	req := NewTestRequest(t, http.MethodPost, "/auth/password/forgot", map[string]string{"email": testEmail})
	w := httptest.NewRecorder()

	handler.RequestPasswordReset(w, req)

	resp := AssertErrorResponse(t, w, http.StatusTooManyRequests, pkghttp.CodeRateLimitExceeded)
	assert.Equal(t, 720, resp.RetryAfter)
	assert.Equal(t, "720", w.Header().Get("Retry-After"))
}

func TestRequestPasswordReset_InvalidBody(t *testing.T) {
	handler := newTestPasswordHandler(&MockPasswordService{}, &MockNotifier{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"email":`},
		{"missing email", `{}`},
		{"not an email", `{"email":"not-an-email"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/password/forgot", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handler.RequestPasswordReset(w, req)

			AssertErrorResponse(t, w, http.StatusBadRequest, pkghttp.CodeBadRequest)
		})
	}
}

func TestCompletePasswordReset_Success(t *testing.T) {
	notifier := &MockNotifier{}
	var gotToken string
	handler := newTestPasswordHandler(&MockPasswordService{
		CompletePasswordResetFunc: func(ctx context.Context, token, newPassword string) (*models.User, error) {
			gotToken = token
			return changedUser(), nil
		},
	}, notifier)

	req := NewTestRequest(t, http.MethodPost, "/auth/password/reset", map[string]string{
		"token":       "abc123",
		"newPassword": "Fresh!Mix99",
	})
	w := httptest.NewRecorder()

	handler.CompletePasswordReset(w, req)

	AssertMessageResponse(t, w, MsgResetCompleted)
	assert.Equal(t, "abc123", gotToken)
	assert.Equal(t, []string{testEmail}, notifier.calls)
}

func TestCompletePasswordReset_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid token", models.ErrInvalidToken, http.StatusBadRequest, pkghttp.CodeInvalidToken},
		{"policy", &models.ValidationError{Errors: []string{"x"}}, http.StatusBadRequest, pkghttp.CodeValidationError},
		{"store failure", errors.New("boom"), http.StatusInternalServerError, pkghttp.CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestPasswordHandler(&MockPasswordService{
				CompletePasswordResetFunc: func(ctx context.Context, token, newPassword string) (*models.User, error) {
					return nil, tt.err
				},
			}, &MockNotifier{})

			req := NewTestRequest(t, http.MethodPost, "/auth/password/reset", map[string]string{
				"token":       "abc123",
				"newPassword": "Fresh!Mix99",
			})
			w := httptest.NewRecorder()

			handler.CompletePasswordReset(w, req)

			AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestNotifyChanged_NilNotifier(t *testing.T) {
	handler := NewPasswordHandler(&MockPasswordService{
		CompletePasswordResetFunc: func(ctx context.Context, token, newPassword string) (*models.User, error) {
			return changedUser(), nil
		},
	}, nil, pkghttp.NewIPConfig(nil), testLogger())

	req := NewTestRequest(t, http.MethodPost, "/auth/password/reset", map[string]string{"token": "t", "newPassword": "p"})
	w := httptest.NewRecorder()

	require.NotPanics(t, func() { handler.CompletePasswordReset(w, req) })
	AssertMessageResponse(t, w, MsgResetCompleted)
}
