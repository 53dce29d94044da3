package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordResetToken_IsValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	used := now.Add(-time.Minute)

	tests := []struct {
		name  string
		token PasswordResetToken
		want  bool
	}{
		{"fresh", PasswordResetToken{ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", PasswordResetToken{ExpiresAt: now.Add(-time.Second)}, false},
		{"expires exactly now", PasswordResetToken{ExpiresAt: now}, false},
		{"used", PasswordResetToken{ExpiresAt: now.Add(time.Hour), UsedAt: &used}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.IsValid(now))
		})
	}
}

func TestPasswordResetRateLimit_WindowLapsed(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := PasswordResetRateLimit{WindowStart: start}

	assert.False(t, rl.WindowLapsed(start.Add(14*time.Minute), 15*time.Minute))
	assert.True(t, rl.WindowLapsed(start.Add(15*time.Minute), 15*time.Minute))
}

func TestStructuredErrors_MatchSentinels(t *testing.T) {
	var err error = fmt.Errorf("wrapped: %w", &ValidationError{Errors: []string{"a", "b"}})
	assert.True(t, errors.Is(err, ErrValidation))

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Errors, 2)

	err = &RateLimitError{RetryAfterSeconds: 60}
	assert.True(t, errors.Is(err, ErrRateLimitExceeded))
	assert.Contains(t, err.Error(), "60")
}

func TestAuditMetadata_ScanAndValue(t *testing.T) {
	md := AuditMetadata{"email_exists": true}
	raw, err := md.Value()
	require.NoError(t, err)

	var scanned AuditMetadata
	require.NoError(t, scanned.Scan(raw))
	assert.Equal(t, true, scanned["email_exists"])

	var empty AuditMetadata
	require.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleEditor))
	assert.False(t, ValidRole("superuser"))
}
