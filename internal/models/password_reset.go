package models

import (
	"time"
)

// PasswordResetToken is a single-use reset credential. Only the bcrypt hash
// of the secret mailed to the user is stored.
type PasswordResetToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (t *PasswordResetToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

func (t *PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsValid reports whether the token is unused and unexpired at now.
func (t *PasswordResetToken) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.IsUsed()
}

// PasswordResetRateLimit counts reset requests for one normalized email
// within a window starting at WindowStart.
type PasswordResetRateLimit struct {
	Identifier   string
	AttemptCount int
	WindowStart  time.Time
	UpdatedAt    time.Time
}

// WindowLapsed reports whether the window of length window has ended at now.
func (r *PasswordResetRateLimit) WindowLapsed(now time.Time, window time.Duration) bool {
	return !now.Before(r.WindowStart.Add(window))
}
