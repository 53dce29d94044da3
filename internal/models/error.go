package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Password workflow errors
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	ErrInvalidToken           = errors.New("invalid or expired reset token")
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrValidation             = errors.New("validation failed")
)

// ValidationError carries every password policy rule that was violated.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("password validation failed: %d rule(s) violated", len(e.Errors))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// RateLimitError reports a blocked reset request and when to try again.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}
