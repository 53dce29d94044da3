package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinBcryptCost     = 10
	DefaultBcryptCost = 12
	MinPasswordLen    = 8
	// bcrypt refuses to hash secrets longer than 72 bytes
	MaxPasswordBytes = 72
	ResetTokenBytes  = 32 // 256 bits, 64 hex characters
)

// SpecialCharacters is the set a password must draw at least one character from.
const SpecialCharacters = "!@#$%^&*()_+-=[]{}|;:,.<>?"

// Policy violation messages. Every violated rule is reported.
const (
	ErrMsgTooShort     = "Password must be at least 8 characters long"
	ErrMsgTooLong      = "Password must be at most 72 bytes long"
	ErrMsgNoUppercase  = "Password must contain at least one uppercase letter"
	ErrMsgNoLowercase  = "Password must contain at least one lowercase letter"
	ErrMsgNoDigit      = "Password must contain at least one number"
	ErrMsgNoSpecial    = "Password must contain at least one special character"
	ErrMsgMatchesEmail = "Password cannot be the same as your email address"
)

// ValidationResult is the outcome of checking a password against the policy.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// ValidatePassword checks password against every policy rule and collects all
// violations. email may be empty; when set, the password must not match it
// regardless of case.
func ValidatePassword(password, email string) ValidationResult {
	errors := make([]string, 0)

	if utf8.RuneCountInString(password) < MinPasswordLen {
		errors = append(errors, ErrMsgTooShort)
	}
	if len(password) > MaxPasswordBytes {
		errors = append(errors, ErrMsgTooLong)
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(SpecialCharacters, r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errors = append(errors, ErrMsgNoUppercase)
	}
	if !hasLower {
		errors = append(errors, ErrMsgNoLowercase)
	}
	if !hasDigit {
		errors = append(errors, ErrMsgNoDigit)
	}
	if !hasSpecial {
		errors = append(errors, ErrMsgNoSpecial)
	}

	if email != "" && strings.EqualFold(password, email) {
		errors = append(errors, ErrMsgMatchesEmail)
	}

	return ValidationResult{
		IsValid: len(errors) == 0,
		Errors:  errors,
	}
}

// Hasher wraps bcrypt with a configurable work factor. The same primitive
// hashes passwords and reset token secrets.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using cost, raised to MinBcryptCost if lower.
func NewHasher(cost int) *Hasher {
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Cost() int {
	return h.cost
}

// Hash produces a salted bcrypt hash. Two calls on the same input differ.
func (h *Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hashedBytes), nil
}

// Verify reports whether secret matches hash. A malformed hash is a mismatch.
func (h *Hasher) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// GenerateResetToken returns a hex encoded random secret of ResetTokenBytes.
func GenerateResetToken() (string, error) {
	bytes := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
