package models

import (
	"time"
)

// Account roles
const (
	RoleUser   = "user"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// ValidRole reports whether role is one of the known account roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleEditor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	Role              string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt *time.Time // Sessions issued before this are rejected
}
