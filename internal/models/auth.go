package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims carried by a staff session token
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenTypeAccess marks session access tokens
const TokenTypeAccess = "access"
