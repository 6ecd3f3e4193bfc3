package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are carried by session-bound access tokens.
// SessionID ties the token to a SessionSecurity record so logout takes effect immediately.
type TokenClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}
