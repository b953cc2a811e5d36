package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims is the access token payload
type JWTClaims struct {
	jwt.RegisteredClaims
	UID      string `json:"uid"`
	UserRole Role   `json:"role"`
}

// UserID returns the user ID
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// Role returns the global role
func (c *JWTClaims) Role() string {
	return string(c.UserRole)
}

// Caller returns the immutable identity carried by the token
func (c *JWTClaims) Caller() Caller {
	return Caller{UserID: c.UserID(), GlobalRole: c.UserRole}
}

// Expires returns the expiration time in UTC
func (c *JWTClaims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// IssuedAt returns the issued at time in UTC
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time.UTC()
}
