package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningKeyID() string
	GetIssuer() string
	GetAudience() []string
	GetContextKey() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetPasswordResetTTL() time.Duration
	GetEmailVerificationTTL() time.Duration
	GetRotateRefreshTokens() bool
	GetRefreshCookieName() string
	GetRefreshCookiePath() string
	GetRefreshCookieSecure() bool
	GetLoginRateLimit() float64
	GetLoginBurst() int
	GetPublicURL() string
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Mailer delivers outbound messages. Delivery is fire and forget for the
// session flows: a failed send is logged and never rolls back a token.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MembershipStore is the read side of the project membership relation.
type MembershipStore interface {
	FindMembership(ctx context.Context, resourceID, userID string) (Role, bool, error)
	ListMembers(ctx context.Context, resourceID string) ([]Membership, error)
}

// Clock returns the current time. Components default to time.Now.
type Clock func() time.Time

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
