package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

// DefaultContextKey is the router locals key the request gate stores the caller under
const DefaultContextKey = "caller"

var callerCtxKey = &contextKey{"caller"}

type contextKey struct {
	name string
}

// Caller is the identity attached to a request after its access token was
// verified. It is a value: pass it around, never mutate shared copies.
type Caller struct {
	UserID     string `json:"user_id"`
	GlobalRole Role   `json:"role"`
}

// IsZero reports whether no identity is present
func (c Caller) IsZero() bool {
	return c.UserID == ""
}

// IsGlobalAdmin reports whether the caller holds the admin global role
func (c Caller) IsGlobalAdmin() bool {
	return c.GlobalRole == RoleAdmin
}

// WithCaller sets the Caller in the given context
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey, caller)
}

// CallerFromContext finds the caller in the context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerCtxKey).(Caller)
	if !ok || caller.IsZero() {
		return Caller{}, false
	}
	return caller, true
}

// GetRouterCaller extracts the Caller from the router context locals
func GetRouterCaller(ctx router.Context, key string) (Caller, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	caller, ok := ctx.Locals(key).(Caller)
	if !ok || caller.IsZero() {
		return Caller{}, false
	}
	return caller, true
}

// requestCaller reads the caller from locals under key, then from the
// request context the gate enriches.
func requestCaller(ctx router.Context, key string) (Caller, bool) {
	if caller, ok := GetRouterCaller(ctx, key); ok {
		return caller, true
	}
	return CallerFromContext(ctx.Context())
}
