package auth

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistered           ActivityEventType = "auth.user.registered"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventLogout               ActivityEventType = "auth.logout"
	ActivityEventRefresh              ActivityEventType = "auth.refresh"
	ActivityEventEmailVerified        ActivityEventType = "auth.email.verified"
	ActivityEventVerificationSent     ActivityEventType = "auth.email.verification_sent"
	ActivityEventPasswordResetRequest ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess ActivityEventType = "auth.password.reset"
	ActivityEventPasswordChanged      ActivityEventType = "auth.password.changed"
)

// ActorRef identifies who triggered an event
type ActorRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// FanoutActivitySink forwards every event to all sinks and joins their errors
type FanoutActivitySink []ActivitySink

func (f FanoutActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

const (
	ActorTypeUser      = "user"
	ActorTypeAnonymous = "anonymous"
)

func userActor(userID string) ActorRef {
	return ActorRef{ID: userID, Type: ActorTypeUser}
}

// EmailFingerprint is a stable pseudonym for an email address. Activity
// events use it as the actor of anonymous callers so sinks can correlate
// attempts without receiving the address.
func EmailFingerprint(email string) string {
	sum := HashOpaqueSecret(NormalizeEmail(email))
	return "anon:" + sum[:16]
}
