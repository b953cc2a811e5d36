package activitymap

import (
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	auth "github.com/goliatone/go-project-auth"
)

// Outcome of the action an activity describes
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

const defaultSource = "auth"

// Record is the wire shape published for every activity event. Reason is
// lifted out of the event metadata so consumers can alert on failed logins
// without knowing the metadata layout.
type Record struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Event      string         `json:"event"`
	Outcome    Outcome        `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorType  string         `json:"actor_type,omitempty"`
	SubjectID  string         `json:"subject_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*normalizer)

type normalizer struct {
	source string
	now    func() time.Time
	newID  func() string
	redact map[string]struct{}
}

// WithSource sets the source field, "auth" by default
func WithSource(source string) Option {
	return func(n *normalizer) {
		if s := strings.TrimSpace(source); s != "" {
			n.source = s
		}
	}
}

// WithClock stamps events that carry no timestamp
func WithClock(now func() time.Time) Option {
	return func(n *normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// WithRecordID replaces the random record ID generator
func WithRecordID(newID func() string) Option {
	return func(n *normalizer) {
		if newID != nil {
			n.newID = newID
		}
	}
}

// WithRedactedKeys drops metadata keys before publishing, in addition to
// "email" which is always dropped
func WithRedactedKeys(keys ...string) Option {
	return func(n *normalizer) {
		for _, k := range keys {
			n.redact[k] = struct{}{}
		}
	}
}

// Normalize converts an auth.ActivityEvent into a Record
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	n := normalizer{
		source: defaultSource,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		redact: map[string]struct{}{"email": {}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&n)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = n.now()
	}

	attrs := maps.Clone(event.Metadata)
	reason, _ := attrs["reason"].(string)
	delete(attrs, "reason")
	for k := range n.redact {
		delete(attrs, k)
	}
	if len(attrs) == 0 {
		attrs = nil
	}

	subject := strings.TrimSpace(event.UserID)
	actorID := strings.TrimSpace(event.Actor.ID)
	if actorID == "" {
		actorID = subject
	}
	if strings.Contains(actorID, "@") {
		actorID = auth.EmailFingerprint(actorID)
	}

	return Record{
		ID:         n.newID(),
		Source:     n.source,
		Event:      string(event.EventType),
		Outcome:    outcomeOf(event.EventType),
		Reason:     reason,
		ActorID:    actorID,
		ActorType:  strings.TrimSpace(event.Actor.Type),
		SubjectID:  subject,
		Attributes: attrs,
		OccurredAt: occurredAt,
	}
}

func outcomeOf(t auth.ActivityEventType) Outcome {
	if strings.HasSuffix(string(t), ".failure") {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
