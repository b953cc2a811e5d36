package auth

import (
	"context"
)

// DecisionObserver is told about every authorization decision
type DecisionObserver interface {
	ObserveDecision(action Action, role Role, allowed bool)
}

type noopDecisionObserver struct{}

func (noopDecisionObserver) ObserveDecision(Action, Role, bool) {}

// Resolver computes the effective role of a caller on a project and turns
// it into allow/deny decisions through Authorize.
type Resolver struct {
	members  MembershipStore
	observer DecisionObserver
	logger   Logger
}

func NewResolver(members MembershipStore) *Resolver {
	return &Resolver{
		members:  members,
		observer: noopDecisionObserver{},
		logger:   defLogger{},
	}
}

func (r *Resolver) WithDecisionObserver(observer DecisionObserver) *Resolver {
	if observer != nil {
		r.observer = observer
	}
	return r
}

func (r *Resolver) WithLogger(logger Logger) *Resolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// ResolveRole returns admin for global admins without a store lookup,
// otherwise the membership role, or RoleNone when there is none. An error
// is only returned when the membership store failed.
func (r *Resolver) ResolveRole(ctx context.Context, caller Caller, resourceID string) (Role, error) {
	if caller.IsZero() {
		return RoleNone, nil
	}

	if caller.IsGlobalAdmin() {
		return RoleAdmin, nil
	}

	if resourceID == "" {
		return RoleNone, nil
	}

	role, ok, err := r.members.FindMembership(ctx, resourceID, caller.UserID)
	if err != nil {
		r.logger.Error("membership lookup failed for project %s: %v", resourceID, err)
		return RoleNone, asRichError(err, "failed to resolve role")
	}

	if !ok {
		return RoleNone, nil
	}
	return role, nil
}

// Check resolves the role and authorizes action. Callers without any role
// get ErrNotFound so the project's existence is not confirmed; callers with
// an insufficient role get ErrForbidden.
func (r *Resolver) Check(ctx context.Context, caller Caller, resourceID string, action Action) (Role, error) {
	role, err := r.ResolveRole(ctx, caller, resourceID)
	if err != nil {
		return RoleNone, err
	}

	allowed := Authorize(role, action)
	r.observer.ObserveDecision(action, role, allowed)

	if role == RoleNone {
		return RoleNone, ErrNotFound
	}

	if !allowed {
		return role, ErrForbidden
	}

	return role, nil
}

// CanCreateResource checks the global role only
func (r *Resolver) CanCreateResource(caller Caller) error {
	if caller.IsZero() {
		return ErrMissingCaller
	}

	allowed := Authorize(caller.GlobalRole, ActionCreateResource)
	r.observer.ObserveDecision(ActionCreateResource, caller.GlobalRole, allowed)

	if !allowed {
		return ErrForbidden
	}
	return nil
}

// Members lists the project members for callers allowed to read the project
func (r *Resolver) Members(ctx context.Context, caller Caller, resourceID string) ([]Membership, error) {
	if _, err := r.Check(ctx, caller, resourceID, ActionRead); err != nil {
		return nil, err
	}
	return r.members.ListMembers(ctx, resourceID)
}
