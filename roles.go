package auth

// Role is both the global role on a user and the scoped role on a membership
type Role string

const (
	// RoleNone is the resolved role of a caller with no relationship to a resource
	RoleNone Role = ""
	// RoleMember can read a project and toggle work item status
	RoleMember Role = "member"
	// RoleProjectAdmin manages project content
	RoleProjectAdmin Role = "project_admin"
	// RoleAdmin can do everything, on every project when held globally
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is one of the assignable roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleProjectAdmin, RoleMember:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	return string(r)
}

// ParseRole maps a stored or claimed value to a Role, RoleNone if unknown
func ParseRole(s string) Role {
	r := Role(s)
	if r.IsValid() {
		return r
	}
	return RoleNone
}

// Action is an operation on a project or its content
type Action string

const (
	ActionRead          Action = "read"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionUpdateStatus  Action = "update_status"
	ActionDeleteContent Action = "delete_content"
	ActionDelete        Action = "delete"
	ActionManageMembers Action = "manage_members"
)

// ActionCreateResource is checked against the global role only, there is
// no resource to resolve a membership for yet.
const ActionCreateResource Action = "create_resource"

// capabilities is the single table every decision is read from.
var capabilities = map[Action][]Role{
	ActionRead:           {RoleAdmin, RoleProjectAdmin, RoleMember},
	ActionUpdateStatus:   {RoleAdmin, RoleProjectAdmin, RoleMember},
	ActionCreate:         {RoleAdmin, RoleProjectAdmin},
	ActionUpdate:         {RoleAdmin, RoleProjectAdmin},
	ActionDeleteContent:  {RoleAdmin, RoleProjectAdmin},
	ActionDelete:         {RoleAdmin},
	ActionManageMembers:  {RoleAdmin},
	ActionCreateResource: {RoleAdmin},
}

// Authorize returns true if role may perform action. RoleNone and unknown
// actions are always denied.
func Authorize(role Role, action Action) bool {
	if role == RoleNone {
		return false
	}
	for _, allowed := range capabilities[action] {
		if allowed == role {
			return true
		}
	}
	return false
}

// Actions lists the actions a role is allowed to perform on a resource
func Actions(role Role) []Action {
	out := make([]Action, 0, len(capabilities))
	for _, action := range []Action{
		ActionRead,
		ActionUpdateStatus,
		ActionCreate,
		ActionUpdate,
		ActionDeleteContent,
		ActionDelete,
		ActionManageMembers,
	} {
		if Authorize(role, action) {
			out = append(out, action)
		}
	}
	return out
}
