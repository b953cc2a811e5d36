package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-project-auth"
)

func TestAuthorize_CapabilityTable(t *testing.T) {
	tests := []struct {
		action auth.Action
		admin  bool
		pa     bool
		member bool
	}{
		{auth.ActionRead, true, true, true},
		{auth.ActionUpdateStatus, true, true, true},
		{auth.ActionCreate, true, true, false},
		{auth.ActionUpdate, true, true, false},
		{auth.ActionDeleteContent, true, true, false},
		{auth.ActionDelete, true, false, false},
		{auth.ActionManageMembers, true, false, false},
		{auth.ActionCreateResource, true, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.admin, auth.Authorize(auth.RoleAdmin, tt.action))
			assert.Equal(t, tt.pa, auth.Authorize(auth.RoleProjectAdmin, tt.action))
			assert.Equal(t, tt.member, auth.Authorize(auth.RoleMember, tt.action))
			assert.False(t, auth.Authorize(auth.RoleNone, tt.action))
		})
	}
}

func TestAuthorize_UnknownInputsDenied(t *testing.T) {
	assert.False(t, auth.Authorize(auth.RoleAdmin, auth.Action("launch_missiles")))
	assert.False(t, auth.Authorize(auth.Role("owner"), auth.ActionRead))
}

func TestActions(t *testing.T) {
	assert.Empty(t, auth.Actions(auth.RoleNone))
	assert.Equal(t, []auth.Action{auth.ActionRead, auth.ActionUpdateStatus}, auth.Actions(auth.RoleMember))
	assert.Equal(t, []auth.Action{
		auth.ActionRead,
		auth.ActionUpdateStatus,
		auth.ActionCreate,
		auth.ActionUpdate,
		auth.ActionDeleteContent,
	}, auth.Actions(auth.RoleProjectAdmin))
	assert.Len(t, auth.Actions(auth.RoleAdmin), 7)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, auth.RoleAdmin, auth.ParseRole("admin"))
	assert.Equal(t, auth.RoleProjectAdmin, auth.ParseRole("project_admin"))
	assert.Equal(t, auth.RoleMember, auth.ParseRole("member"))
	assert.Equal(t, auth.RoleNone, auth.ParseRole("ADMIN"))
	assert.Equal(t, auth.RoleNone, auth.ParseRole(""))

	assert.Equal(t, "none", auth.RoleNone.String())
	assert.False(t, auth.RoleNone.IsValid())
}
