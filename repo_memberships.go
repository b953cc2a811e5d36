package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

type memberships struct {
	db bun.IDB
}

var _ MembershipStore = (*memberships)(nil)

// NewMembershipsRepository reads project membership rows. Writes belong to
// the resource store that owns projects.
func NewMembershipsRepository(db bun.IDB) MembershipStore {
	return &memberships{db: db}
}

func (m *memberships) FindMembership(ctx context.Context, resourceID, userID string) (Role, bool, error) {
	row := &Membership{}
	err := m.db.NewSelect().
		Model(row).
		Where("?TableAlias.project_id = ?", resourceID).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RoleNone, false, nil
		}
		return RoleNone, false, StoreError(err, "failed to load membership").
			WithMetadata(map[string]any{"project_id": resourceID, "user_id": userID})
	}

	role := ParseRole(string(row.Role))
	if role == RoleNone {
		return RoleNone, false, nil
	}
	return role, true, nil
}

func (m *memberships) ListMembers(ctx context.Context, resourceID string) ([]Membership, error) {
	var rows []Membership
	err := m.db.NewSelect().
		Model(&rows).
		Where("?TableAlias.project_id = ?", resourceID).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, StoreError(err, "failed to list members").
			WithMetadata(map[string]any{"project_id": resourceID})
	}
	return rows, nil
}
