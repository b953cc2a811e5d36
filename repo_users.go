package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Users is the credential store
type Users interface {
	repository.Repository[*User]

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	GetByUUID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUUIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error
	UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type users struct {
	repository.Repository[*User]
	db        *bun.DB
	useHashid bool
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

type UsersOption func(*users)

// WithHashidUserIDs derives new user ids from the normalized email
func WithHashidUserIDs(enabled bool) UsersOption {
	return func(u *users) {
		u.useHashid = enabled
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, a.mapLookupError(err, map[string]any{"email": NormalizeEmail(email)})
	}
	return record, nil
}

func (a *users) GetByUUID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.GetByUUIDTx(ctx, a.db, id)
}

func (a *users) GetByUUIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, a.mapLookupError(err, map[string]any{"id": id.String()})
	}
	return record, nil
}

func (a *users) mapLookupError(err error, meta map[string]any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.NewRecordNotFound().WithMetadata(meta)
	}
	return StoreError(err, "failed to load user").WithMetadata(meta)
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

// RegisterTx inserts an unverified user. Duplicate emails are rejected with
// ErrEmailTaken.
func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil {
		return nil, goerrors.New("user must not be nil", goerrors.CategoryBadInput)
	}

	user.Email = NormalizeEmail(user.Email)
	if !user.GlobalRole.IsValid() {
		user.GlobalRole = RoleMember
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
		if a.useHashid {
			if id, err := hashid.NewUUID(user.Email); err == nil {
				user.ID = id
			}
		}
	}

	if _, err := a.GetByEmailTx(ctx, tx, user.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !repository.IsRecordNotFound(err) {
		return nil, err
	}

	created, err := a.Repository.CreateTx(ctx, tx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, StoreError(err, "failed to create user")
	}

	return created, nil
}

// MarkVerifiedTx flips verified once, later calls leave the row untouched.
// A missing user is reported as record not found.
func (a *users) MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) error {
	at = at.UTC()
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("verified = ?", true).
		Set("verified_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id.String()).
		Where("verified = ?", false).
		Exec(ctx)
	if err != nil {
		return StoreError(err, "failed to mark user verified")
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	exists, err := tx.NewSelect().
		Model((*User)(nil)).
		Where("id = ?", id.String()).
		Exists(ctx)
	if err != nil {
		return StoreError(err, "failed to look up user")
	}
	if !exists {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{"id": id.String()})
	}
	return nil
}

func (a *users) UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	if passwordHash == "" {
		return ErrNoEmptyString
	}

	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return StoreError(err, "failed to update password")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("last_login_at = ?", at.UTC()).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return StoreError(err, "failed to track login")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
