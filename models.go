package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the credential record owned by the Users repository
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	GlobalRole    Role       `bun:"global_role,notnull" json:"role,omitempty"`
	Verified      bool       `bun:"verified,notnull" json:"verified"`
	VerifiedAt    *time.Time `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	LastLoginAt   *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Caller returns the identity value the request gate would attach for u
func (u *User) Caller() Caller {
	return Caller{UserID: u.ID.String(), GlobalRole: u.GlobalRole}
}

// PublicUser is the user shape returned over the wire
type PublicUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID.String(),
		Name:  u.Name,
		Email: u.Email,
		Role:  u.GlobalRole,
	}
}

// TokenKind tags ledger rows
type TokenKind string

const (
	TokenKindRefresh       TokenKind = "refresh"
	TokenKindVerifyEmail   TokenKind = "verify_email"
	TokenKindResetPassword TokenKind = "reset_password"
)

// SingleUse reports whether consuming a token of this kind deletes it
func (k TokenKind) SingleUse() bool {
	return k == TokenKindVerifyEmail || k == TokenKindResetPassword
}

func (k TokenKind) IsValid() bool {
	switch k {
	case TokenKindRefresh, TokenKindVerifyEmail, TokenKindResetPassword:
		return true
	default:
		return false
	}
}

// IssuedToken is a ledger row. Only the hash of the secret is stored.
type IssuedToken struct {
	bun.BaseModel `bun:"table:issued_tokens,alias:itk"`
	ID            string     `bun:"id,pk" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Kind          TokenKind  `bun:"kind,notnull" json:"kind"`
	SecretHash    string     `bun:"secret_hash,notnull" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Membership is a (project, user, role) triple owned by the resource store
type Membership struct {
	bun.BaseModel `bun:"table:project_members,alias:pm"`
	ProjectID     string     `bun:"project_id,pk" json:"project_id"`
	UserID        string     `bun:"user_id,pk" json:"user_id"`
	Role          Role       `bun:"role,notnull" json:"role"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// NormalizeEmail lower cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
