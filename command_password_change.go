package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	command "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ChangePasswordMessage struct {
	UserID      string `json:"-"`
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (p ChangePasswordMessage) Type() string { return "user.password.change" }

// Validate will run validation rules
func (p ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.OldPassword, validation.Required),
		validation.Field(&p.NewPassword, validation.Required, PasswordRule(defaultMinPasswordLength)),
	)
}

type ChangePasswordHandler struct {
	*sessionDeps
}

var _ command.Commander[ChangePasswordMessage] = (*ChangePasswordHandler)(nil)

func NewChangePasswordHandler(deps *sessionDeps) *ChangePasswordHandler {
	return &ChangePasswordHandler{sessionDeps: deps}
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	id, err := uuid.Parse(event.UserID)
	if err != nil {
		return ErrMissingCaller
	}

	if err := event.Validate(); err != nil {
		return ValidationError(err)
	}

	if err := h.validatePassword(event.NewPassword); err != nil {
		return err
	}

	hash, err := h.hasher.HashPassword(event.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByUUIDTx(ctx, tx, id)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrNotFound
			}
			return err
		}

		if err := h.hasher.ComparePasswordAndHash(event.OldPassword, user.PasswordHash); err != nil {
			return ErrInvalidCredentials
		}

		return h.repo.Users().UpdatePasswordHashTx(ctx, tx, id, hash)
	})

	if err != nil {
		return asRichError(err, "failed to change password")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     userActor(event.UserID),
		UserID:    event.UserID,
	})

	return nil
}
