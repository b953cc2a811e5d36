package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	command "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	OnCreated func(*User) `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate will run validation rules
func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Email, validation.Required, validation.Length(3, 320), is.Email),
		validation.Field(&e.Password, validation.Required, PasswordRule(defaultMinPasswordLength)),
	)
}

type RegisterUserHandler struct {
	*sessionDeps
}

var _ command.Commander[RegisterUserMessage] = (*RegisterUserHandler)(nil)

func NewRegisterUserHandler(deps *sessionDeps) *RegisterUserHandler {
	return &RegisterUserHandler{sessionDeps: deps}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if err := event.Validate(); err != nil {
		return ValidationError(err)
	}

	if err := h.validatePassword(event.Password); err != nil {
		return err
	}

	hash, err := h.hasher.HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{
		Name:         event.Name,
		Email:        NormalizeEmail(event.Email),
		PasswordHash: hash,
		GlobalRole:   RoleMember,
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = created
		return nil
	})

	if err != nil {
		return asRichError(err, "user registration transaction failed")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventRegistered,
		Actor:     userActor(user.ID.String()),
		UserID:    user.ID.String(),
	})

	if err := sendVerification(ctx, h.sessionDeps, user); err != nil {
		h.getLogger().Error("failed to issue verification for new user %s: %v", user.ID, err)
	}

	if event.OnCreated != nil {
		event.OnCreated(user)
	}

	return nil
}
