package auth

import (
	"context"
	"time"

	command "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset.request" }

type InitializePasswordResetHandler struct {
	*sessionDeps
}

var _ command.Commander[InitializePasswordResetMessage] = (*InitializePasswordResetHandler)(nil)

func NewInitializePasswordResetHandler(deps *sessionDeps) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{sessionDeps: deps}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

// execute returns nil for unknown emails so callers cannot enumerate accounts
func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	email := NormalizeEmail(event.Email)
	if email == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var (
		user   *User
		secret string
	)

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = h.repo.Users().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				user = nil
				return nil
			}
			return err
		}

		ledger := ledgerInTx(h.repo.Tokens(), tx)
		if err := ledger.RevokeAllForUser(ctx, user.ID, TokenKindResetPassword); err != nil {
			return err
		}

		secret, _, err = h.issueSecret(ctx, ledger, user.ID, TokenKindResetPassword, h.settings.PasswordResetTTL)
		return err
	})

	if err != nil {
		return asRichError(err, "failed to initialize password reset")
	}

	if user == nil {
		h.getLogger().Debug("password reset requested for unknown email")
		return nil
	}

	h.send(ctx, user.Email,
		"Reset your password",
		"Use the link below to reset your password. It expires in "+h.settings.PasswordResetTTL.String()+".\n"+
			buildLink(h.settings.PublicURL, "/reset-password/", secret),
	)

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor:     userActor(user.ID.String()),
		UserID:    user.ID.String(),
	})

	return nil
}
