package auth

import (
	"context"
	"time"

	command "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token    string `json:"token" doc:"Reset password secret"`
	Password string `json:"password" example:"some_secret_word" doc:"Password"`
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

type FinalizePasswordResetHandler struct {
	*sessionDeps
}

var _ command.Commander[FinalizePasswordResetMessage] = (*FinalizePasswordResetHandler)(nil)

func NewFinalizePasswordResetHandler(deps *sessionDeps) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{sessionDeps: deps}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

// execute consumes the reset token, revokes every refresh token and stores
// the new hash in one transaction. Ledgers that cannot join the transaction
// see the same order, so a failure leaves sessions revoked rather than a new
// password next to live sessions.
func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if event.Token == "" {
		return ErrTokenNotFound
	}

	if err := h.validatePassword(event.Password); err != nil {
		return err
	}

	passwordHash, err := h.hasher.HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var userID uuid.UUID

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ledger := ledgerInTx(h.repo.Tokens(), tx)

		var err error
		userID, err = ledger.ConsumeToken(ctx, TokenKindResetPassword, HashOpaqueSecret(event.Token))
		if err != nil {
			return err
		}

		if err := ledger.RevokeAllForUser(ctx, userID, TokenKindRefresh); err != nil {
			return err
		}

		if err := h.repo.Users().UpdatePasswordHashTx(ctx, tx, userID, passwordHash); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenNotFound
			}
			return err
		}

		return nil
	})

	if err != nil {
		return asRichError(err, "failed to finalize password reset")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     userActor(userID.String()),
		UserID:    userID.String(),
	})

	return nil
}
