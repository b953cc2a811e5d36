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

type VerifyEmailMessage struct {
	Token string `json:"token" doc:"Email verification secret"`
}

func (p VerifyEmailMessage) Type() string { return "user.verification.confirm" }

type VerifyEmailHandler struct {
	*sessionDeps
}

var _ command.Commander[VerifyEmailMessage] = (*VerifyEmailHandler)(nil)

func NewVerifyEmailHandler(deps *sessionDeps) *VerifyEmailHandler {
	return &VerifyEmailHandler{sessionDeps: deps}
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	if event.Token == "" {
		return ErrTokenNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var userID uuid.UUID
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ledger := ledgerInTx(h.repo.Tokens(), tx)

		var err error
		userID, err = ledger.ConsumeToken(ctx, TokenKindVerifyEmail, HashOpaqueSecret(event.Token))
		if err != nil {
			return err
		}

		if err := h.repo.Users().MarkVerifiedTx(ctx, tx, userID, h.now()); err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrTokenNotFound
			}
			return err
		}

		// older links for the same account are now pointless
		return ledger.RevokeAllForUser(ctx, userID, TokenKindVerifyEmail)
	})

	if err != nil {
		return asRichError(err, "failed to verify email")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor:     userActor(userID.String()),
		UserID:    userID.String(),
	})

	return nil
}
