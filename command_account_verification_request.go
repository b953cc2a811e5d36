package auth

import (
	"context"
	"time"

	command "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// AccountVerificationRequestMessage asks for a new email verification link
type AccountVerificationRequestMessage struct {
	Email string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
}

func (p AccountVerificationRequestMessage) Type() string { return "user.verification.request" }

type AccountVerificationRequestHandler struct {
	*sessionDeps
}

var _ command.Commander[AccountVerificationRequestMessage] = (*AccountVerificationRequestHandler)(nil)

func NewAccountVerificationRequestHandler(deps *sessionDeps) *AccountVerificationRequestHandler {
	return &AccountVerificationRequestHandler{sessionDeps: deps}
}

func (h *AccountVerificationRequestHandler) Execute(ctx context.Context, event AccountVerificationRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *AccountVerificationRequestHandler) execute(ctx context.Context, event AccountVerificationRequestMessage) error {
	email := NormalizeEmail(event.Email)
	if email == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var user *User
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

		if user.Verified {
			return ErrAlreadyVerified
		}
		return nil
	})

	if err != nil {
		return asRichError(err, "failed to request account verification")
	}

	if user == nil {
		return nil
	}

	return sendVerification(ctx, h.sessionDeps, user)
}

// sendVerification replaces any live verification token for user with a
// fresh one and mails the link
func sendVerification(ctx context.Context, d *sessionDeps, user *User) error {
	var secret string

	err := d.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ledger := ledgerInTx(d.repo.Tokens(), tx)
		if err := ledger.RevokeAllForUser(ctx, user.ID, TokenKindVerifyEmail); err != nil {
			return err
		}

		var err error
		secret, _, err = d.issueSecret(ctx, ledger, user.ID, TokenKindVerifyEmail, d.settings.EmailVerificationTTL)
		return err
	})
	if err != nil {
		return asRichError(err, "failed to issue verification token")
	}

	d.send(ctx, user.Email,
		"Verify your email",
		"Confirm your email address with the link below.\n"+
			buildLink(d.settings.PublicURL, "/verify-email/", secret),
	)

	d.record(ctx, ActivityEvent{
		EventType: ActivityEventVerificationSent,
		Actor:     userActor(user.ID.String()),
		UserID:    user.ID.String(),
	})

	return nil
}
