package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenLedger tracks hashes of refresh, email verification and password
// reset secrets. Implementations must make ConsumeToken on single use kinds
// an atomic delete-and-return, and must report store failures as errors
// distinct from ErrTokenNotFound.
type TokenLedger interface {
	RecordToken(ctx context.Context, userID uuid.UUID, kind TokenKind, secretHash string, expiresAt time.Time) error
	ConsumeToken(ctx context.Context, kind TokenKind, secretHash string) (uuid.UUID, error)
	// TakeToken deletes and returns a live token of any kind in one step.
	// Of two concurrent calls for the same hash at most one succeeds.
	TakeToken(ctx context.Context, kind TokenKind, secretHash string) (uuid.UUID, error)
	RevokeToken(ctx context.Context, kind TokenKind, secretHash string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, kind TokenKind) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// TxTokenLedger is a ledger that can join a bun transaction
type TxTokenLedger interface {
	TokenLedger
	WithTx(tx bun.IDB) TokenLedger
}

type tokenLedger struct {
	db  bun.IDB
	now Clock
}

var _ TxTokenLedger = (*tokenLedger)(nil)

type TokenLedgerOption func(*tokenLedger)

func WithLedgerClock(clock Clock) TokenLedgerOption {
	return func(l *tokenLedger) {
		if clock != nil {
			l.now = clock
		}
	}
}

// NewTokenLedger returns a SQL backed ledger
func NewTokenLedger(db bun.IDB, opts ...TokenLedgerOption) TxTokenLedger {
	l := &tokenLedger{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *tokenLedger) WithTx(tx bun.IDB) TokenLedger {
	return &tokenLedger{db: tx, now: l.now}
}

func (l *tokenLedger) RecordToken(ctx context.Context, userID uuid.UUID, kind TokenKind, secretHash string, expiresAt time.Time) error {
	if !kind.IsValid() {
		return goerrors.New("unknown token kind", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": kind})
	}

	if secretHash == "" || userID == uuid.Nil {
		return goerrors.New("token owner and hash are required", goerrors.CategoryBadInput)
	}

	now := l.now().UTC()
	row := &IssuedToken{
		ID:         newTokenID(now),
		UserID:     userID,
		Kind:       kind,
		SecretHash: secretHash,
		ExpiresAt:  expiresAt.UTC(),
		CreatedAt:  &now,
	}

	if _, err := l.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return StoreError(err, "failed to record token")
	}

	return nil
}

func (l *tokenLedger) ConsumeToken(ctx context.Context, kind TokenKind, secretHash string) (uuid.UUID, error) {
	if kind.SingleUse() {
		return l.TakeToken(ctx, kind, secretHash)
	}

	if secretHash == "" {
		return uuid.Nil, ErrTokenNotFound
	}

	row := &IssuedToken{}
	err := l.db.NewSelect().
		Model(row).
		Where("kind = ?", kind).
		Where("secret_hash = ?", secretHash).
		Where("expires_at > ?", l.now().UTC()).
		Limit(1).
		Scan(ctx)

	return tokenOwner(row, err)
}

func (l *tokenLedger) TakeToken(ctx context.Context, kind TokenKind, secretHash string) (uuid.UUID, error) {
	if secretHash == "" {
		return uuid.Nil, ErrTokenNotFound
	}

	row := &IssuedToken{}
	err := l.db.NewDelete().
		Model(row).
		Where("kind = ?", kind).
		Where("secret_hash = ?", secretHash).
		Where("expires_at > ?", l.now().UTC()).
		Returning("*").
		Scan(ctx)

	return tokenOwner(row, err)
}

func tokenOwner(row *IssuedToken, err error) (uuid.UUID, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrTokenNotFound
		}
		return uuid.Nil, StoreError(err, "failed to look up token")
	}

	if row.UserID == uuid.Nil {
		return uuid.Nil, ErrTokenNotFound
	}

	return row.UserID, nil
}

func (l *tokenLedger) RevokeToken(ctx context.Context, kind TokenKind, secretHash string) error {
	if secretHash == "" {
		return nil
	}

	_, err := l.db.NewDelete().
		Model((*IssuedToken)(nil)).
		Where("kind = ?", kind).
		Where("secret_hash = ?", secretHash).
		Exec(ctx)
	if err != nil {
		return StoreError(err, "failed to revoke token")
	}
	return nil
}

func (l *tokenLedger) RevokeAllForUser(ctx context.Context, userID uuid.UUID, kind TokenKind) error {
	_, err := l.db.NewDelete().
		Model((*IssuedToken)(nil)).
		Where("user_id = ?", userID).
		Where("kind = ?", kind).
		Exec(ctx)
	if err != nil {
		return StoreError(err, "failed to revoke user tokens").
			WithMetadata(map[string]any{"user_id": userID.String(), "kind": kind})
	}
	return nil
}

func (l *tokenLedger) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := l.db.NewDelete().
		Model((*IssuedToken)(nil)).
		Where("expires_at <= ?", l.now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, StoreError(err, "failed to purge expired tokens")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
