package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Tokens() TokenLedger
	Memberships() MembershipStore
}

type mngr struct {
	db          *bun.DB
	users       Users
	tokens      TokenLedger
	memberships MembershipStore
}

type RepositoryManagerOption func(*mngr)

// WithTokenLedger replaces the SQL ledger, e.g. with the redis one
func WithTokenLedger(ledger TokenLedger) RepositoryManagerOption {
	return func(m *mngr) {
		if ledger != nil {
			m.tokens = ledger
		}
	}
}

func WithUsersOptions(opts ...UsersOption) RepositoryManagerOption {
	return func(m *mngr) {
		m.users = NewUsersRepository(m.db, opts...)
	}
}

func NewRepositoryManager(db *bun.DB, opts ...RepositoryManagerOption) RepositoryManager {
	m := &mngr{
		db:          db,
		users:       NewUsersRepository(db),
		tokens:      NewTokenLedger(db),
		memberships: NewMembershipsRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.tokens == nil {
		return errors.New("token ledger should be initialized")
	}

	if m.memberships == nil {
		return errors.New("repository memberships should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Tokens() TokenLedger {
	return m.tokens
}

func (m mngr) Memberships() MembershipStore {
	return m.memberships
}

// ledgerInTx binds the ledger to tx when it supports transactions. Other
// ledgers run outside of tx, callers order their writes to fail closed.
func ledgerInTx(ledger TokenLedger, tx bun.IDB) TokenLedger {
	if txl, ok := ledger.(TxTokenLedger); ok {
		return txl.WithTx(tx)
	}
	return ledger
}
