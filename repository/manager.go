// Package repository holds storage backends that live outside the SQL
// database, and the factory that wires them into an auth.RepositoryManager.
package repository

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-project-auth"
)

const (
	LedgerDriverSQL   = "sql"
	LedgerDriverRedis = "redis"
)

// ManagerOptions selects the token ledger backend and user id strategy
type ManagerOptions struct {
	LedgerDriver  string
	Redis         redis.Cmdable
	KeyPrefix     string
	HashidUserIDs bool
	Clock         auth.Clock
}

// NewRepositoryManager builds the manager for db. With the redis driver the
// token ledger lives in Redis and is not part of SQL transactions.
func NewRepositoryManager(db *bun.DB, opts ManagerOptions) (auth.RepositoryManager, error) {
	managerOpts := []auth.RepositoryManagerOption{
		auth.WithUsersOptions(auth.WithHashidUserIDs(opts.HashidUserIDs)),
	}

	switch opts.LedgerDriver {
	case "", LedgerDriverSQL:
		if opts.Clock != nil {
			managerOpts = append(managerOpts, auth.WithTokenLedger(
				auth.NewTokenLedger(db, auth.WithLedgerClock(opts.Clock)),
			))
		}
	case LedgerDriverRedis:
		if opts.Redis == nil {
			return nil, goerrors.New("redis ledger requires a redis client", goerrors.CategoryValidation)
		}
		managerOpts = append(managerOpts, auth.WithTokenLedger(
			NewRedisTokenLedger(opts.Redis, WithKeyPrefix(opts.KeyPrefix), WithRedisClock(opts.Clock)),
		))
	default:
		return nil, goerrors.New("unknown ledger driver", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"driver": opts.LedgerDriver})
	}

	m := auth.NewRepositoryManager(db, managerOpts...)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewRedisClient connects and pings the server
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, auth.StoreError(err, "failed to connect to redis").
			WithMetadata(map[string]any{"addr": addr})
	}
	return rdb, nil
}
