package repository

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-project-auth"
)

// newTestRedis connects to AUTH_TEST_REDIS_ADDR and isolates keys under a
// random prefix. Tests are skipped when no server is configured.
func newTestRedis(t *testing.T) (*redis.Client, string) {
	t.Helper()

	addr := os.Getenv("AUTH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AUTH_TEST_REDIS_ADDR not set")
	}

	rdb, err := NewRedisClient(context.Background(), addr, os.Getenv("AUTH_TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)

	prefix := "authtest:" + uuid.NewString()
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
		_ = rdb.Close()
	})

	return rdb, prefix
}

func TestRedisLedger_SingleUseConsumedOnce(t *testing.T) {
	rdb, prefix := newTestRedis(t)
	ledger := NewRedisTokenLedger(rdb, WithKeyPrefix(prefix))
	ctx := context.Background()

	userID := uuid.New()
	hash := auth.HashOpaqueSecret("reset-secret")
	require.NoError(t, ledger.RecordToken(ctx, userID, auth.TokenKindResetPassword, hash, time.Now().Add(time.Hour)))

	got, err := ledger.ConsumeToken(ctx, auth.TokenKindResetPassword, hash)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = ledger.ConsumeToken(ctx, auth.TokenKindResetPassword, hash)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestRedisLedger_ConcurrentConsumeHasOneWinner(t *testing.T) {
	rdb, prefix := newTestRedis(t)
	ledger := NewRedisTokenLedger(rdb, WithKeyPrefix(prefix))
	ctx := context.Background()

	hash := auth.HashOpaqueSecret("verify-secret")
	require.NoError(t, ledger.RecordToken(ctx, uuid.New(), auth.TokenKindVerifyEmail, hash, time.Now().Add(time.Hour)))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.ConsumeToken(ctx, auth.TokenKindVerifyEmail, hash); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestRedisLedger_TakeRefreshTokenOnce(t *testing.T) {
	rdb, prefix := newTestRedis(t)
	ledger := NewRedisTokenLedger(rdb, WithKeyPrefix(prefix))
	ctx := context.Background()

	hash := auth.HashOpaqueSecret("refresh-rotation")
	require.NoError(t, ledger.RecordToken(ctx, uuid.New(), auth.TokenKindRefresh, hash, time.Now().Add(time.Hour)))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.TakeToken(ctx, auth.TokenKindRefresh, hash); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)

	_, err := ledger.ConsumeToken(ctx, auth.TokenKindRefresh, hash)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestRedisLedger_RefreshIsReusableUntilRevoked(t *testing.T) {
	rdb, prefix := newTestRedis(t)
	ledger := NewRedisTokenLedger(rdb, WithKeyPrefix(prefix))
	ctx := context.Background()

	userID := uuid.New()
	hash := auth.HashOpaqueSecret("refresh-secret")
	require.NoError(t, ledger.RecordToken(ctx, userID, auth.TokenKindRefresh, hash, time.Now().Add(time.Hour)))

	for i := 0; i < 2; i++ {
		got, err := ledger.ConsumeToken(ctx, auth.TokenKindRefresh, hash)
		require.NoError(t, err)
		assert.Equal(t, userID, got)
	}

	require.NoError(t, ledger.RevokeToken(ctx, auth.TokenKindRefresh, hash))
	require.NoError(t, ledger.RevokeToken(ctx, auth.TokenKindRefresh, hash))

	_, err := ledger.ConsumeToken(ctx, auth.TokenKindRefresh, hash)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestRedisLedger_RevokeAllForUser(t *testing.T) {
	rdb, prefix := newTestRedis(t)
	ledger := NewRedisTokenLedger(rdb, WithKeyPrefix(prefix))
	ctx := context.Background()

	owner, other := uuid.New(), uuid.New()
	exp := time.Now().Add(time.Hour)

	a, b, c := auth.HashOpaqueSecret("a"), auth.HashOpaqueSecret("b"), auth.HashOpaqueSecret("c")
	require.NoError(t, ledger.RecordToken(ctx, owner, auth.TokenKindRefresh, a, exp))
	require.NoError(t, ledger.RecordToken(ctx, owner, auth.TokenKindRefresh, b, exp))
	require.NoError(t, ledger.RecordToken(ctx, other, auth.TokenKindRefresh, c, exp))

	require.NoError(t, ledger.RevokeAllForUser(ctx, owner, auth.TokenKindRefresh))

	_, err := ledger.ConsumeToken(ctx, auth.TokenKindRefresh, a)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
	_, err = ledger.ConsumeToken(ctx, auth.TokenKindRefresh, b)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	got, err := ledger.ConsumeToken(ctx, auth.TokenKindRefresh, c)
	require.NoError(t, err)
	assert.Equal(t, other, got)
}

func TestRedisLedger_ExpiredRecordIsDropped(t *testing.T) {
	rdb, prefix := newTestRedis(t)
	ledger := NewRedisTokenLedger(rdb, WithKeyPrefix(prefix))
	ctx := context.Background()

	hash := auth.HashOpaqueSecret("late")
	require.NoError(t, ledger.RecordToken(ctx, uuid.New(), auth.TokenKindResetPassword, hash, time.Now().Add(-time.Second)))

	_, err := ledger.ConsumeToken(ctx, auth.TokenKindResetPassword, hash)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	n, err := ledger.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisLedger_UnreachableServerIsRetryable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	ledger := NewRedisTokenLedger(rdb)
	_, err := ledger.ConsumeToken(context.Background(), auth.TokenKindResetPassword, auth.HashOpaqueSecret("x"))

	require.Error(t, err)
	assert.False(t, auth.HasTextCode(err, auth.TextCodeTokenNotFound))
	assert.True(t, auth.IsRetryable(err))
}

func TestRedisLedger_RejectsInvalidRecord(t *testing.T) {
	ledger := NewRedisTokenLedger(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	ctx := context.Background()

	assert.Error(t, ledger.RecordToken(ctx, uuid.New(), auth.TokenKind("bogus"), "h", time.Now().Add(time.Hour)))
	assert.Error(t, ledger.RecordToken(ctx, uuid.Nil, auth.TokenKindRefresh, "h", time.Now().Add(time.Hour)))

	_, err := ledger.ConsumeToken(ctx, auth.TokenKindRefresh, "")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, auth.Migrate(context.Background(), db))
	return db
}

func TestNewRepositoryManager(t *testing.T) {
	db := newTestDB(t)

	m, err := NewRepositoryManager(db, ManagerOptions{})
	require.NoError(t, err)
	assert.NotNil(t, m.Tokens())
	assert.NotNil(t, m.Users())

	_, err = NewRepositoryManager(db, ManagerOptions{LedgerDriver: LedgerDriverRedis})
	assert.Error(t, err)

	_, err = NewRepositoryManager(db, ManagerOptions{LedgerDriver: "memcached"})
	assert.Error(t, err)

	m, err = NewRepositoryManager(db, ManagerOptions{
		LedgerDriver: LedgerDriverRedis,
		Redis:        redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
	})
	require.NoError(t, err)
	_, ok := m.Tokens().(*RedisTokenLedger)
	assert.True(t, ok)
}
