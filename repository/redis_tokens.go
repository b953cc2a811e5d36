package repository

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	auth "github.com/goliatone/go-project-auth"
)

// RedisTokenLedger keeps token hashes as expiring keys. Expiry is left to
// Redis, so PurgeExpired has nothing to do.
//
// Keys:
//
//	<prefix>:token:<kind>:<hash>  -> user id, TTL = token lifetime
//	<prefix>:user:<uid>:<kind>    -> set of hashes, for revoke all
type RedisTokenLedger struct {
	rdb    redis.Cmdable
	prefix string
	now    auth.Clock
}

var _ auth.TokenLedger = (*RedisTokenLedger)(nil)

type RedisLedgerOption func(*RedisTokenLedger)

func WithKeyPrefix(prefix string) RedisLedgerOption {
	return func(l *RedisTokenLedger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

func WithRedisClock(clock auth.Clock) RedisLedgerOption {
	return func(l *RedisTokenLedger) {
		if clock != nil {
			l.now = clock
		}
	}
}

func NewRedisTokenLedger(rdb redis.Cmdable, opts ...RedisLedgerOption) *RedisTokenLedger {
	l := &RedisTokenLedger{
		rdb:    rdb,
		prefix: "auth",
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *RedisTokenLedger) tokenKey(kind auth.TokenKind, secretHash string) string {
	return l.prefix + ":token:" + string(kind) + ":" + secretHash
}

func (l *RedisTokenLedger) userKey(userID string, kind auth.TokenKind) string {
	return l.prefix + ":user:" + userID + ":" + string(kind)
}

func (l *RedisTokenLedger) RecordToken(ctx context.Context, userID uuid.UUID, kind auth.TokenKind, secretHash string, expiresAt time.Time) error {
	if !kind.IsValid() {
		return goerrors.New("unknown token kind", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": kind})
	}

	if secretHash == "" || userID == uuid.Nil {
		return goerrors.New("token owner and hash are required", goerrors.CategoryBadInput)
	}

	ttl := expiresAt.Sub(l.now())
	if ttl <= 0 {
		// already dead, nothing could ever consume it
		return nil
	}

	uid := userID.String()
	userKey := l.userKey(uid, kind)

	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.tokenKey(kind, secretHash), uid, ttl)
		pipe.SAdd(ctx, userKey, secretHash)
		// the index lives as long as its longest lived member
		pipe.ExpireNX(ctx, userKey, ttl)
		pipe.ExpireGT(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return auth.StoreError(err, "failed to record token")
	}
	return nil
}

// ConsumeToken uses GETDEL for single use kinds so two concurrent consumers
// can never both succeed.
func (l *RedisTokenLedger) ConsumeToken(ctx context.Context, kind auth.TokenKind, secretHash string) (uuid.UUID, error) {
	if kind.SingleUse() {
		return l.TakeToken(ctx, kind, secretHash)
	}

	if secretHash == "" {
		return uuid.Nil, auth.ErrTokenNotFound
	}

	uid, err := l.rdb.Get(ctx, l.tokenKey(kind, secretHash)).Result()
	return parseOwner(kind, uid, err)
}

// TakeToken removes the token with GETDEL whatever its kind
func (l *RedisTokenLedger) TakeToken(ctx context.Context, kind auth.TokenKind, secretHash string) (uuid.UUID, error) {
	if secretHash == "" {
		return uuid.Nil, auth.ErrTokenNotFound
	}

	uid, err := l.rdb.GetDel(ctx, l.tokenKey(kind, secretHash)).Result()
	userID, err := parseOwner(kind, uid, err)
	if err != nil {
		return uuid.Nil, err
	}

	l.forget(ctx, uid, kind, secretHash)
	return userID, nil
}

func parseOwner(kind auth.TokenKind, uid string, err error) (uuid.UUID, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, auth.ErrTokenNotFound
		}
		return uuid.Nil, auth.StoreError(err, "failed to look up token")
	}

	userID, err := uuid.Parse(uid)
	if err != nil {
		return uuid.Nil, auth.StoreError(err, "corrupt token owner").
			WithMetadata(map[string]any{"kind": kind})
	}
	return userID, nil
}

func (l *RedisTokenLedger) RevokeToken(ctx context.Context, kind auth.TokenKind, secretHash string) error {
	if secretHash == "" {
		return nil
	}

	uid, err := l.rdb.GetDel(ctx, l.tokenKey(kind, secretHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return auth.StoreError(err, "failed to revoke token")
	}

	l.forget(ctx, uid, kind, secretHash)
	return nil
}

func (l *RedisTokenLedger) RevokeAllForUser(ctx context.Context, userID uuid.UUID, kind auth.TokenKind) error {
	userKey := l.userKey(userID.String(), kind)

	hashes, err := l.rdb.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return auth.StoreError(err, "failed to list user tokens").
			WithMetadata(map[string]any{"user_id": userID.String(), "kind": kind})
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, l.tokenKey(kind, h))
	}
	keys = append(keys, userKey)

	if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
		return auth.StoreError(err, "failed to revoke user tokens").
			WithMetadata(map[string]any{"user_id": userID.String(), "kind": kind})
	}
	return nil
}

// PurgeExpired is a no-op, Redis expires keys itself
func (l *RedisTokenLedger) PurgeExpired(context.Context) (int64, error) {
	return 0, nil
}

// forget drops hash from the per user index. The token key is already gone,
// a stale index entry only costs a DEL of a missing key later.
func (l *RedisTokenLedger) forget(ctx context.Context, uid string, kind auth.TokenKind, secretHash string) {
	_ = l.rdb.SRem(ctx, l.userKey(uid, kind), secretHash).Err()
}
