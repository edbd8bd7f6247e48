package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/balance-ledger/generic"
)

// =============================================================================
// REDIS LOCKER
// =============================================================================

const keyPrefix = "balance-ledger:lock:"

// release deletes the key only while it still holds our token.
var release = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by a Redis server. Tokens expire after ttl, so a
// crashed worker never blocks a ledger for longer than that.
type Redis struct {
	rdb    goredis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedis(rdb goredis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, ttl: ttl, logger: logger}
}

// Dial connects to addr and checks the connection with a ping.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return rdb, nil
}

// TryLock sets the lock key if absent.
func (r *Redis) TryLock(ctx context.Context, name string) (func(), bool, error) {
	key := keyPrefix + name
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// The caller's context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := release.Run(ctx, r.rdb, []string{key}, token).Err(); err != nil {
			r.logger.Warn("release lock failed; it expires on its own",
				zap.String("lock", name),
				zap.Duration("ttl", r.ttl),
				zap.Error(err))
		}
	}
	return unlock, true, nil
}

var _ generic.Locker = (*Redis)(nil)
