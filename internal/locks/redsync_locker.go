// Package locks serializes token refreshes across processes that share a credentials
// store, using the Redlock implementation from go-redsync/redsync/v4.
// At most one process exchanges a given identifier's refresh token at a time.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"token-relay/internal/common/errors"
	"token-relay/internal/common/logging"
	"token-relay/internal/redis"
)

const (
	// DefaultExpiry bounds how long a crashed holder can block others
	DefaultExpiry = 30 * time.Second
	keyPrefix     = "token-relay:lock:"
)

// RedsyncLocker hands out distributed mutexes keyed by name
type RedsyncLocker struct {
	redsync *redsync.Redsync
	expiry  time.Duration
	logger  logging.Logger
}

// NewRedsyncLocker creates a locker on top of a connected Redis client.
// A non-positive expiry uses DefaultExpiry.
func NewRedsyncLocker(redisClient *redis.Client, expiry time.Duration, logger logging.Logger) (*RedsyncLocker, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncLocker{
		redsync: redsync.New(pool),
		expiry:  expiry,
		logger:  logging.OrGlobal(logger).WithFields(logging.Field{Key: "component", Value: "refresh-lock"}),
	}, nil
}

// Lock blocks until the named lock is held or ctx is done.
// The returned function releases it and is safe to call once.
func (l *RedsyncLocker) Lock(ctx context.Context, name string) (func(), error) {
	mutex := l.redsync.NewMutex(keyPrefix+name, redsync.WithExpiry(l.expiry))

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError(fmt.Sprintf("failed to acquire distributed lock %q", name), err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if ok, err := mutex.UnlockContext(ctx); err != nil || !ok {
			l.logger.Warn("Failed to release distributed lock",
				logging.Field{Key: "lock", Value: name},
				logging.Field{Key: "error", Value: err},
			)
		}
	}, nil
}
