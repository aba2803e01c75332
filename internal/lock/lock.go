// Package lock provides the optional distributed per-loan mutex that serializes
// mutations on one loan across service instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when the lock is held elsewhere after all tries
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker runs fn while holding the lock for key
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Options configures lock acquisition
type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// RedisLocker implements Locker with redsync over a go-redis client
type RedisLocker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, opts Options, logger *zap.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("lock: redis client is nil")
	}
	if opts.Expiry <= 0 {
		return nil, errors.New("lock: expiry must be greater than 0")
	}
	if opts.Tries < 1 {
		return nil, errors.New("lock: tries must be at least 1")
	}
	if opts.RetryDelay < 0 {
		return nil, errors.New("lock: retry delay cannot be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}, nil
}

// LoanKey is the lock key for a loan
func LoanKey(loanID string) string {
	return "lock:loan:" + loanID
}

// WithLock acquires key, runs fn and releases the lock. Release failures are logged only,
// the lock expires on its own.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return errors.New("lock: key cannot be empty")
	}
	if fn == nil {
		return errors.New("lock: function is nil")
	}

	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		return fmt.Errorf("lock: acquire %s: %w", key, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil || !ok {
			l.logger.Warn("failed to release lock",
				zap.String("key", key),
				zap.Bool("released", ok),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}

// Noop is a Locker that runs fn directly, used when Redis is not configured
type Noop struct{}

func (Noop) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
