package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/metrics"
)

const (
	defaultRetryInterval = 25 * time.Millisecond
	releaseTimeout       = 2 * time.Second
)

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the lease only if it still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease-based lock shared by every process that talks to
// the same Redis. While held, the lease is refreshed in the background so
// long reconciliations do not lose it; if refreshing fails the student row's
// aggregate version check still rejects a stale write.
type RedisLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
	log   zerolog.Logger
}

// NewRedisLocker creates a RedisLocker with the given lease TTL and wait budget.
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:   rdb,
		ttl:   ttl,
		wait:  wait,
		retry: defaultRetryInterval,
		log:   log.With().Str("component", "redis_locker").Logger(),
	}
}

// Lock takes the student's aggregate lock, retrying until the wait budget is spent.
func (l *RedisLocker) Lock(ctx context.Context, studentID int) (Unlock, error) {
	key := config.CacheKey.StudentAggregateLockKey(studentID)
	token := uuid.NewString()
	start := time.Now()

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	for {
		ok, err := l.rdb.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		// Jitter keeps competing workers from retrying in lockstep.
		backoff := l.retry + time.Duration(rand.Int64N(int64(l.retry)))
		select {
		case <-time.After(backoff):
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: student %d: %v", ErrNotAcquired, studentID, waitCtx.Err())
		}
	}
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(key, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()

			relCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(relCtx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.log.Warn().Err(err).Str("key", key).Msg("lock release failed, lease will expire")
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warn().Err(err).Str("key", key).Msg("lock lease refresh failed")
				continue
			}
			if n == 0 {
				l.log.Warn().Str("key", key).Msg("lock lease lost")
				return
			}
		}
	}
}
