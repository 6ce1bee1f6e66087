// Package lock provides the per-student exclusive section used while a
// student's semesters are rewritten and the student aggregate is reconciled.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotAcquired is returned when the lock could not be taken within the
// configured wait budget or the caller's context ended first.
var ErrNotAcquired = errors.New("student lock not acquired")

// Unlock releases a held lock. Calling it more than once is harmless.
type Unlock func()

// Locker hands out per-student exclusive sections.
type Locker interface {
	Lock(ctx context.Context, studentID int) (Unlock, error)
}

// Backends accepted by New.
const (
	BackendRedis = "redis"
	BackendLocal = "local"
)

// minTTL is the shortest lease Redis can express with PX.
const minTTL = time.Millisecond

// New builds the locker for backend. The local backend only serialises
// callers inside one process; use it when a single instance owns writes.
func New(backend string, rdb *redis.Client, ttl, wait time.Duration, log zerolog.Logger) (Locker, error) {
	switch backend {
	case BackendRedis:
		if rdb == nil {
			return nil, errors.New("redis lock backend requires a redis client")
		}
		if ttl < minTTL {
			return nil, fmt.Errorf("redis lock ttl must be at least %s, got %s", minTTL, ttl)
		}
		return NewRedisLocker(rdb, ttl, wait, log), nil
	case BackendLocal:
		return NewLocalLocker(wait), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}
