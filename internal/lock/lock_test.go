package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutrack/edutrack-backend/internal/config"
)

type locker interface {
	Lock(ctx context.Context, studentID int) (Unlock, error)
}

func newRedisLocker(t *testing.T, ttl, wait time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLocker(rdb, ttl, wait, zerolog.Nop()), mr
}

func lockers(t *testing.T) map[string]locker {
	rl, _ := newRedisLocker(t, 5*time.Second, 200*time.Millisecond)
	return map[string]locker{
		"local": NewLocalLocker(200 * time.Millisecond),
		"redis": rl,
	}
}

func TestLocker_MutualExclusion(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var inside, maxInside int32
			var wg sync.WaitGroup

			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					var unlock Unlock
					var err error
					// Retry until acquired; the wait budget is short on purpose.
					for {
						unlock, err = l.Lock(ctx, 42)
						if err == nil {
							break
						}
						if !assert.ErrorIs(t, err, ErrNotAcquired) {
							return
						}
					}
					n := atomic.AddInt32(&inside, 1)
					for {
						m := atomic.LoadInt32(&maxInside)
						if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&inside, -1)
					unlock()
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxInside)
		})
	}
}

func TestLocker_DifferentStudentsDoNotBlock(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			unlockA, err := l.Lock(ctx, 1)
			require.NoError(t, err)
			defer unlockA()

			unlockB, err := l.Lock(ctx, 2)
			require.NoError(t, err)
			unlockB()
		})
	}
}

func TestLocker_WaitBudgetExceeded(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			unlock, err := l.Lock(ctx, 7)
			require.NoError(t, err)
			defer unlock()

			_, err = l.Lock(ctx, 7)
			assert.True(t, errors.Is(err, ErrNotAcquired), "got %v", err)
		})
	}
}

func TestLocker_UnlockIsIdempotent(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			unlock, err := l.Lock(ctx, 9)
			require.NoError(t, err)
			unlock()
			unlock()

			again, err := l.Lock(ctx, 9)
			require.NoError(t, err)
			again()
		})
	}
}

func TestLocalLocker_DropsIdleEntries(t *testing.T) {
	l := NewLocalLocker(0)
	unlock, err := l.Lock(context.Background(), 3)
	require.NoError(t, err)
	unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks)
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newRedisLocker(t, 5*time.Second, 50*time.Millisecond)
	key := config.CacheKey.StudentAggregateLockKey(11)

	unlock, err := l.Lock(context.Background(), 11)
	require.NoError(t, err)

	// Simulate the lease expiring and another worker taking over.
	mr.Del(key)
	require.NoError(t, mr.Set(key, "someone-else"))

	unlock()
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLocker_LeaseIsSet(t *testing.T) {
	l, mr := newRedisLocker(t, 3*time.Second, 50*time.Millisecond)
	key := config.CacheKey.StudentAggregateLockKey(12)

	unlock, err := l.Lock(context.Background(), 12)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	unlock()
	assert.False(t, mr.Exists(key))
}

func TestNew(t *testing.T) {
	rl, _ := newRedisLocker(t, time.Second, time.Second)

	l, err := New(BackendLocal, nil, time.Second, time.Second, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LocalLocker{}, l)

	l, err = New(BackendRedis, rl.rdb, time.Second, time.Second, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &RedisLocker{}, l)

	_, err = New(BackendRedis, nil, time.Second, time.Second, zerolog.Nop())
	assert.Error(t, err)

	_, err = New("etcd", nil, time.Second, time.Second, zerolog.Nop())
	assert.Error(t, err)

	for _, ttl := range []time.Duration{0, -time.Second, time.Microsecond} {
		_, err = New(BackendRedis, rl.rdb, ttl, time.Second, zerolog.Nop())
		assert.Error(t, err, ttl)
	}
}
