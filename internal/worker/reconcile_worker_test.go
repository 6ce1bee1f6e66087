package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/service"
)

type fakeReconciler struct {
	mu    sync.Mutex
	calls map[int]int
	fail  map[int]error
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{calls: map[int]int{}, fail: map[int]error{}}
}

func (f *fakeReconciler) ReconcileStudent(_ context.Context, studentID int) (*service.ReconcileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[studentID]++
	if err := f.fail[studentID]; err != nil {
		return nil, err
	}
	return &service.ReconcileResult{Corrected: true}, nil
}

func (f *fakeReconciler) callsFor(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func newQueue(t *testing.T) (*ReconcileQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewReconcileQueue(rdb), mr
}

func popAll(t *testing.T, mr *miniredis.Miniredis) []reconcilePayload {
	t.Helper()
	var out []reconcilePayload
	for {
		raw, err := mr.Lpop(config.WorkerKey.PendingReconcileQueue)
		if err != nil {
			return out
		}
		var p reconcilePayload
		require.NoError(t, json.Unmarshal([]byte(raw), &p))
		out = append(out, p)
	}
}

func TestReconcileQueue_Enqueue(t *testing.T) {
	q, mr := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, 7, "connection reset"))
	require.NoError(t, q.Enqueue(ctx, 8, "version conflict"))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	items := popAll(t, mr)
	require.Len(t, items, 2)
	assert.Equal(t, 7, items[0].StudentID)
	assert.Equal(t, "connection reset", items[0].Reason)
	assert.Equal(t, 0, items[0].Attempts)
	assert.False(t, items[0].EnqueuedAt.IsZero())
}

func TestReconcileWorker_FlushDedupesAndRequeuesFailures(t *testing.T) {
	q, mr := newQueue(t)
	rec := newFakeReconciler()
	rec.fail[2] = errors.New("timeout")
	rec.fail[3] = service.ErrNotFound
	w := NewReconcileWorker(q, rec, zerolog.Nop())

	w.flush(context.Background(), []*reconcilePayload{
		{StudentID: 1},
		{StudentID: 2},
		{StudentID: 1},
		{StudentID: 3},
	})

	assert.Equal(t, 1, rec.callsFor(1))
	assert.Equal(t, 1, rec.callsFor(2))

	items := popAll(t, mr)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].StudentID)
	assert.Equal(t, 1, items[0].Attempts)
}

func TestReconcileWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	q, mr := newQueue(t)
	rec := newFakeReconciler()
	rec.fail[5] = errors.New("still broken")
	w := NewReconcileWorker(q, rec, zerolog.Nop())

	w.flush(context.Background(), []*reconcilePayload{{StudentID: 5, Attempts: ReconcileMaxAttempts - 1}})

	assert.Empty(t, popAll(t, mr))
}

func TestReconcileWorker_Start(t *testing.T) {
	q, mr := newQueue(t)
	rec := newFakeReconciler()
	w := NewReconcileWorker(q, rec, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.NoError(t, q.Enqueue(context.Background(), 11, "deferred"))

	assert.Eventually(t, func() bool { return rec.callsFor(11) == 1 }, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Empty(t, popAll(t, mr))
}
