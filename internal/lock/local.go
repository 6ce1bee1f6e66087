package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLocker serializes work per student inside a single process.
// Entries are reference counted and dropped once no goroutine holds or waits on them.
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[int]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates a LocalLocker. A zero wait blocks until the
// caller's context is done.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{
		wait:  wait,
		locks: make(map[int]*localEntry),
	}
}

// Lock blocks until the student's section is free.
func (l *LocalLocker) Lock(ctx context.Context, studentID int) (Unlock, error) {
	e := l.acquireEntry(studentID)

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseEntry(studentID, e)
		return nil, fmt.Errorf("%w: student %d: %v", ErrNotAcquired, studentID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.releaseEntry(studentID, e)
		})
	}, nil
}

func (l *LocalLocker) acquireEntry(studentID int) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[studentID]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.locks[studentID] = e
	}
	e.refs++
	return e
}

func (l *LocalLocker) releaseEntry(studentID int, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, studentID)
	}
}
