package usecase

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker serialises exchanges per session key. Locks are created on
// demand and dropped once no holder or waiter references them.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*sessionMutex
}

type sessionMutex struct {
	sem  chan struct{}
	refs int
}

// NewSessionLocker creates a session locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{locks: make(map[string]*sessionMutex)}
}

// Lock blocks until the lock for key is held or ctx is done. The returned
// unlock func must be called exactly once.
func (sl *SessionLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	sl.mu.Lock()
	sm, ok := sl.locks[key]
	if !ok {
		sm = &sessionMutex{sem: make(chan struct{}, 1)}
		sl.locks[key] = sm
	}
	sm.refs++
	sl.mu.Unlock()

	select {
	case sm.sem <- struct{}{}:
	case <-ctx.Done():
		sl.release(key, sm)
		return nil, fmt.Errorf("session lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sm.sem
			sl.release(key, sm)
		})
	}, nil
}

// Busy reports whether key is currently held or awaited.
func (sl *SessionLocker) Busy(key string) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	_, ok := sl.locks[key]
	return ok
}

func (sl *SessionLocker) release(key string, sm *sessionMutex) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sm.refs--
	if sm.refs == 0 {
		delete(sl.locks, key)
	}
}

// ActiveCount returns the number of keys with holders or waiters.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.locks)
}
