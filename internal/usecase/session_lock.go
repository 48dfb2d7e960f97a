package usecase

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker serializes turns per key (a thread ID). Waiting for the
// lock honors context cancellation.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{} // capacity 1; holding the token means owning the lock
	refs int
}

// NewSessionLocker creates a new locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until the lock for key is held or ctx is done. The returned
// unlock function must be called exactly once.
func (sl *SessionLocker) Lock(ctx context.Context, key string) (unlock func(), err error) {
	sl.mu.Lock()
	kl, ok := sl.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		sl.locks[key] = kl
	}
	kl.refs++
	sl.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-kl.sem
				sl.release(key, kl)
			})
		}, nil
	case <-ctx.Done():
		sl.release(key, kl)
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

func (sl *SessionLocker) release(key string, kl *keyLock) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(sl.locks, key)
	}
}

// ActiveCount returns the number of keys with held or pending locks.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.locks)
}
