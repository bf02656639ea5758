package freshcache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// KeyLock is a mutual exclusion lock of a single cache key.
//
// Use KeyMutex to create and share instances, the zero value is not usable.
type KeyLock struct {
	c chan struct{}
}

func newKeyLock() *KeyLock {
	return &KeyLock{c: make(chan struct{}, 1)}
}

// Lock blocks until the lock is acquired.
func (l *KeyLock) Lock() {
	l.c <- struct{}{}
}

// TryLock acquires the lock without blocking, reporting success.
func (l *KeyLock) TryLock() bool {
	select {
	case l.c <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the lock.
func (l *KeyLock) Unlock() {
	select {
	case <-l.c:
	default:
		panic("freshcache: unlock of a free key lock")
	}
}

// lockWithin acquires the lock, giving up when ctx is done or, with a
// positive waitTimeout, when the wait exceeds it.
func (l *KeyLock) lockWithin(ctx context.Context, waitTimeout time.Duration) bool {
	if waitTimeout <= 0 {
		if ctx.Done() == nil {
			l.Lock()

			return true
		}

		select {
		case l.c <- struct{}{}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	t := time.NewTimer(waitTimeout)
	defer t.Stop()

	select {
	case l.c <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	case <-t.C:
		return false
	}
}

// KeyMutex is a registry of per-key locks.
//
// Locks are created lazily, all callers of one key share a single KeyLock
// instance while callers of distinct keys never contend. Locks stay
// registered until the registry is dropped or the janitor prunes them.
type KeyMutex struct {
	data *xsync.MapOf[string, *KeyLock]
}

// NewKeyMutex creates an empty lock registry.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{data: xsync.NewMapOf[string, *KeyLock]()}
}

// Get returns the lock of a key, creating it when absent.
func (m *KeyMutex) Get(key string) *KeyLock {
	lk, _ := m.data.LoadOrCompute(key, newKeyLock)

	return lk
}

// Do runs fn under the lock of a key.
//
// The lock is released on all exit paths including a panic in fn. Empty key
// is a no-op: fn does not run and no lock is touched.
func (m *KeyMutex) Do(key string, fn func()) {
	if key == "" {
		return
	}

	lk := m.lock(context.Background(), key, 0)
	defer lk.Unlock()

	fn()
}

// Len returns the number of registered locks.
func (m *KeyMutex) Len() int {
	return m.data.Size()
}

// lock acquires the currently registered lock of a key.
//
// An instance pruned from the registry between lookup and acquisition is
// released and the lookup retried, so two callers can not end up fetching
// behind different instances. Returns nil when acquisition gave up.
func (m *KeyMutex) lock(ctx context.Context, key string, waitTimeout time.Duration) *KeyLock {
	for {
		lk := m.Get(key)

		if !lk.lockWithin(ctx, waitTimeout) {
			return nil
		}

		if cur, found := m.data.Load(key); found && cur == lk {
			return lk
		}

		lk.Unlock()
	}
}

func (m *KeyMutex) load(key string) (*KeyLock, bool) {
	return m.data.Load(key)
}

func (m *KeyMutex) remove(key string) {
	m.data.Delete(key)
}
