package freshcache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vearutop/freshcache"
)

func TestKeyMutex_Get_identity(t *testing.T) {
	m := freshcache.NewKeyMutex()

	locks := make([]*freshcache.KeyLock, 100)

	wg := sync.WaitGroup{}

	for i := 0; i < 100; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			locks[i] = m.Get("shared")
		}()
	}

	wg.Wait()

	// Every caller observed the same lock instance.
	for i := 1; i < 100; i++ {
		assert.Same(t, locks[0], locks[i])
	}

	assert.NotSame(t, m.Get("shared"), m.Get("other"))
	assert.Equal(t, 2, m.Len())
}

func TestKeyMutex_Do(t *testing.T) {
	m := freshcache.NewKeyMutex()

	ran := false

	m.Do("key", func() {
		ran = true

		// Lock is held while fn runs.
		assert.False(t, m.Get("key").TryLock())
	})

	assert.True(t, ran)

	// Lock is released after fn returns.
	lk := m.Get("key")
	assert.True(t, lk.TryLock())
	lk.Unlock()
}

func TestKeyMutex_Do_emptyKey(t *testing.T) {
	m := freshcache.NewKeyMutex()

	m.Do("", func() {
		t.Fatal("fn must not run for empty key")
	})

	assert.Equal(t, 0, m.Len())
}

func TestKeyMutex_Do_panic(t *testing.T) {
	m := freshcache.NewKeyMutex()

	assert.Panics(t, func() {
		m.Do("key", func() {
			panic("fetch exploded")
		})
	})

	// Lock was released on panic.
	lk := m.Get("key")
	assert.True(t, lk.TryLock())
	lk.Unlock()
}

func TestKeyMutex_Do_serializes(t *testing.T) {
	m := freshcache.NewKeyMutex()

	var active, overlapped atomic.Int32

	wg := sync.WaitGroup{}

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			m.Do("key", func() {
				if active.Add(1) > 1 {
					overlapped.Add(1)
				}

				time.Sleep(time.Millisecond)
				active.Add(-1)
			})
		}()
	}

	wg.Wait()

	assert.EqualValues(t, 0, overlapped.Load())
}

func TestKeyLock_TryLock(t *testing.T) {
	m := freshcache.NewKeyMutex()
	lk := m.Get("key")

	assert.True(t, lk.TryLock())
	assert.False(t, lk.TryLock())

	lk.Unlock()

	assert.True(t, lk.TryLock())
	lk.Unlock()
}

func TestKeyLock_Unlock_free(t *testing.T) {
	m := freshcache.NewKeyMutex()

	assert.Panics(t, func() {
		m.Get("key").Unlock()
	})
}
