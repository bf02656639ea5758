package freshcache

import (
	"sync/atomic"
	"time"
)

// slotState is an immutable snapshot of a cached value and its freshness.
type slotState[V any] struct {
	value       V
	present     bool
	refreshedAt time.Time
	ttl         time.Duration
}

// slot holds the cached state of one key.
//
// State is replaced atomically so lock-free readers never observe a
// partially written value. Commits happen under the per-key lock, mass
// expiration may race with them and goes through compare and swap.
type slot[V any] struct {
	data atomic.Pointer[slotState[V]]
}

func newSlot[V any]() *slot[V] {
	s := &slot[V]{}
	s.data.Store(&slotState[V]{})

	return s
}

// entry returns a point-in-time snapshot of the slot.
func (s *slot[V]) entry() Entry[V] {
	ss := s.data.Load()

	return Entry[V]{Value: ss.value, Present: ss.present, RefreshedAt: ss.refreshedAt}
}

// store commits a fetched value with its resolved TTL.
func (s *slot[V]) store(v V, refreshedAt time.Time, ttl time.Duration) {
	s.data.Store(&slotState[V]{value: v, present: true, refreshedAt: refreshedAt, ttl: ttl})
}

// extend restarts the freshness countdown keeping value and TTL.
func (s *slot[V]) extend(now time.Time) {
	for {
		old := s.data.Load()
		ss := *old
		ss.refreshedAt = now

		if s.data.CompareAndSwap(old, &ss) {
			return
		}
	}
}

// expire backdates the refresh time just beyond TTL, so the value reads as
// expired while remaining available for stale access.
func (s *slot[V]) expire(now time.Time) {
	for {
		old := s.data.Load()
		if !old.present {
			return
		}

		ss := *old
		ss.refreshedAt = now.Add(-ss.ttl - time.Nanosecond)

		if s.data.CompareAndSwap(old, &ss) {
			return
		}
	}
}
