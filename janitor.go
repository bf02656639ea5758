package freshcache

import (
	"context"
	"time"
)

func (c *expirableMap[V]) cleaner() {
	for {
		select {
		case <-time.After(c.config.DeleteExpiredJobInterval):
			c.deleteExpired()
		case <-c.closed:
			return
		}
	}
}

// deleteExpired prunes entries that expired beyond DeleteExpiredAfter and
// slots that never cached a value, dropping the per-key lock together with
// the slot.
//
// A key is only touched when its lock can be taken instantly, an in-flight
// fetch keeps its slot and lock intact until the next run.
func (c *expirableMap[V]) deleteExpired() {
	expirationBoundary := time.Now().Add(-c.config.DeleteExpiredAfter)
	st := c.state.Load()
	cnt := 0

	st.slots.Range(func(key string, sl *slot[V]) bool {
		if c.pruneable(sl, expirationBoundary) {
			cnt += c.prune(st, key, expirationBoundary)
		}

		return true
	})

	if cnt == 0 {
		return
	}

	if c.log != nil {
		c.log.Debug(context.Background(), "deleted expired cache entries",
			"name", c.config.Name,
			"count", cnt)
	}

	if c.stat != nil {
		c.stat.Add(context.Background(), MetricEvict, float64(cnt), "name", c.config.Name)
	}
}

// prune deletes a key together with its lock when the slot currently
// registered under the key reads as pruneable with the lock held.
//
// The slot seen by the range visit is only a hint, a concurrent refresh may
// have replaced the slot object under the key, so the decision is re-made on
// a fresh load. Returns the number of deleted entries.
func (c *expirableMap[V]) prune(st *registry[V], key string, expirationBoundary time.Time) int {
	lk, found := st.locks.load(key)
	if !found {
		// No lock to take, the slot came from a write behind a detached lock.
		if cur, ok := st.slots.Load(key); ok && c.pruneable(cur, expirationBoundary) {
			st.slots.Delete(key)

			return 1
		}

		return 0
	}

	if !lk.TryLock() {
		return 0
	}
	defer lk.Unlock()

	if cur, ok := st.slots.Load(key); ok && c.pruneable(cur, expirationBoundary) {
		st.slots.Delete(key)
		st.locks.remove(key)

		return 1
	}

	return 0
}

func (c *expirableMap[V]) pruneable(sl *slot[V], expirationBoundary time.Time) bool {
	ss := sl.data.Load()

	return !ss.present || ss.refreshedAt.Add(ss.ttl).Before(expirationBoundary)
}

func (c *expirableMap[V]) reportItemsCount() {
	for {
		select {
		case <-time.After(c.config.ItemsCountReportInterval):
			count := c.Len()

			if c.log != nil {
				c.log.Debug(context.Background(), "cache items count",
					"name", c.config.Name,
					"count", count)
			}

			c.stat.Set(context.Background(), MetricItems, float64(count), "name", c.config.Name)
		case <-c.closed:
			return
		}
	}
}
