package freshcache

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"github.com/puzpuzpuz/xsync/v3"
)

// Config controls expirable map instance.
type Config struct {
	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger

	// Stats is metrics collector, can be nil.
	Stats stats.Tracker

	// Name is cache instance name, used in stats and logging.
	Name string

	// TimeToLive is delay before entry expiration, default 5m.
	TimeToLive time.Duration

	// ExtendOnAccess restarts the freshness countdown on every hit, so that
	// only idle entries expire.
	ExtendOnAccess bool

	// WaitTimeout bounds waiting for a busy per-key lock, default 0 waits
	// for as long as the in-flight fetch takes.
	//
	// On timeout the last known value is served when there is one, otherwise
	// ErrWaitTimeout is returned.
	WaitTimeout time.Duration

	// ExpirationJitter is a fraction of TTL to randomize, default 0 keeps
	// expiration exact.
	// If enabled, entry TTL will be randomly altered in bounds of ±(ExpirationJitter * TTL / 2).
	ExpirationJitter float64

	// DeleteExpiredAfter enables a background janitor deleting entries that
	// expired more than this delay ago, default 0 keeps entries until they
	// are removed explicitly.
	DeleteExpiredAfter time.Duration

	// DeleteExpiredJobInterval is delay between two consecutive cleanups,
	// default DeleteExpiredAfter/2.
	DeleteExpiredJobInterval time.Duration

	// ItemsCountReportInterval is items count metric report interval,
	// default 0 disables reporting. Requires Stats.
	ItemsCountReportInterval time.Duration
}

// registry is one generation of cache state.
//
// Clear swaps the generation as a whole, operations already past their lock
// lookup keep detached references and finish against them.
type registry[V any] struct {
	slots *xsync.MapOf[string, *slot[V]]
	locks *KeyMutex
}

func newRegistry[V any]() *registry[V] {
	return &registry[V]{
		slots: xsync.NewMapOf[string, *slot[V]](),
		locks: NewKeyMutex(),
	}
}

// ExpirableMap is a keyed cache of expirable values. Please use
// NewExpirableMap to create it.
type ExpirableMap[V any] struct {
	*expirableMap[V]
}

type expirableMap[V any] struct {
	state atomic.Pointer[registry[V]]

	config    Config
	log       ctxd.Logger
	stat      stats.Tracker
	closed    chan struct{}
	closeOnce sync.Once
}

// NewExpirableMap creates a keyed cache of expirable values with optional
// configuration.
//
// Fetches are locked per key: concurrent callers of one key produce a single
// fetch, callers of distinct keys never block each other.
func NewExpirableMap[V any](cfg ...Config) *ExpirableMap[V] {
	config := Config{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.TimeToLive == 0 {
		config.TimeToLive = 5 * time.Minute
	}

	if config.DeleteExpiredAfter > 0 && config.DeleteExpiredJobInterval == 0 {
		config.DeleteExpiredJobInterval = config.DeleteExpiredAfter / 2
	}

	c := &expirableMap[V]{
		config: config,
		log:    config.Logger,
		stat:   config.Stats,
		closed: make(chan struct{}),
	}

	c.state.Store(newRegistry[V]())

	C := &ExpirableMap[V]{expirableMap: c}

	janitor := config.DeleteExpiredAfter > 0
	reporter := c.stat != nil && config.ItemsCountReportInterval > 0

	if janitor {
		go c.cleaner()
	}

	if reporter {
		go c.reportItemsCount()
	}

	if janitor || reporter {
		runtime.SetFinalizer(C, func(m *ExpirableMap[V]) {
			m.close()
		})
	}

	return C
}

// GetOrFetch returns the cached value of a key, fetching it when the cache
// holds none or the held one expired.
func (c *expirableMap[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V]) (V, bool, error) {
	return c.GetOrFetchForced(ctx, key, false, fetch)
}

// GetOrFetchForced is GetOrFetch with an optional refresh of a still fresh
// value: with forceRefresh the cached entry is dropped under the per-key
// lock before fetching.
func (c *expirableMap[V]) GetOrFetchForced(ctx context.Context, key string, forceRefresh bool, fetch FetchFunc[V]) (V, bool, error) {
	var zero V

	if key == "" {
		return zero, false, nil
	}

	lk := c.state.Load().locks.lock(ctx, key, c.config.WaitTimeout)
	if lk == nil {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}

		if e := c.PeekEntry(key); e.Present {
			if c.log != nil {
				c.log.Warn(ctx, "lock wait timed out, serving last known value",
					"name", c.config.Name,
					"key", key)
			}

			if c.stat != nil {
				c.stat.Add(ctx, MetricStale, 1, "name", c.config.Name)
			}

			return e.Value, true, nil
		}

		return zero, false, ErrWaitTimeout
	}
	defer lk.Unlock()

	// The slot is taken from the registry current after lock acquisition, so
	// a result arriving after Clear lands in the post-clear generation while
	// a result of a fetch started before Clear stays detached.
	cur := c.state.Load()

	if forceRefresh || SkipRead(ctx) {
		cur.slots.Delete(key)
	}

	sl, loaded := cur.slots.LoadOrCompute(key, newSlot[V])

	if !loaded {
		// The placeholder created by this call is dropped when the fetch
		// caches nothing, a failed or absent fetch leaves the registry as it
		// was before the call.
		defer func() {
			if !sl.data.Load().present {
				cur.slots.Delete(key)
			}
		}()
	}

	return c.resolveSlot(ctx, key, sl, fetch)
}

func (c *expirableMap[V]) resolveSlot(ctx context.Context, key string, sl *slot[V], fetch FetchFunc[V]) (V, bool, error) {
	var zero V

	now := time.Now()
	ss := sl.data.Load()

	if ss.present && now.Sub(ss.refreshedAt) <= ss.ttl {
		if c.config.ExtendOnAccess {
			sl.extend(now)
		}

		if c.log != nil {
			c.log.Debug(ctx, "cache hit",
				"name", c.config.Name,
				"key", key)
		}

		if c.stat != nil {
			c.stat.Add(ctx, MetricHit, 1, "name", c.config.Name)
		}

		return ss.value, true, nil
	}

	if ss.present {
		if c.log != nil {
			c.log.Debug(ctx, "cache key expired",
				"name", c.config.Name,
				"key", key)
		}

		if c.stat != nil {
			c.stat.Add(ctx, MetricExpired, 1, "name", c.config.Name)
		}
	} else {
		if c.log != nil {
			c.log.Debug(ctx, "cache miss",
				"name", c.config.Name,
				"key", key)
		}

		if c.stat != nil {
			c.stat.Add(ctx, MetricMiss, 1, "name", c.config.Name)
		}
	}

	v, found, err := fetch(ctx)

	if c.stat != nil {
		c.stat.Add(ctx, MetricBuild, 1, "name", c.config.Name)
	}

	if err != nil {
		if c.stat != nil {
			c.stat.Add(ctx, MetricFailed, 1, "name", c.config.Name)
		}

		return zero, false, err
	}

	if !found {
		// Absent result is not cached, the next access retries upstream.
		if c.log != nil {
			c.log.Debug(ctx, "fetched absent value",
				"name", c.config.Name,
				"key", key)
		}

		return zero, false, nil
	}

	ttl := c.itemTTL(ctx)

	// Freshness countdown starts when the fetch lands, its own latency does
	// not eat into TTL.
	sl.store(v, time.Now(), ttl)

	if c.log != nil {
		c.log.Debug(ctx, "wrote to cache",
			"name", c.config.Name,
			"key", key,
			"value", v,
			"ttl", ttl)
	}

	if c.stat != nil {
		c.stat.Add(ctx, MetricWrite, 1, "name", c.config.Name)
	}

	return v, true, nil
}

func (c *expirableMap[V]) itemTTL(ctx context.Context) time.Duration {
	ttl := TTL(ctx)
	if ttl == DefaultTTL {
		ttl = c.config.TimeToLive
	}

	if c.config.ExpirationJitter > 0 {
		ttl += time.Duration(float64(ttl) * c.config.ExpirationJitter * (rand.Float64() - 0.5)) //nolint:gosec
	}

	return ttl
}

// Peek returns the cached value of a key without fetching.
//
// The value may be expired, PeekEntry tells when it was refreshed.
func (c *expirableMap[V]) Peek(key string) (V, bool) {
	e := c.PeekEntry(key)

	return e.Value, e.Present
}

// PeekEntry returns a snapshot of the cached state of a key without fetching
// and disregarding freshness.
func (c *expirableMap[V]) PeekEntry(key string) Entry[V] {
	if key == "" {
		return Entry[V]{}
	}

	sl, found := c.state.Load().slots.Load(key)
	if !found {
		return Entry[V]{}
	}

	return sl.entry()
}

// Remove drops the cached value of a key.
func (c *expirableMap[V]) Remove(ctx context.Context, key string) {
	if key == "" {
		return
	}

	if _, found := c.state.Load().slots.LoadAndDelete(key); !found {
		return
	}

	if c.log != nil {
		c.log.Debug(ctx, "removed cache entry",
			"name", c.config.Name,
			"key", key)
	}
}

// Clear drops all entries by swapping in a fresh generation of both
// registries.
//
// An operation already holding its per-key lock keeps the detached lock and
// finishes correctly, new callers of the same key get a fresh lock right
// away instead of queueing behind the in-flight fetch.
func (c *expirableMap[V]) Clear() {
	old := c.state.Swap(newRegistry[V]())

	if c.log != nil {
		c.log.Important(context.Background(), "cleared cache",
			"name", c.config.Name,
			"count", old.slots.Size())
	}
}

// ExpireAll marks all entries as expired, they can still serve stale cache.
func (c *expirableMap[V]) ExpireAll() {
	now := time.Now()
	cnt := 0

	c.state.Load().slots.Range(func(_ string, sl *slot[V]) bool {
		sl.expire(now)
		cnt++

		return true
	})

	if c.log != nil {
		c.log.Important(context.Background(), "expired all entries in cache",
			"name", c.config.Name,
			"count", cnt)
	}
}

// IsEmpty reports whether cache holds no entries.
func (c *expirableMap[V]) IsEmpty() bool {
	return c.state.Load().slots.Size() == 0
}

// Len returns number of entries in cache.
func (c *expirableMap[V]) Len() int {
	return c.state.Load().slots.Size()
}

// Walk walks populated cache entries and fails on first error returned by
// walkFn.
//
// Count of processed entries is returned.
func (c *expirableMap[V]) Walk(walkFn func(key string, e Entry[V]) error) (int, error) {
	n := 0

	var lastErr error

	c.state.Load().slots.Range(func(key string, sl *slot[V]) bool {
		e := sl.entry()
		if !e.Present {
			return true
		}

		if err := walkFn(key, e); err != nil {
			lastErr = err

			return false
		}

		n++

		return true
	})

	return n, lastErr
}

// Close stops background jobs of the cache, it is safe to call multiple
// times.
func (c *expirableMap[V]) Close() {
	c.close()
}

func (c *expirableMap[V]) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}
