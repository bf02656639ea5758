package freshcache

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
	"golang.org/x/sync/errgroup"
)

// TwoTierConfig is optional configuration for NewTwoTier.
type TwoTierConfig struct {
	// Name is added to logs and stats.
	Name string

	// Logger collects messages with context.
	Logger ctxd.Logger

	// Stats tracks stats.
	Stats stats.Tracker

	// CheckerTimeToLive caps how often the freshness probe of a key may run,
	// default 5s.
	CheckerTimeToLive time.Duration

	// DataTimeToLive is delay before payload expiration, default 50m.
	DataTimeToLive time.Duration

	// ExtendDataOnAccess restarts the payload freshness countdown on every
	// hit, so that only idle payloads expire.
	ExtendDataOnAccess bool

	// WaitTimeout bounds waiting for a busy per-key lock, default 0 waits
	// for as long as the in-flight operation takes.
	//
	// On timeout the last known payload is served when there is one,
	// otherwise ErrWaitTimeout is returned.
	WaitTimeout time.Duration

	// DeleteExpiredAfter enables background janitors of both tiers deleting
	// entries that expired more than this delay ago, default 0 keeps entries
	// until they are removed explicitly.
	DeleteExpiredAfter time.Duration

	// DeleteExpiredJobInterval is delay between two consecutive cleanups,
	// default DeleteExpiredAfter/2.
	DeleteExpiredJobInterval time.Duration
}

// TwoTier caches expensive payloads behind a cheap freshness probe.
//
// The checker tier rate-limits the probe with a short TTL, the data tier
// holds the payload with a long one. Staleness is detected reactively: when
// a probe actually runs, an ExpiryCondition compares its result against the
// cached payload and drops the payload before the fresh probe result becomes
// visible. No cross-node messaging is needed, which makes the cache usable
// in a cluster of stateless nodes behind a non-sticky load balancer.
//
// Please use NewTwoTier to create instance.
type TwoTier[C, D any] struct {
	checker *ExpirableMap[C]
	data    *ExpirableMap[D]
	locks   atomic.Pointer[KeyMutex]

	config TwoTierConfig
	log    ctxd.Logger
	stat   stats.Tracker
}

// NewTwoTier creates a two-tier cache instance.
//
// The combined probe-then-fetch operation is locked per key, so concurrent
// demand for one key produces at most one probe and one payload fetch per
// TTL window. Optional configuration can be provided with TwoTierConfig
// (only first argument is used).
func NewTwoTier[C, D any](cfg ...TwoTierConfig) *TwoTier[C, D] {
	config := TwoTierConfig{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	if config.CheckerTimeToLive == 0 {
		config.CheckerTimeToLive = 5 * time.Second
	}

	if config.DataTimeToLive == 0 {
		config.DataTimeToLive = 50 * time.Minute
	}

	c := &TwoTier[C, D]{}
	c.config = config

	c.log = config.Logger
	if c.log == nil {
		c.log = ctxd.NoOpLogger{}
	}

	c.stat = config.Stats
	if c.stat == nil {
		c.stat = stats.NoOp{}
	}

	c.checker = NewExpirableMap[C](Config{
		Name:       config.Name + "-checker",
		Logger:     config.Logger,
		Stats:      config.Stats,
		TimeToLive: config.CheckerTimeToLive,

		DeleteExpiredAfter:       config.DeleteExpiredAfter,
		DeleteExpiredJobInterval: config.DeleteExpiredJobInterval,
	})

	c.data = NewExpirableMap[D](Config{
		Name:           config.Name + "-data",
		Logger:         config.Logger,
		Stats:          config.Stats,
		TimeToLive:     config.DataTimeToLive,
		ExtendOnAccess: config.ExtendDataOnAccess,

		DeleteExpiredAfter:       config.DeleteExpiredAfter,
		DeleteExpiredJobInterval: config.DeleteExpiredJobInterval,
	})

	c.locks.Store(NewKeyMutex())

	return c
}

// GetOrFetch returns the cached payload of a key, probing its freshness
// first.
//
// fetchChecker resolves the freshness marker and is rate-limited by the
// checker TTL. cond decides whether a cached payload survives a refreshed
// marker. fetchData rebuilds the payload and only runs when the payload is
// missing, expired or was just invalidated by cond.
//
// An absent marker means the entity behind the key is gone: entries of both
// tiers are dropped and absence is returned without calling fetchData.
func (c *TwoTier[C, D]) GetOrFetch(ctx context.Context, key string, fetchChecker FetchFunc[C], cond ExpiryCondition[C, D], fetchData FetchFunc[D]) (D, bool, error) {
	return c.getOrFetch(ctx, key, false, fetchChecker, cond, fetchData)
}

// GetOrFetchForced is GetOrFetch with an optional full refresh: with
// forceRefresh the entries of both tiers are dropped under the per-key lock
// before fetching.
//
// Concurrent forced refreshes of one key serialize on the lock and run their
// probe and payload fetch each in turn, the last result wins.
func (c *TwoTier[C, D]) GetOrFetchForced(ctx context.Context, key string, forceRefresh bool, fetchChecker FetchFunc[C], cond ExpiryCondition[C, D], fetchData FetchFunc[D]) (D, bool, error) {
	return c.getOrFetch(ctx, key, forceRefresh, fetchChecker, cond, fetchData)
}

func (c *TwoTier[C, D]) getOrFetch(ctx context.Context, key string, forceRefresh bool, fetchChecker FetchFunc[C], cond ExpiryCondition[C, D], fetchData FetchFunc[D]) (D, bool, error) {
	var zero D

	if key == "" {
		return zero, false, nil
	}

	lk := c.locks.Load().lock(ctx, key, c.config.WaitTimeout)
	if lk == nil {
		if err := ctx.Err(); err != nil {
			return zero, false, err
		}

		if e := c.data.PeekEntry(key); e.Present {
			c.log.Warn(ctx, "lock wait timed out, serving last known payload",
				"name", c.config.Name,
				"key", key)
			c.stat.Add(ctx, MetricStale, 1, "name", c.config.Name)

			return e.Value, true, nil
		}

		return zero, false, ErrWaitTimeout
	}
	defer lk.Unlock()

	if forceRefresh || SkipRead(ctx) {
		c.checker.Remove(ctx, key)
		c.data.Remove(ctx, key)
	}

	// TTL override in context binds to the data tier, the probe keeps its
	// own short window.
	_, found, err := c.checker.GetOrFetch(WithTTL(ctx, DefaultTTL), key, c.checkerFetch(key, fetchChecker, cond))
	if err != nil {
		return zero, false, err
	}

	if !found {
		// The entity behind the key is gone, drop whatever both tiers hold.
		c.checker.Remove(ctx, key)
		c.data.Remove(ctx, key)

		c.log.Debug(ctx, "absent checker, dropped both tiers",
			"name", c.config.Name,
			"key", key)
		c.stat.Add(ctx, MetricInvalidated, 1, "name", c.config.Name)

		return zero, false, nil
	}

	return c.data.GetOrFetch(ctx, key, fetchData)
}

// checkerFetch wraps the freshness probe so that the expiry decision runs
// only when the probe actually fires, and invalidation of the cached payload
// happens before the fresh marker is committed. Nobody can observe a new
// marker paired with an outdated payload.
func (c *TwoTier[C, D]) checkerFetch(key string, fetchChecker FetchFunc[C], cond ExpiryCondition[C, D]) FetchFunc[C] {
	return func(ctx context.Context) (C, bool, error) {
		prevChecker := c.checker.PeekEntry(key)
		prevData := c.data.PeekEntry(key)

		chk, found, err := fetchChecker(ctx)
		if err != nil || !found {
			return chk, found, err
		}

		if prevData.Present && !cond.KeepData(prevChecker, chk, prevData) {
			c.data.Remove(ctx, key)

			c.log.Debug(ctx, "marker refresh invalidated payload",
				"name", c.config.Name,
				"key", key)
			c.stat.Add(ctx, MetricInvalidated, 1, "name", c.config.Name)
		}

		return chk, true, nil
	}
}

// Warm populates the cache from an already known dataset, bypassing the
// expensive fetch path.
//
// checkerFor derives the freshness marker matching a payload. Entries are
// committed through the forced path with a condition that never keeps
// pre-existing payload, so the known good dataset always lands, and the
// first natural probe after warming decides freshness as usual.
func (c *TwoTier[C, D]) Warm(ctx context.Context, items map[string]D, checkerFor func(key string, value D) C) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))

	for key, value := range items {
		eg.Go(func() error {
			_, _, err := c.getOrFetch(ctx, key, true,
				func(context.Context) (C, bool, error) {
					return checkerFor(key, value), true, nil
				},
				KeepNever[C, D](),
				func(context.Context) (D, bool, error) {
					return value, true, nil
				})

			return err
		})
	}

	return eg.Wait()
}

// Remove drops the entries of both tiers of a key.
func (c *TwoTier[C, D]) Remove(ctx context.Context, key string) {
	c.locks.Load().Do(key, func() {
		c.checker.Remove(ctx, key)
		c.data.Remove(ctx, key)
	})
}

// Peek returns the cached payload of a key without probing or fetching.
//
// The payload may be expired or pending invalidation by the next probe.
func (c *TwoTier[C, D]) Peek(key string) (D, bool) {
	return c.data.Peek(key)
}

// Clear drops all entries of both tiers.
//
// Operations already under way finish against detached state, new callers
// start clean.
func (c *TwoTier[C, D]) Clear() {
	c.locks.Swap(NewKeyMutex())

	c.checker.Clear()
	c.data.Clear()
}

// Len returns the number of cached payloads.
func (c *TwoTier[C, D]) Len() int {
	return c.data.Len()
}

// IsEmpty reports whether no payloads are cached.
func (c *TwoTier[C, D]) IsEmpty() bool {
	return c.data.IsEmpty()
}

// Close stops background jobs of both tiers, it is safe to call multiple
// times.
func (c *TwoTier[C, D]) Close() {
	c.checker.Close()
	c.data.Close()
}
