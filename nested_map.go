package freshcache

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// ExpirableNestedMap groups expirable values under a parent key, so that
// every value derived from one source can be dropped in a single call while
// values of other parents stay untouched.
type ExpirableNestedMap[V any] struct {
	children *xsync.MapOf[string, *ExpirableMap[V]]
	config   Config
}

// NewExpirableNestedMap creates a two-level keyed cache of expirable values
// with optional configuration.
//
// Child maps share the configuration and are created lazily per parent key.
func NewExpirableNestedMap[V any](cfg ...Config) *ExpirableNestedMap[V] {
	config := Config{}

	if len(cfg) >= 1 {
		config = cfg[0]
	}

	return &ExpirableNestedMap[V]{
		children: xsync.NewMapOf[string, *ExpirableMap[V]](),
		config:   config,
	}
}

// GetOrFetch returns the cached child value, fetching it when the cache
// holds none or the held one expired. Empty parent or child key is a no-op.
func (c *ExpirableNestedMap[V]) GetOrFetch(ctx context.Context, parent, child string, fetch FetchFunc[V]) (V, bool, error) {
	if parent == "" || child == "" {
		var zero V

		return zero, false, nil
	}

	m, _ := c.children.LoadOrCompute(parent, func() *ExpirableMap[V] {
		return NewExpirableMap[V](c.config)
	})

	return m.GetOrFetch(ctx, child, fetch)
}

// Peek returns the cached child value without fetching, disregarding
// freshness.
func (c *ExpirableNestedMap[V]) Peek(parent, child string) (V, bool) {
	m, found := c.children.Load(parent)
	if !found {
		var zero V

		return zero, false
	}

	return m.Peek(child)
}

// Remove drops every child cached under a parent key in one operation.
//
// The child map is detached atomically: a later access of the same parent
// starts from a fresh empty map, an in-flight fetch finishes against the
// detached one and stays invisible.
func (c *ExpirableNestedMap[V]) Remove(ctx context.Context, parent string) {
	m, found := c.children.LoadAndDelete(parent)
	if !found {
		return
	}

	m.Close()

	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "removed parent cache entries",
			"name", c.config.Name,
			"parent", parent,
			"count", m.Len())
	}
}

// Len returns the total number of cached values across parents.
func (c *ExpirableNestedMap[V]) Len() int {
	n := 0

	c.children.Range(func(_ string, m *ExpirableMap[V]) bool {
		n += m.Len()

		return true
	})

	return n
}

// IsEmpty reports whether no values are cached under any parent.
func (c *ExpirableNestedMap[V]) IsEmpty() bool {
	return c.Len() == 0
}

// Clear drops all parents with their children.
func (c *ExpirableNestedMap[V]) Clear() {
	c.children.Range(func(parent string, _ *ExpirableMap[V]) bool {
		if m, found := c.children.LoadAndDelete(parent); found {
			m.Close()
		}

		return true
	})
}

// Close stops background jobs of all child maps.
func (c *ExpirableNestedMap[V]) Close() {
	c.children.Range(func(_ string, m *ExpirableMap[V]) bool {
		m.Close()

		return true
	})
}
