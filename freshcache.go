package freshcache

import (
	"context"
	"time"
)

// DefaultTTL is a zero TTL override that resolves to configured time to live.
const DefaultTTL = time.Duration(0)

// FetchFunc loads the value of a cache key from its upstream source.
//
// Returned found reports whether the value exists upstream: false is a
// meaningful "no data" signal, it is passed through to the caller but never
// cached, so every following access retries the source. Falsy values (false,
// zero, an empty collection) returned with found true are cached as regular
// values. A failed fetch leaves cached state untouched.
type FetchFunc[V any] func(ctx context.Context) (value V, found bool, err error)

// Entry is a point-in-time snapshot of the cached state of a key.
type Entry[V any] struct {
	// Value is the cached value, zero when Present is false.
	Value V

	// Present distinguishes a cached falsy value from no value at all.
	Present bool

	// RefreshedAt is the time the value was last committed or extended.
	RefreshedAt time.Time
}

// ExpiryCondition decides whether a cached payload is still usable once its
// freshness marker had to be refetched.
//
// prevChecker is the expired marker state (absent when none was cached),
// freshChecker is the marker about to replace it, data is the currently
// cached payload. Returning true keeps the payload, false drops it before
// the fresh marker becomes visible to other callers.
type ExpiryCondition[C, D any] interface {
	KeepData(prevChecker Entry[C], freshChecker C, data Entry[D]) bool
}

// ExpiryConditionFunc implements ExpiryCondition with a function.
type ExpiryConditionFunc[C, D any] func(prevChecker Entry[C], freshChecker C, data Entry[D]) bool

// KeepData implements ExpiryCondition.
func (f ExpiryConditionFunc[C, D]) KeepData(prevChecker Entry[C], freshChecker C, data Entry[D]) bool {
	return f(prevChecker, freshChecker, data)
}

// KeepAlways is a condition that never drops cached payload on a marker refresh.
func KeepAlways[C, D any]() ExpiryCondition[C, D] {
	return ExpiryConditionFunc[C, D](func(Entry[C], C, Entry[D]) bool {
		return true
	})
}

// KeepNever is a condition that drops cached payload on every marker refresh.
func KeepNever[C, D any]() ExpiryCondition[C, D] {
	return ExpiryConditionFunc[C, D](func(Entry[C], C, Entry[D]) bool {
		return false
	})
}
