package freshcache

// Metric names reported to stats.Tracker.
const (
	// MetricHit is a counter of cache hits.
	MetricHit = "cache_hit"

	// MetricMiss is a counter of cache misses.
	MetricMiss = "cache_miss"

	// MetricExpired is a counter of expired reads preceding a refetch.
	MetricExpired = "cache_expired"

	// MetricWrite is a counter of committed cache values.
	MetricWrite = "cache_write"

	// MetricBuild is a counter of fetch function invocations.
	MetricBuild = "cache_build"

	// MetricFailed is a counter of failed fetch function invocations.
	MetricFailed = "cache_failed"

	// MetricItems is a gauge of cache items count.
	MetricItems = "cache_items"

	// MetricEvict is a counter of entries deleted by the janitor.
	MetricEvict = "cache_evict"

	// MetricStale is a counter of last known values served on lock wait timeout.
	MetricStale = "cache_stale"

	// MetricInvalidated is a counter of payloads dropped by a freshness check.
	MetricInvalidated = "cache_invalidated"
)
