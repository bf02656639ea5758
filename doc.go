// Package freshcache provides an expirable cache with reactive invalidation.
//
// Built for clusters of stateless nodes behind a non-sticky load balancer:
// staleness is detected at access time with a cheap freshness probe instead
// of cross-node invalidation messaging.
//
// Features:
//
//   - Fetches are locked per key, concurrent demand triggers a single fetch.
//   - Two-tier cache pairs a short-lived freshness probe with a long-lived payload.
//   - Pluggable condition decides whether a refreshed probe invalidates the payload.
//   - Falsy values are cached, absent results are returned but never cached.
//   - Clearing detaches in-flight operations instead of blocking on them.
//   - Optional wait timeout serves last known value instead of queueing behind a slow fetch.
//   - Optional background janitor prunes long-expired entries and their idle locks.
//   - Allows logging, stats collection.
//   - Propagates context to fetch functions, per-call TTL override.
//   - Allows mass expiration and removal (drop cache).
//   - Expiration jitter to avoid massive synchronized expiration.
package freshcache
