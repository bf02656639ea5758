package freshcache

// SentinelError is an error.
type SentinelError string

const (
	// ErrWaitTimeout indicates lock wait timed out with no cached fallback.
	ErrWaitTimeout = SentinelError("lock wait timed out")

	// ErrNothingToInvalidate indicates no caches were added to Invalidator.
	ErrNothingToInvalidate = SentinelError("nothing to invalidate")

	// ErrAlreadyInvalidated indicates recent invalidation.
	ErrAlreadyInvalidated = SentinelError("already invalidated")
)

// Error implements error.
func (e SentinelError) Error() string {
	return string(e)
}
