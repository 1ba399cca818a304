// Package cache provides a TTL key/value layer fronting expensive store
// reads. The cache is never the source of truth: every implementation
// degrades to miss/no-op rather than surfacing errors, so calling code never
// branches on cache availability.
package cache

import (
	"context"
	"time"
)

// Cache is the caching interface used by the scoring and analytics layers.
// A miss is not an error; implementations must never block on store I/O.
type Cache interface {
	// Get returns the cached value and true, or nil and false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with an expiration, overwriting silently.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes a key. Idempotent; absent keys are not an error.
	Delete(ctx context.Context, key string)

	// InvalidatePrefix removes every key sharing a prefix.
	InvalidatePrefix(ctx context.Context, prefix string)

	// Stats returns a snapshot of cache activity.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	// KeyCount is the number of live entries.
	KeyCount int

	// HitRate is the cache hit rate (0-1).
	HitRate float64

	// TotalHits is the number of cache hits.
	TotalHits int64

	// TotalMisses is the number of cache misses.
	TotalMisses int64

	// MemoryEstimate is the approximate size of cached values in bytes.
	MemoryEstimate int64
}

// Key prefixes used by callers. Invalidation is prefix-based.
const (
	PrefixRiskScore   = "risk:score:"
	PrefixRiskSummary = "risk:summary:"
	PrefixHighRisk    = "risk:high:"
	PrefixCoverage    = "map:coverage:"
)
