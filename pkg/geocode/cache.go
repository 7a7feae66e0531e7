package geocode

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cache is the persistent address cache: normalization, hashing, and the
// at-most-once bookkeeping around a Store. Persistence failures degrade to
// cache misses and no-op writes so resolution keeps working against the
// provider; the errors are logged, never swallowed silently.
type Cache struct {
	store Store
	now   func() time.Time
}

// NewCache creates a Cache over the given store.
func NewCache(store Store) *Cache {
	return &Cache{store: store, now: time.Now}
}

// Lookup returns the cached result for a raw address, or nil when the
// address is blank, unknown, or the store is unreachable. A hit bumps the
// entry's usage counter and last-used timestamp.
func (c *Cache) Lookup(ctx context.Context, raw string) *Result {
	key := KeyFor(raw)
	if key == "" {
		return nil
	}

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		zap.L().Warn("address cache: lookup failed, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}
	if entry == nil {
		return nil
	}

	// Usage counters are observability, not override semantics; a failed
	// bump must not turn the hit into a miss.
	if err := c.store.Touch(ctx, key); err != nil {
		zap.L().Warn("address cache: usage update failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	result := entry.Result
	return &result
}

// Store persists a freshly computed result and returns the cache key, or ""
// when the address is anonymous (normalizes to nothing) or the write failed.
// Re-storing an existing key merges the result without resetting usage_count
// or geocoded_at, so two concurrent first-time resolutions converge.
func (c *Cache) Store(ctx context.Context, raw string, result *Result, actor string) string {
	key := KeyFor(raw)
	if key == "" {
		return ""
	}

	now := c.now().UTC()
	entry := &Entry{
		Key:               key,
		OriginalAddress:   strings.TrimSpace(raw),
		NormalizedAddress: Normalize(raw),
		Result:            *result,
		GeocodedAt:        now,
		GeocodedBy:        actor,
		UsageCount:        1,
		LastUsedAt:        now,
	}

	if err := c.store.Put(ctx, entry); err != nil {
		zap.L().Warn("address cache: store failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return ""
	}
	return key
}

// ManualRecheck unconditionally overwrites the stored result for a raw
// address, marking the entry as manually overridden with audit attribution.
// Only invoked when a human explicitly requests re-resolution.
func (c *Cache) ManualRecheck(ctx context.Context, raw string, result *Result, actor string) string {
	key := KeyFor(raw)
	if key == "" {
		return ""
	}

	now := c.now().UTC()
	entry := &Entry{
		Key:               key,
		OriginalAddress:   strings.TrimSpace(raw),
		NormalizedAddress: Normalize(raw),
		Result:            *result,
		GeocodedAt:        now,
		GeocodedBy:        actor,
		UsageCount:        1,
		LastUsedAt:        now,
		ManualOverride:    true,
		OverrideAt:        &now,
		OverrideBy:        actor,
	}

	if err := c.store.Override(ctx, entry); err != nil {
		zap.L().Warn("address cache: manual recheck failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return ""
	}
	return key
}

// Stats returns aggregate cache statistics. The deduplication rate is the
// percentage of lifetime lookups served without a provider call; each
// entry's first write counts as one usage.
func (c *Cache) Stats(ctx context.Context) (*CacheStats, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.TotalUsage > 0 {
		rate := float64(stats.TotalUsage-stats.Total) / float64(stats.TotalUsage) * 100
		stats.DeduplicationRate = math.Round(rate*10) / 10
	}
	return stats, nil
}

// defaultInvalidLimit bounds operator review listings.
const defaultInvalidLimit = 100

// InvalidEntries lists addresses the provider could not resolve.
func (c *Cache) InvalidEntries(ctx context.Context, limit int) ([]InvalidEntry, error) {
	if limit <= 0 {
		limit = defaultInvalidLimit
	}
	return c.store.ListInvalid(ctx, limit)
}

// Purge deletes entries last used more than olderThanDays ago, or the whole
// cache when olderThanDays <= 0. Returns the number of entries removed.
func (c *Cache) Purge(ctx context.Context, olderThanDays int) (int, error) {
	var cutoff *time.Time
	if olderThanDays > 0 {
		t := c.now().UTC().AddDate(0, 0, -olderThanDays)
		cutoff = &t
	}
	return c.store.Purge(ctx, cutoff)
}
