// Package geocode resolves free-text addresses to structured locations via
// the Google Geocoding API, backed by a persistent hash-keyed cache and an
// outbound rate limiter so each unique address costs at most one API call.
package geocode

import (
	"context"
	"fmt"
	"time"
)

// Result holds the structured outcome of geocoding one address. A Result is
// immutable once stored; Valid=false means the provider could not interpret
// the address (ErrorReason says why), and coordinates are present exactly
// when Valid is true.
type Result struct {
	FormattedAddress string   `json:"formatted_address"`
	StreetNumber     string   `json:"street_number"`
	StreetName       string   `json:"street_name"`
	Suburb           string   `json:"suburb"`
	State            string   `json:"state"`
	Postcode         string   `json:"postcode"`
	Country          string   `json:"country"`
	Latitude         *float64 `json:"lat,omitempty"`
	Longitude        *float64 `json:"lng,omitempty"`
	Valid            bool     `json:"valid"`
	PartialMatch     bool     `json:"partial_match"`
	PlaceID          string   `json:"place_id,omitempty"`
	LocationType     string   `json:"location_type,omitempty"`
	ErrorReason      string   `json:"error_reason,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (r *Result) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// ProviderError reports a transient or configuration failure from the
// geocoding provider: quota exceeded, request denied, transport failure.
// Results carrying this error must never be cached; the failure reflects
// the call, not the address.
type ProviderError struct {
	Status  string // provider status code, or "TRANSPORT" for network failures
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("geocode: provider %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("geocode: provider %s", e.Status)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Entry is one cached resolution, keyed by the address hash. The store is
// the sole owner of entries; callers receive copies.
type Entry struct {
	Key               string     `json:"key"`
	OriginalAddress   string     `json:"original_address"`
	NormalizedAddress string     `json:"normalized_address"`
	Result            Result     `json:"result"`
	GeocodedAt        time.Time  `json:"geocoded_at"`
	GeocodedBy        string     `json:"geocoded_by"`
	UsageCount        int        `json:"usage_count"`
	LastUsedAt        time.Time  `json:"last_used_at"`
	ManualOverride    bool       `json:"manual_override"`
	OverrideAt        *time.Time `json:"override_at,omitempty"`
	OverrideBy        string     `json:"override_by,omitempty"`
}

// CacheStats aggregates the persistent cache contents.
type CacheStats struct {
	Total             int     `json:"total_addresses"`
	Valid             int     `json:"valid"`
	Invalid           int     `json:"invalid"`
	PartialMatches    int     `json:"partial_matches"`
	ManualOverrides   int     `json:"manual_overrides"`
	TotalUsage        int     `json:"total_usage"`
	DeduplicationRate float64 `json:"deduplication_rate"`
}

// InvalidEntry is one failed resolution, listed for operator review.
type InvalidEntry struct {
	Address    string    `json:"address"`
	GeocodedAt time.Time `json:"geocoded_at"`
	UsageCount int       `json:"usage_count"`
}

// Store is the persistence contract for cached entries. Any key-value or
// document store addressable by address hash satisfies it; implementations
// live in internal/store.
type Store interface {
	// Get returns the entry for key, or nil when absent.
	Get(ctx context.Context, key string) (*Entry, error)

	// Touch increments the entry's usage counter and refreshes last_used_at.
	Touch(ctx context.Context, key string) error

	// Put creates the entry, or merges the result into an existing entry
	// without resetting usage_count or geocoded_at.
	Put(ctx context.Context, e *Entry) error

	// Override unconditionally replaces the stored result and records the
	// manual-override audit fields, creating the entry if absent.
	Override(ctx context.Context, e *Entry) error

	// Stats returns aggregate counts; DeduplicationRate is filled by the caller.
	Stats(ctx context.Context) (*CacheStats, error)

	// ListInvalid returns up to limit entries whose result is invalid.
	ListInvalid(ctx context.Context, limit int) ([]InvalidEntry, error)

	// Purge deletes entries last used before cutoff, or all entries when
	// cutoff is nil, returning the number removed.
	Purge(ctx context.Context, cutoff *time.Time) (int, error)

	Close() error
}
