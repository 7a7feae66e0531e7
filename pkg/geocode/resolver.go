package geocode

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harbourdata/cleanse-cli/internal/cost"
)

// DefaultRateLimit matches the provider's documented ceiling of 50
// requests per second.
const DefaultRateLimit = 50.0

// SessionStats is a point-in-time snapshot of a Resolver's process-lifetime
// counters. It is never persisted and resets on restart.
type SessionStats struct {
	APICallsMade  int64   `json:"api_requests"`
	CacheHits     int64   `json:"cache_hits"`
	TotalLookups  int64   `json:"total_lookups"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// Resolver is the cached, rate-limited geocoder: the single public
// "resolve address" operation. It holds no address state between calls
// beyond its session counters, which are safe under concurrent use.
type Resolver struct {
	cache    *Cache
	provider Provider
	limiter  *rate.Limiter
	costs    *cost.Calculator

	apiCalls  atomic.Int64
	cacheHits atomic.Int64
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithRateLimit sets the maximum provider calls per second. Zero or
// negative disables rate limiting.
func WithRateLimit(rps float64) ResolverOption {
	return func(r *Resolver) {
		r.limiter = newLimiter(rps)
	}
}

// WithCostCalculator sets the calculator used for session cost estimates.
func WithCostCalculator(c *cost.Calculator) ResolverOption {
	return func(r *Resolver) {
		r.costs = c
	}
}

// NewResolver creates a Resolver over the given cache and provider.
func NewResolver(cache *Cache, provider Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:    cache,
		provider: provider,
		limiter:  newLimiter(DefaultRateLimit),
		costs:    cost.NewCalculator(cost.DefaultRates()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newLimiter spaces permits 1/rps apart (burst 1) so calls from any number
// of goroutines sharing the Resolver respect the global ceiling.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Resolve geocodes one address through the cache. It returns (nil, nil) for
// blank input, the cached or fresh result on success (including the normal
// Valid=false not-found outcome, which is cached), and (nil, error) when
// the provider call failed transiently — nothing is cached in that case and
// the caller may retry later. No retries happen here.
func (r *Resolver) Resolve(ctx context.Context, address, actor string, forceRecheck bool) (*Result, error) {
	if strings.TrimSpace(address) == "" {
		return nil, nil
	}

	if !forceRecheck {
		if cached := r.cache.Lookup(ctx, address); cached != nil {
			r.cacheHits.Add(1)
			return cached, nil
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{Status: "TRANSPORT", Message: "rate limit wait interrupted", Err: err}
	}

	result, err := r.provider.Resolve(ctx, address)
	r.apiCalls.Add(1) // a call was made, whatever the outcome
	if err != nil {
		zap.L().Warn("geocode: provider call failed",
			zap.String("provider", r.provider.Name()),
			zap.Error(err),
		)
		return nil, err
	}

	if forceRecheck {
		r.cache.ManualRecheck(ctx, address, result, actor)
	} else {
		r.cache.Store(ctx, address, result, actor)
	}
	return result, nil
}

// Cache exposes the underlying address cache for administrative operations.
func (r *Resolver) Cache() *Cache { return r.cache }

// Stats returns the current session counters.
func (r *Resolver) Stats() SessionStats {
	calls := r.apiCalls.Load()
	hits := r.cacheHits.Load()

	s := SessionStats{
		APICallsMade:  calls,
		CacheHits:     hits,
		TotalLookups:  calls + hits,
		EstimatedCost: r.costs.Geocode(calls),
	}
	if s.TotalLookups > 0 {
		s.CacheHitRate = float64(hits) / float64(s.TotalLookups) * 100
	}
	return s
}
