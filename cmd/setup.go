package main

import (
	"context"
	"time"

	"github.com/harbourdata/cleanse-cli/internal/cost"
	"github.com/harbourdata/cleanse-cli/internal/store"
	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

// openStore opens the configured cache backend. Callers own Close.
func openStore(ctx context.Context) (geocode.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	return store.New(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}

// buildResolver wires the cache, provider, rate limiter, and cost
// calculator into a Resolver from configuration.
func buildResolver(st geocode.Store) (*geocode.Resolver, error) {
	if err := cfg.Validate("google"); err != nil {
		return nil, err
	}

	provider := geocode.NewGoogleProvider(cfg.Google.Key,
		geocode.WithTimeout(time.Duration(cfg.Google.TimeoutSecs)*time.Second),
	)

	return geocode.NewResolver(
		geocode.NewCache(st),
		provider,
		geocode.WithRateLimit(cfg.Geocode.MaxRequestsPerSecond),
		geocode.WithCostCalculator(cost.NewCalculator(cfg.Pricing)),
	), nil
}
