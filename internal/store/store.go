// Package store persists address cache entries in SQLite or Postgres,
// keyed by the normalized-address hash.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

// New opens the cache store selected by driver and runs migrations.
// SQLite is the default backend for local single-operator runs; Postgres
// serves shared deployments.
func New(ctx context.Context, driver, databaseURL string) (geocode.Store, error) {
	switch driver {
	case "sqlite", "":
		s, err := NewSQLite(databaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", driver)
	}
}

// purgeBatchSize caps one delete statement so a purge never holds a long
// transaction over a large cache.
const purgeBatchSize = 500
