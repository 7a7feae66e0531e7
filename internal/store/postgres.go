package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

// Pool abstracts the subset of pgxpool.Pool the store uses, allowing
// pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements geocode.Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool creates a PostgresStore over an existing pool.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS address_cache (
	address_hash       TEXT PRIMARY KEY,
	original_address   TEXT NOT NULL,
	normalized_address TEXT NOT NULL,
	result             JSONB NOT NULL,
	geocoded_at        TIMESTAMPTZ NOT NULL,
	geocoded_by        TEXT NOT NULL DEFAULT '',
	usage_count        INTEGER NOT NULL DEFAULT 1,
	last_used_at       TIMESTAMPTZ NOT NULL,
	manual_override    BOOLEAN NOT NULL DEFAULT FALSE,
	override_at        TIMESTAMPTZ,
	override_by        TEXT
);

CREATE INDEX IF NOT EXISTS idx_address_cache_last_used ON address_cache(last_used_at);
CREATE INDEX IF NOT EXISTS idx_address_cache_invalid ON address_cache(geocoded_at)
	WHERE NOT (result->>'valid')::boolean;
`

// Migrate creates the cache schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Get implements geocode.Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (*geocode.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT address_hash, original_address, normalized_address, result,
		       geocoded_at, geocoded_by, usage_count, last_used_at,
		       manual_override, override_at, override_by
		FROM address_cache WHERE address_hash = $1`,
		key,
	)

	var e geocode.Entry
	var resultJSON []byte
	var overrideAt *time.Time
	var overrideBy *string

	err := row.Scan(
		&e.Key, &e.OriginalAddress, &e.NormalizedAddress, &resultJSON,
		&e.GeocodedAt, &e.GeocodedBy, &e.UsageCount, &e.LastUsedAt,
		&e.ManualOverride, &overrideAt, &overrideBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get entry")
	}

	if err := json.Unmarshal(resultJSON, &e.Result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	e.OverrideAt = overrideAt
	if overrideBy != nil {
		e.OverrideBy = *overrideBy
	}
	return &e, nil
}

// Touch implements geocode.Store.
func (s *PostgresStore) Touch(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE address_cache SET usage_count = usage_count + 1, last_used_at = now() WHERE address_hash = $1`,
		key,
	)
	return eris.Wrapf(err, "postgres: touch %s", key)
}

// Put implements geocode.Store. See SQLiteStore.Put for the merge rule.
func (s *PostgresStore) Put(ctx context.Context, e *geocode.Entry) error {
	resultJSON, err := json.Marshal(e.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO address_cache (
			address_hash, original_address, normalized_address, result,
			geocoded_at, geocoded_by, usage_count, last_used_at, manual_override
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
		ON CONFLICT (address_hash) DO UPDATE SET
			result       = EXCLUDED.result,
			geocoded_by  = EXCLUDED.geocoded_by,
			last_used_at = EXCLUDED.last_used_at`,
		e.Key, e.OriginalAddress, e.NormalizedAddress, resultJSON,
		e.GeocodedAt, e.GeocodedBy, e.UsageCount, e.LastUsedAt,
	)
	return eris.Wrapf(err, "postgres: put %s", e.Key)
}

// Override implements geocode.Store.
func (s *PostgresStore) Override(ctx context.Context, e *geocode.Entry) error {
	resultJSON, err := json.Marshal(e.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO address_cache (
			address_hash, original_address, normalized_address, result,
			geocoded_at, geocoded_by, usage_count, last_used_at,
			manual_override, override_at, override_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10)
		ON CONFLICT (address_hash) DO UPDATE SET
			result          = EXCLUDED.result,
			manual_override = TRUE,
			override_at     = EXCLUDED.override_at,
			override_by     = EXCLUDED.override_by`,
		e.Key, e.OriginalAddress, e.NormalizedAddress, resultJSON,
		e.GeocodedAt, e.GeocodedBy, e.UsageCount, e.LastUsedAt,
		e.OverrideAt, e.OverrideBy,
	)
	return eris.Wrapf(err, "postgres: override %s", e.Key)
}

// Stats implements geocode.Store.
func (s *PostgresStore) Stats(ctx context.Context) (*geocode.CacheStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE (result->>'valid')::boolean),
		       COUNT(*) FILTER (WHERE (result->>'partial_match')::boolean),
		       COUNT(*) FILTER (WHERE manual_override),
		       COALESCE(SUM(usage_count), 0)
		FROM address_cache`,
	)

	var st geocode.CacheStats
	if err := row.Scan(&st.Total, &st.Valid, &st.PartialMatches, &st.ManualOverrides, &st.TotalUsage); err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	st.Invalid = st.Total - st.Valid
	return &st, nil
}

// ListInvalid implements geocode.Store.
func (s *PostgresStore) ListInvalid(ctx context.Context, limit int) ([]geocode.InvalidEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT original_address, geocoded_at, usage_count
		FROM address_cache
		WHERE NOT (result->>'valid')::boolean
		ORDER BY geocoded_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list invalid")
	}
	defer rows.Close()

	var entries []geocode.InvalidEntry
	for rows.Next() {
		var ie geocode.InvalidEntry
		if err := rows.Scan(&ie.Address, &ie.GeocodedAt, &ie.UsageCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan invalid entry")
		}
		entries = append(entries, ie)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list invalid iterate")
}

// Purge implements geocode.Store, deleting in bounded batches.
func (s *PostgresStore) Purge(ctx context.Context, cutoff *time.Time) (int, error) {
	total := 0
	for {
		var tag pgconn.CommandTag
		var err error
		if cutoff != nil {
			tag, err = s.pool.Exec(ctx, `
				DELETE FROM address_cache WHERE address_hash IN (
					SELECT address_hash FROM address_cache WHERE last_used_at < $1 LIMIT $2
				)`,
				cutoff.UTC(), purgeBatchSize,
			)
		} else {
			tag, err = s.pool.Exec(ctx, `
				DELETE FROM address_cache WHERE address_hash IN (
					SELECT address_hash FROM address_cache LIMIT $1
				)`,
				purgeBatchSize,
			)
		}
		if err != nil {
			return total, eris.Wrap(err, "postgres: purge batch")
		}
		n := tag.RowsAffected()
		total += int(n)
		if n < purgeBatchSize {
			return total, nil
		}
	}
}
