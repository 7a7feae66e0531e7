package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

// SQLiteStore implements geocode.Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS address_cache (
	address_hash       TEXT PRIMARY KEY,
	original_address   TEXT NOT NULL,
	normalized_address TEXT NOT NULL,
	result             TEXT NOT NULL,
	geocoded_at        DATETIME NOT NULL,
	geocoded_by        TEXT NOT NULL DEFAULT '',
	usage_count        INTEGER NOT NULL DEFAULT 1,
	last_used_at       DATETIME NOT NULL,
	manual_override    INTEGER NOT NULL DEFAULT 0,
	override_at        DATETIME,
	override_by        TEXT
);

CREATE INDEX IF NOT EXISTS idx_address_cache_last_used ON address_cache(last_used_at);
`

// Migrate creates the cache schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements geocode.Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*geocode.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address_hash, original_address, normalized_address, result,
		       geocoded_at, geocoded_by, usage_count, last_used_at,
		       manual_override, override_at, override_by
		FROM address_cache WHERE address_hash = ?`,
		key,
	)

	var e geocode.Entry
	var resultJSON string
	var overrideAt sql.NullTime
	var overrideBy sql.NullString

	err := row.Scan(
		&e.Key, &e.OriginalAddress, &e.NormalizedAddress, &resultJSON,
		&e.GeocodedAt, &e.GeocodedBy, &e.UsageCount, &e.LastUsedAt,
		&e.ManualOverride, &overrideAt, &overrideBy,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entry")
	}

	if err := json.Unmarshal([]byte(resultJSON), &e.Result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	if overrideAt.Valid {
		t := overrideAt.Time
		e.OverrideAt = &t
	}
	if overrideBy.Valid {
		e.OverrideBy = overrideBy.String
	}
	return &e, nil
}

// Touch implements geocode.Store.
func (s *SQLiteStore) Touch(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE address_cache SET usage_count = usage_count + 1, last_used_at = ? WHERE address_hash = ?`,
		time.Now().UTC(), key,
	)
	return eris.Wrapf(err, "sqlite: touch %s", key)
}

// Put implements geocode.Store. On conflict the result merges into the
// existing row; usage_count and geocoded_at are preserved so concurrent
// first-time resolutions of one address converge without losing counters.
func (s *SQLiteStore) Put(ctx context.Context, e *geocode.Entry) error {
	resultJSON, err := json.Marshal(e.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO address_cache (
			address_hash, original_address, normalized_address, result,
			geocoded_at, geocoded_by, usage_count, last_used_at, manual_override
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(address_hash) DO UPDATE SET
			result       = excluded.result,
			geocoded_by  = excluded.geocoded_by,
			last_used_at = excluded.last_used_at`,
		e.Key, e.OriginalAddress, e.NormalizedAddress, string(resultJSON),
		e.GeocodedAt, e.GeocodedBy, e.UsageCount, e.LastUsedAt,
	)
	return eris.Wrapf(err, "sqlite: put %s", e.Key)
}

// Override implements geocode.Store.
func (s *SQLiteStore) Override(ctx context.Context, e *geocode.Entry) error {
	resultJSON, err := json.Marshal(e.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO address_cache (
			address_hash, original_address, normalized_address, result,
			geocoded_at, geocoded_by, usage_count, last_used_at,
			manual_override, override_at, override_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(address_hash) DO UPDATE SET
			result          = excluded.result,
			manual_override = 1,
			override_at     = excluded.override_at,
			override_by     = excluded.override_by`,
		e.Key, e.OriginalAddress, e.NormalizedAddress, string(resultJSON),
		e.GeocodedAt, e.GeocodedBy, e.UsageCount, e.LastUsedAt,
		e.OverrideAt, e.OverrideBy,
	)
	return eris.Wrapf(err, "sqlite: override %s", e.Key)
}

// Stats implements geocode.Store.
func (s *SQLiteStore) Stats(ctx context.Context) (*geocode.CacheStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN json_extract(result, '$.valid') THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN json_extract(result, '$.partial_match') THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN manual_override THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(usage_count), 0)
		FROM address_cache`,
	)

	var st geocode.CacheStats
	if err := row.Scan(&st.Total, &st.Valid, &st.PartialMatches, &st.ManualOverrides, &st.TotalUsage); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}
	st.Invalid = st.Total - st.Valid
	return &st, nil
}

// ListInvalid implements geocode.Store.
func (s *SQLiteStore) ListInvalid(ctx context.Context, limit int) ([]geocode.InvalidEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT original_address, geocoded_at, usage_count
		FROM address_cache
		WHERE NOT json_extract(result, '$.valid')
		ORDER BY geocoded_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list invalid")
	}
	defer rows.Close()

	var entries []geocode.InvalidEntry
	for rows.Next() {
		var ie geocode.InvalidEntry
		if err := rows.Scan(&ie.Address, &ie.GeocodedAt, &ie.UsageCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan invalid entry")
		}
		entries = append(entries, ie)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list invalid iterate")
}

// Purge implements geocode.Store, deleting in bounded batches.
func (s *SQLiteStore) Purge(ctx context.Context, cutoff *time.Time) (int, error) {
	total := 0
	for {
		var res sql.Result
		var err error
		if cutoff != nil {
			res, err = s.db.ExecContext(ctx, `
				DELETE FROM address_cache WHERE address_hash IN (
					SELECT address_hash FROM address_cache WHERE last_used_at < ? LIMIT ?
				)`,
				cutoff.UTC(), purgeBatchSize,
			)
		} else {
			res, err = s.db.ExecContext(ctx, `
				DELETE FROM address_cache WHERE address_hash IN (
					SELECT address_hash FROM address_cache LIMIT ?
				)`,
				purgeBatchSize,
			)
		}
		if err != nil {
			return total, eris.Wrap(err, "sqlite: purge batch")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "sqlite: purge rows affected")
		}
		total += int(n)
		if n < purgeBatchSize {
			return total, nil
		}
	}
}
