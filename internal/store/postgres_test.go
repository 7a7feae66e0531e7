package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbourdata/cleanse-cli/pkg/geocode"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock), mock
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockPostgres(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS address_cache").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	s, mock := newMockPostgres(t)

	now := time.Now().UTC()
	resultJSON, err := json.Marshal(geocode.Result{FormattedAddress: "5 Main Street", Valid: true})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT address_hash, original_address, normalized_address, result").
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows([]string{
			"address_hash", "original_address", "normalized_address", "result",
			"geocoded_at", "geocoded_by", "usage_count", "last_used_at",
			"manual_override", "override_at", "override_by",
		}).AddRow(
			"abc123", "5 Main St", "5 main street", resultJSON,
			now, "cli", 3, now,
			false, nil, nil,
		))

	entry, err := s.Get(context.Background(), "abc123")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "abc123", entry.Key)
	assert.Equal(t, "5 Main St", entry.OriginalAddress)
	assert.Equal(t, 3, entry.UsageCount)
	assert.True(t, entry.Result.Valid)
	assert.Nil(t, entry.OverrideAt)
	assert.Empty(t, entry.OverrideBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetMissing(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT address_hash, original_address, normalized_address, result").
		WithArgs("absent").
		WillReturnError(pgx.ErrNoRows)

	entry, err := s.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTouch(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec("UPDATE address_cache SET usage_count = usage_count").
		WithArgs("abc123").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.Touch(context.Background(), "abc123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPut(t *testing.T) {
	s, mock := newMockPostgres(t)

	now := time.Now().UTC()
	entry := &geocode.Entry{
		Key:               "abc123",
		OriginalAddress:   "5 Main St",
		NormalizedAddress: "5 main street",
		Result:            geocode.Result{FormattedAddress: "5 Main Street", Valid: true},
		GeocodedAt:        now,
		GeocodedBy:        "cli",
		UsageCount:        1,
		LastUsedAt:        now,
	}
	resultJSON, err := json.Marshal(entry.Result)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO address_cache").
		WithArgs("abc123", "5 Main St", "5 main street", resultJSON, now, "cli", 1, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Put(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOverride(t *testing.T) {
	s, mock := newMockPostgres(t)

	now := time.Now().UTC()
	entry := &geocode.Entry{
		Key:               "abc123",
		OriginalAddress:   "5 Main St",
		NormalizedAddress: "5 main street",
		Result:            geocode.Result{FormattedAddress: "5 Main Street", Valid: true},
		GeocodedAt:        now,
		GeocodedBy:        "operator",
		UsageCount:        1,
		LastUsedAt:        now,
		ManualOverride:    true,
		OverrideAt:        &now,
		OverrideBy:        "operator",
	}
	resultJSON, err := json.Marshal(entry.Result)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO address_cache").
		WithArgs("abc123", "5 Main St", "5 main street", resultJSON, now, "operator", 1, now, &now, "operator").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Override(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStats(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"count", "valid", "partial", "overrides", "usage"}).
			AddRow(10, 8, 1, 2, 25))

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, st.Total)
	assert.Equal(t, 8, st.Valid)
	assert.Equal(t, 2, st.Invalid)
	assert.Equal(t, 1, st.PartialMatches)
	assert.Equal(t, 2, st.ManualOverrides)
	assert.Equal(t, 25, st.TotalUsage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListInvalid(t *testing.T) {
	s, mock := newMockPostgres(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT original_address, geocoded_at, usage_count").
		WithArgs(25).
		WillReturnRows(pgxmock.NewRows([]string{"original_address", "geocoded_at", "usage_count"}).
			AddRow("999 Nonexistent Lane", now, 2).
			AddRow("1 Typo Street", now.Add(-time.Hour), 1))

	entries, err := s.ListInvalid(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "999 Nonexistent Lane", entries[0].Address)
	assert.Equal(t, 2, entries[0].UsageCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPurgeBatches(t *testing.T) {
	s, mock := newMockPostgres(t)

	// A full first batch forces a second round.
	mock.ExpectExec("DELETE FROM address_cache").
		WithArgs(purgeBatchSize).
		WillReturnResult(pgxmock.NewResult("DELETE", purgeBatchSize))
	mock.ExpectExec("DELETE FROM address_cache").
		WithArgs(purgeBatchSize).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	count, err := s.Purge(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, purgeBatchSize+3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPurgeWithCutoff(t *testing.T) {
	s, mock := newMockPostgres(t)

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	mock.ExpectExec("DELETE FROM address_cache").
		WithArgs(cutoff, purgeBatchSize).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	count, err := s.Purge(context.Background(), &cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	require.NoError(t, mock.ExpectationsWereMet())
}
