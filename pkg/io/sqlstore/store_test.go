package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/tradeguard/pkg/engine"
	tgio "github.com/hed1ad/tradeguard/pkg/io"
	"github.com/hed1ad/tradeguard/pkg/market"
	"github.com/hed1ad/tradeguard/pkg/risk"
)

var (
	_ tgio.Source = (*Store)(nil)
	_ tgio.Sink   = (*Store)(nil)
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), "sqlite", ":memory:", WithRetry(2, time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestOpenIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.migrate(context.Background()))
}

func TestInsertAndFetchFeatureRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []market.FeatureRecord{
		{Ticker: "BETA", Date: day0, Price: 55.5, Volume: 800},
		{Ticker: "ACME", Date: day0.AddDate(0, 0, 1), Price: 101, Volume: 1100},
		{Ticker: "ACME", Date: day0, Price: 100, Volume: 1000},
	}
	require.NoError(t, s.InsertFeatureRecords(ctx, records))

	got, err := s.FetchFeatureRecords(ctx, market.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []market.FeatureRecord{records[2], records[1], records[0]}, got)

	tests := []struct {
		name   string
		filter market.Filter
		want   int
	}{
		{name: "ticker", filter: market.Filter{Ticker: "acme"}, want: 2},
		{name: "from", filter: market.Filter{From: day0.AddDate(0, 0, 1)}, want: 1},
		{name: "to", filter: market.Filter{To: day0}, want: 2},
		{name: "limit", filter: market.Filter{Limit: 1}, want: 1},
		{name: "none", filter: market.Filter{Ticker: "ZZZ"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FetchFeatureRecords(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestInsertFeatureRecordsUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertFeatureRecords(ctx, []market.FeatureRecord{
		{Ticker: "ACME", Date: day0, Price: 100, Volume: 1000},
	}))
	require.NoError(t, s.InsertFeatureRecords(ctx, []market.FeatureRecord{
		{Ticker: "ACME", Date: day0, Price: 120, Volume: 3000},
	}))

	got, err := s.FetchFeatureRecords(ctx, market.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 120.0, got[0].Price)
	assert.Equal(t, int64(3000), got[0].Volume)
}

func TestInsertFeatureRecordsRejectsInvalid(t *testing.T) {
	s := openTestStore(t)

	err := s.InsertFeatureRecords(context.Background(), []market.FeatureRecord{
		{Ticker: "ACME", Date: day0, Price: 100, Volume: 1000},
		{Ticker: "ACME", Date: day0.AddDate(0, 0, 1), Price: 0, Volume: 1000},
	})
	var verr *market.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 1, verr.Index)

	got, err := s.FetchFeatureRecords(context.Background(), market.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPersistAndListAnomalies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results := []engine.AnomalyResult{
		{Ticker: "ACME", Date: day0, RawScore: 0.41, NormalizedScore: 0, RiskLevel: risk.Low},
		{Ticker: "ACME", Date: day0.AddDate(0, 0, 1), RawScore: 0.72, NormalizedScore: 1, RiskLevel: risk.Critical},
		{Ticker: "BETA", Date: day0, RawScore: 0.55, NormalizedScore: 0.45, RiskLevel: risk.Medium},
	}
	n, err := tgio.PersistAll(ctx, s, results)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.ListAnomalies(ctx, market.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []engine.AnomalyResult{results[1], results[0], results[2]}, got)

	got, err = s.ListAnomalies(ctx, market.Filter{Ticker: "BETA"})
	require.NoError(t, err)
	assert.Equal(t, []engine.AnomalyResult{results[2]}, got)
}

func TestPersistAfterCloseFailsWithoutRetry(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())

	start := time.Now()
	err := s.PersistAnomalyResult(context.Background(), engine.AnomalyResult{Ticker: "ACME", Date: day0})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryTransient(t *testing.T) {
	s := openTestStore(t)

	calls := 0
	err := s.retry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return driver.ErrBadConn
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = s.retry(context.Background(), "test", func() error {
		calls++
		return fmt.Errorf("exec: %w", driver.ErrBadConn)
	})
	assert.ErrorIs(t, err, driver.ErrBadConn)
	assert.Equal(t, 3, calls) // first attempt plus two retries

	calls = 0
	boom := errors.New("syntax error")
	err = s.retry(context.Background(), "test", func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "bad conn", err: driver.ErrBadConn, want: true},
		{name: "wrapped bad conn", err: fmt.Errorf("x: %w", driver.ErrBadConn), want: true},
		{name: "pq connection failure", err: &pq.Error{Code: "08006"}, want: true},
		{name: "pq serialization failure", err: &pq.Error{Code: "40001"}, want: true},
		{name: "pq too many connections", err: &pq.Error{Code: "53300"}, want: true},
		{name: "pq unique violation", err: &pq.Error{Code: "23505"}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestNormalizeDriver(t *testing.T) {
	for in, want := range map[string]string{
		"postgres":   DriverPostgres,
		"PostgreSQL": DriverPostgres,
		"sqlite3":    DriverSQLite,
		"sqlite":     DriverSQLite,
	} {
		got, err := normalizeDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
