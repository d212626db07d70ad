// Package sqlstore persists trading records and anomaly results in a SQL
// database. PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite) are supported.
package sqlstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hed1ad/tradeguard/pkg/engine"
	"github.com/hed1ad/tradeguard/pkg/market"
	"github.com/hed1ad/tradeguard/pkg/risk"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS daily_prices (
		ticker     TEXT NOT NULL,
		trade_date TEXT NOT NULL,
		price      DOUBLE PRECISION NOT NULL,
		volume     BIGINT NOT NULL,
		PRIMARY KEY (ticker, trade_date)
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id            TEXT PRIMARY KEY,
		ticker        TEXT NOT NULL,
		trade_date    TEXT NOT NULL,
		raw_score     DOUBLE PRECISION NOT NULL,
		anomaly_score DOUBLE PRECISION NOT NULL,
		risk_level    TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomalies_ticker_date ON anomalies (ticker, trade_date)`,
}

// Store is a Source and Sink backed by a SQL database.
type Store struct {
	db     *sqlx.DB
	driver string
	logger zerolog.Logger

	maxRetries      uint64
	initialInterval time.Duration
	now             func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l.With().Str("component", "sqlstore").Logger()
	}
}

// WithRetry sets how many times transient failures are retried and the first
// backoff interval.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.initialInterval = initial
	}
}

// Open connects to the database, waits for it to answer and creates the
// tables if needed.
func Open(ctx context.Context, driverName, dsn string, opts ...Option) (*Store, error) {
	name, err := normalizeDriver(driverName)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	s := &Store{
		db:              db,
		driver:          name,
		logger:          zerolog.Nop(),
		maxRetries:      5,
		initialInterval: 100 * time.Millisecond,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if name == DriverSQLite {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := s.retry(ctx, "ping", func() error { return db.PingContext(ctx) }); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", name, err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info().Str("driver", name).Msg("store ready")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type priceRow struct {
	Ticker    string  `db:"ticker"`
	TradeDate string  `db:"trade_date"`
	Price     float64 `db:"price"`
	Volume    int64   `db:"volume"`
}

type anomalyRow struct {
	ID           string  `db:"id"`
	Ticker       string  `db:"ticker"`
	TradeDate    string  `db:"trade_date"`
	RawScore     float64 `db:"raw_score"`
	AnomalyScore float64 `db:"anomaly_score"`
	RiskLevel    string  `db:"risk_level"`
}

// InsertFeatureRecords upserts records keyed by ticker and date.
func (s *Store) InsertFeatureRecords(ctx context.Context, records []market.FeatureRecord) error {
	if err := market.ValidateBatch(records); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(`
		INSERT INTO daily_prices (ticker, trade_date, price, volume)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ticker, trade_date) DO UPDATE SET price = excluded.price, volume = excluded.volume`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Ticker, market.FormatDate(r.Date), r.Price, r.Volume); err != nil {
			return fmt.Errorf("insert %s %s: %w", r.Ticker, market.FormatDate(r.Date), err)
		}
	}
	return tx.Commit()
}

// FetchFeatureRecords returns stored records matching filter ordered by
// ticker and date.
func (s *Store) FetchFeatureRecords(ctx context.Context, filter market.Filter) ([]market.FeatureRecord, error) {
	where, args := whereClause(filter)
	query := `SELECT ticker, trade_date, price, volume FROM daily_prices` + where +
		` ORDER BY ticker, trade_date` + limitClause(filter)

	var rows []priceRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	records := make([]market.FeatureRecord, 0, len(rows))
	for _, row := range rows {
		date, err := market.ParseDate(row.TradeDate)
		if err != nil {
			return nil, err
		}
		records = append(records, market.FeatureRecord{
			Ticker: row.Ticker,
			Date:   date,
			Price:  row.Price,
			Volume: row.Volume,
		})
	}
	return records, nil
}

// PersistAnomalyResult inserts one result, retrying transient failures with
// exponential backoff.
func (s *Store) PersistAnomalyResult(ctx context.Context, r engine.AnomalyResult) error {
	query := s.db.Rebind(`
		INSERT INTO anomalies (id, ticker, trade_date, raw_score, anomaly_score, risk_level, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	id := uuid.New().String()

	return s.retry(ctx, "persist anomaly", func() error {
		_, err := s.db.ExecContext(ctx, query,
			id,
			r.Ticker,
			market.FormatDate(r.Date),
			r.RawScore,
			r.NormalizedScore,
			r.RiskLevel.String(),
			s.now().UTC(),
		)
		return err
	})
}

// ListAnomalies returns stored results matching filter, newest trade date
// first.
func (s *Store) ListAnomalies(ctx context.Context, filter market.Filter) ([]engine.AnomalyResult, error) {
	where, args := whereClause(filter)
	query := `SELECT id, ticker, trade_date, raw_score, anomaly_score, risk_level FROM anomalies` + where +
		` ORDER BY trade_date DESC, ticker` + limitClause(filter)

	var rows []anomalyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}

	results := make([]engine.AnomalyResult, 0, len(rows))
	for _, row := range rows {
		date, err := market.ParseDate(row.TradeDate)
		if err != nil {
			return nil, err
		}
		level, err := risk.ParseLevel(row.RiskLevel)
		if err != nil {
			return nil, fmt.Errorf("anomaly %s: %w", row.ID, err)
		}
		results = append(results, engine.AnomalyResult{
			Ticker:          row.Ticker,
			Date:            date,
			RawScore:        row.RawScore,
			NormalizedScore: row.AnomalyScore,
			RiskLevel:       level,
		})
	}
	return results, nil
}

func whereClause(f market.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Ticker != "" {
		conds = append(conds, "UPPER(ticker) = UPPER(?)")
		args = append(args, f.Ticker)
	}
	if !f.From.IsZero() {
		conds = append(conds, "trade_date >= ?")
		args = append(args, market.FormatDate(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "trade_date <= ?")
		args = append(args, market.FormatDate(f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func limitClause(f market.Filter) string {
	if f.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", f.Limit)
}

// retry runs op until it succeeds, fails permanently, or the retry budget
// is spent.
func (s *Store) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx)

	operation := func() error {
		err := op()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn().Err(err).Str("op", what).Dur("retry_in", wait).Msg("transient database error")
	}

	return backoff.RetryNotify(operation, policy, notify)
}

// isTransient reports whether err is worth retrying: lost connections,
// serialization failures, resource exhaustion and busy SQLite databases.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53":
			return true
		}
		return false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

func normalizeDriver(name string) (string, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pq":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", name)
	}
}
