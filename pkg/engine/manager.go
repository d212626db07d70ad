// Package engine owns the lifecycle of the anomaly model: lazy first
// training, explicit retraining, and scoring batches of trading records into
// risk-tiered results.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hed1ad/tradeguard/internal/metrics"
	"github.com/hed1ad/tradeguard/pkg/detectors"
	"github.com/hed1ad/tradeguard/pkg/detectors/iforest"
	"github.com/hed1ad/tradeguard/pkg/detectors/normalize"
	"github.com/hed1ad/tradeguard/pkg/market"
	"github.com/hed1ad/tradeguard/pkg/risk"
)

// TrainFunc builds a model from a feature matrix.
type TrainFunc func(data [][]float64, cfg detectors.Config) (*iforest.Forest, error)

// DefaultMinDistinct is the fewest distinct records a training batch may hold.
const DefaultMinDistinct = 2

// Manager holds the current model. It moves from untrained to trained on the
// first successful EnsureTrained or Retrain and never goes back.
//
// The published *iforest.Forest is immutable. Readers take a snapshot of the
// pointer under mu.RLock; training runs outside mu and only the pointer swap
// takes mu.Lock, so in-flight detections never wait on a training run.
// trainMu serializes training runs.
type Manager struct {
	cfg         detectors.Config
	table       risk.Table
	train       TrainFunc
	minDistinct int
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	trainMu sync.Mutex

	mu    sync.RWMutex
	model *iforest.Forest
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records trainings and detections on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithTrainer replaces the training function.
func WithTrainer(fn TrainFunc) Option {
	return func(m *Manager) {
		m.train = fn
	}
}

// WithMinDistinct sets the minimum number of distinct records required to
// train.
func WithMinDistinct(n int) Option {
	return func(m *Manager) {
		m.minDistinct = n
	}
}

// New creates an untrained Manager.
func New(cfg detectors.Config, table risk.Table, opts ...Option) *Manager {
	m := &Manager{
		cfg:         cfg,
		table:       table,
		train:       iforest.Train,
		minDistinct: DefaultMinDistinct,
		logger:      zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	m.logger = m.logger.With().Str("component", "engine").Logger()
	return m
}

func (m *Manager) current() *iforest.Forest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

func (m *Manager) publish(f *iforest.Forest) {
	m.mu.Lock()
	m.model = f
	m.mu.Unlock()
}

// EnsureTrained trains on records only if no model has been published yet.
// An existing model is reused regardless of the batch. Concurrent first
// callers train exactly once; the others return once it is published.
func (m *Manager) EnsureTrained(ctx context.Context, records []market.FeatureRecord) error {
	if m.current() != nil {
		return nil
	}

	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	if m.current() != nil {
		return nil
	}

	f, err := m.build(ctx, records)
	if err != nil {
		return err
	}
	m.publish(f)
	m.logger.Info().
		Int("records", len(records)).
		Int("trees", f.NumTrees()).
		Msg("initial model published")
	return nil
}

// Retrain always builds a new model from records and publishes it. On error
// the previous model, if any, stays current.
func (m *Manager) Retrain(ctx context.Context, records []market.FeatureRecord) error {
	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	f, err := m.build(ctx, records)
	if err != nil {
		return err
	}
	m.publish(f)
	m.logger.Info().
		Int("records", len(records)).
		Int("trees", f.NumTrees()).
		Msg("model retrained")
	return nil
}

func (m *Manager) build(ctx context.Context, records []market.FeatureRecord) (*iforest.Forest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := market.ValidateBatch(records); err != nil {
		return nil, err
	}

	data := market.Matrix(records)
	if distinct := iforest.DistinctRows(data); distinct < m.minDistinct {
		err := &iforest.InsufficientDataError{
			Records:  len(records),
			Distinct: distinct,
			Required: m.minDistinct,
		}
		m.metrics.ObserveTraining(0, err)
		return nil, err
	}

	start := time.Now()
	f, err := m.train(data, m.cfg)
	elapsed := time.Since(start)
	m.metrics.ObserveTraining(elapsed, err)
	if err != nil {
		m.logger.Error().Err(err).Int("records", len(records)).Msg("training failed")
		return nil, err
	}

	m.logger.Debug().
		Int("records", len(records)).
		Int("subsample", f.SubsampleSize()).
		Int("max_depth", f.MaxDepth()).
		Dur("elapsed", elapsed).
		Msg("forest built")
	return f, nil
}

// Detect scores records against the current model, training one from this
// batch first if none exists. Results are one-to-one with records and in the
// same order. Normalized scores are relative to this batch.
func (m *Manager) Detect(ctx context.Context, records []market.FeatureRecord) ([]AnomalyResult, error) {
	start := time.Now()
	results, err := m.detect(ctx, records)
	m.metrics.ObserveDetection(time.Since(start), len(records), err)
	return results, err
}

func (m *Manager) detect(ctx context.Context, records []market.FeatureRecord) ([]AnomalyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := market.ValidateBatch(records); err != nil {
		if m.current() == nil {
			return nil, &ModelUnavailableError{Cause: err}
		}
		return nil, err
	}

	if err := m.EnsureTrained(ctx, records); err != nil {
		return nil, &ModelUnavailableError{Cause: err}
	}

	f := m.current()
	raw := f.ScoreBatch(market.Matrix(records))
	normalized := normalize.Normalize(raw)

	results := make([]AnomalyResult, len(records))
	for i, r := range records {
		level := m.table.Classify(normalized[i])
		results[i] = AnomalyResult{
			Ticker:          r.Ticker,
			Date:            r.Date,
			RawScore:        raw[i],
			NormalizedScore: normalized[i],
			RiskLevel:       level,
		}
		m.metrics.ObserveRiskLevel(level.String())
	}

	m.logger.Debug().Int("records", len(records)).Msg("batch scored")
	return results, nil
}

// Score returns the raw anomaly score of a single record. It never trains.
func (m *Manager) Score(ctx context.Context, record market.FeatureRecord) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := record.Validate(); err != nil {
		return 0, err
	}

	f := m.current()
	if f == nil {
		return 0, &ModelUnavailableError{Cause: ErrNotTrained}
	}
	return f.Score(record.Features()), nil
}

// RiskLevelFor classifies a normalized score. It does not need a model.
func (m *Manager) RiskLevelFor(score float64) risk.Level {
	return m.table.Classify(score)
}

// Table returns the risk threshold table in use.
func (m *Manager) Table() risk.Table {
	return m.table
}

// Status describes the current model.
type Status struct {
	Trained       bool      `json:"trained"`
	TrainedAt     time.Time `json:"trained_at"`
	NumTrees      int       `json:"num_trees,omitempty"`
	SubsampleSize int       `json:"subsample_size,omitempty"`
	MaxDepth      int       `json:"max_depth,omitempty"`
}

// Status reports whether a model is published and its shape.
func (m *Manager) Status() Status {
	f := m.current()
	if f == nil {
		return Status{}
	}
	return Status{
		Trained:       true,
		TrainedAt:     f.TrainedAt(),
		NumTrees:      f.NumTrees(),
		SubsampleSize: f.SubsampleSize(),
		MaxDepth:      f.MaxDepth(),
	}
}
