// Package io connects the anomaly engine to the datastores that feed it
// records and receive its results.
package io

import (
	"context"
	"errors"
	"fmt"

	"github.com/hed1ad/tradeguard/pkg/engine"
	"github.com/hed1ad/tradeguard/pkg/market"
)

// Source supplies batches of feature records.
type Source interface {
	// FetchFeatureRecords returns the records matching filter.
	FetchFeatureRecords(ctx context.Context, filter market.Filter) ([]market.FeatureRecord, error)
}

// Sink receives computed results. Retrying failed writes is the sink's
// responsibility.
type Sink interface {
	// PersistAnomalyResult stores a single result.
	PersistAnomalyResult(ctx context.Context, result engine.AnomalyResult) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, filter market.Filter) ([]market.FeatureRecord, error)

// FetchFeatureRecords calls fn.
func (fn SourceFunc) FetchFeatureRecords(ctx context.Context, filter market.Filter) ([]market.FeatureRecord, error) {
	return fn(ctx, filter)
}

// StaticSource serves a fixed set of records.
type StaticSource []market.FeatureRecord

// FetchFeatureRecords applies filter to the static records.
func (s StaticSource) FetchFeatureRecords(ctx context.Context, filter market.Filter) ([]market.FeatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return filter.Apply(s), nil
}

// PersistAll writes every result to sink and returns how many succeeded.
// It keeps going after a failure; the returned error joins all failures.
func PersistAll(ctx context.Context, sink Sink, results []engine.AnomalyResult) (int, error) {
	var (
		written int
		errs    []error
	)
	for i, r := range results {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := sink.PersistAnomalyResult(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("result %d (%s %s): %w", i, r.Ticker, market.FormatDate(r.Date), err))
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}
