package io

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/tradeguard/pkg/engine"
	"github.com/hed1ad/tradeguard/pkg/market"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type flakySink struct {
	fail    map[string]bool
	written []string
}

func (s *flakySink) PersistAnomalyResult(_ context.Context, r engine.AnomalyResult) error {
	if s.fail[r.Ticker] {
		return errors.New("write failed")
	}
	s.written = append(s.written, r.Ticker)
	return nil
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{
		{Ticker: "ACME", Date: day0},
		{Ticker: "BETA", Date: day0},
	}

	got, err := src.FetchFeatureRecords(context.Background(), market.Filter{Ticker: "beta"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BETA", got[0].Ticker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.FetchFeatureRecords(ctx, market.Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSourceFunc(t *testing.T) {
	var seen market.Filter
	src := SourceFunc(func(_ context.Context, f market.Filter) ([]market.FeatureRecord, error) {
		seen = f
		return nil, nil
	})

	_, err := src.FetchFeatureRecords(context.Background(), market.Filter{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, seen.Limit)
}

func TestPersistAll(t *testing.T) {
	results := []engine.AnomalyResult{
		{Ticker: "A", Date: day0},
		{Ticker: "B", Date: day0},
		{Ticker: "C", Date: day0},
	}

	sink := &flakySink{fail: map[string]bool{"B": true}}
	n, err := PersistAll(context.Background(), sink, results)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"A", "C"}, sink.written)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result 1 (B 2024-03-01)")

	sink = &flakySink{}
	n, err = PersistAll(context.Background(), sink, results)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPersistAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &flakySink{}
	n, err := PersistAll(ctx, sink, []engine.AnomalyResult{{Ticker: "A"}})
	assert.Zero(t, n)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.written)
}
