// Package detectors provides unsupervised anomaly detection algorithms.
package detectors

import "math"

// Scorer is implemented by trained anomaly models.
type Scorer interface {
	// Score returns the raw anomaly score for a single sample.
	// Higher values indicate anomalies.
	Score(sample []float64) float64

	// ScoreBatch scores every row of data, preserving order.
	ScoreBatch(data [][]float64) []float64
}

// Config holds the tunable parameters of a tree ensemble.
// Zero values are replaced by defaults derived from the training set size.
type Config struct {
	// NumTrees is the ensemble size.
	NumTrees int
	// SubsampleSize is the number of rows drawn (without replacement) per tree.
	SubsampleSize int
	// MaxDepth caps the height of each tree.
	MaxDepth int
	// Seed makes training reproducible.
	Seed int64
}

// Defaults used by Resolve.
const (
	DefaultNumTrees      = 100
	DefaultSubsampleSize = 256
	DefaultSeed          = 42
)

// DefaultConfig returns sensible defaults for detector configuration.
// SubsampleSize and MaxDepth stay zero so they adapt to the training set.
func DefaultConfig() Config {
	return Config{
		NumTrees: DefaultNumTrees,
		Seed:     DefaultSeed,
	}
}

// Resolve fills in defaults for a training set of n rows.
func (c Config) Resolve(n int) Config {
	if c.NumTrees <= 0 {
		c.NumTrees = DefaultNumTrees
	}
	if c.SubsampleSize <= 0 {
		c.SubsampleSize = DefaultSubsampleSize
	}
	if c.SubsampleSize > n {
		c.SubsampleSize = n
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = DefaultMaxDepth(c.SubsampleSize)
	}
	return c
}

// DefaultMaxDepth returns ceil(log2(subsampleSize)), the average height of a
// random binary tree over that many points.
func DefaultMaxDepth(subsampleSize int) int {
	if subsampleSize <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(subsampleSize))))
}
