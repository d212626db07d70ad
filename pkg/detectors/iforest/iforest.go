// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/hed1ad/tradeguard/pkg/detectors"
)

// Forest is a trained Isolation Forest. It is never mutated after Train
// returns, so a *Forest may be scored from any number of goroutines.
type Forest struct {
	trees         []*Tree
	nFeatures     int
	subsampleSize int
	maxDepth      int
	trainedAt     time.Time

	// c(subsampleSize), the expected path length used to scale scores
	avgPathLength float64
}

var _ detectors.Scorer = (*Forest)(nil)

// Train builds a forest over data. Every tree is grown from a subsample drawn
// without replacement, and all randomness comes from one stream seeded with
// cfg.Seed: the same seed and input always yield identical trees.
func Train(data [][]float64, cfg detectors.Config) (*Forest, error) {
	nSamples := len(data)
	if nSamples == 0 {
		return nil, &InsufficientDataError{Required: 1}
	}

	nFeatures := len(data[0])
	if nFeatures == 0 {
		return nil, fmt.Errorf("training data has no features")
	}
	for i, row := range data {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), nFeatures)
		}
	}

	cfg = cfg.Resolve(nSamples)
	rng := rand.New(rand.NewSource(cfg.Seed))

	trees := make([]*Tree, cfg.NumTrees)
	for i := range trees {
		// Sample without replacement
		indices := rng.Perm(nSamples)[:cfg.SubsampleSize]
		sample := make([][]float64, cfg.SubsampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		trees[i] = buildTree(sample, nFeatures, cfg.MaxDepth, rng)
	}

	return &Forest{
		trees:         trees,
		nFeatures:     nFeatures,
		subsampleSize: cfg.SubsampleSize,
		maxDepth:      cfg.MaxDepth,
		trainedAt:     time.Now(),
		avgPathLength: averagePathLength(cfg.SubsampleSize),
	}, nil
}

// Score returns 2^(-E[h(x)] / c(n)) for sample, in (0, 1].
// Values near 1 mean the sample was isolated quickly by most trees; values
// near 0.5 are typical. sample must have as many features as the training rows.
func (f *Forest) Score(sample []float64) float64 {
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += tree.PathLength(sample)
	}
	avgPath := totalPath / float64(len(f.trees))

	// A single-row forest has c(1) = 0; every path is 0 as well.
	norm := f.avgPathLength
	if norm <= 0 {
		norm = 1
	}

	return math.Pow(2, -avgPath/norm)
}

// ScoreBatch scores each row of data, preserving order.
func (f *Forest) ScoreBatch(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.Score(sample)
	}
	return scores
}

// NumTrees returns the ensemble size.
func (f *Forest) NumTrees() int { return len(f.trees) }

// NumFeatures returns the width of the training rows.
func (f *Forest) NumFeatures() int { return f.nFeatures }

// SubsampleSize returns the per-tree sample size actually used.
func (f *Forest) SubsampleSize() int { return f.subsampleSize }

// MaxDepth returns the height limit the trees were grown with.
func (f *Forest) MaxDepth() int { return f.maxDepth }

// TrainedAt returns when Train finished building the forest.
func (f *Forest) TrainedAt() time.Time { return f.trainedAt }

// Trees returns the trees in build order. The slice is a copy; the trees are
// shared and must not be modified.
func (f *Forest) Trees() []*Tree {
	out := make([]*Tree, len(f.trees))
	copy(out, f.trees)
	return out
}

// DistinctRows counts the unique rows in data.
func DistinctRows(data [][]float64) int {
	seen := make(map[string]struct{}, len(data))
	buf := make([]byte, 0, 16)
	for _, row := range data {
		buf = buf[:0]
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
		seen[string(buf)] = struct{}{}
	}
	return len(seen)
}
