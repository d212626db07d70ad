// Package normalize rescales raw detector scores relative to the batch they
// were computed for.
package normalize

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Normalize min-max rescales raw into [0, 1], preserving order.
//
// The scale is relative to this batch only; scores from two different calls
// are not comparable. When every raw score is equal the batch carries no
// ranking information and all outputs are 0.
func Normalize(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}

	lo, hi := floats.Min(raw), floats.Max(raw)
	span := hi - lo
	if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return out
	}

	for i, v := range raw {
		out[i] = clamp((v - lo) / span)
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
