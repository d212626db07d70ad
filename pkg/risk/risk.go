// Package risk maps normalized anomaly scores to compliance risk tiers.
package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Level is an ordered risk tier.
type Level int

// Risk tiers, lowest first.
const (
	Low Level = iota
	Medium
	High
	Critical
)

var levelNames = [...]string{"Low", "Medium", "High", "Critical"}

// Levels lists every tier in ascending order.
func Levels() []Level {
	return []Level{Low, Medium, High, Critical}
}

func (l Level) String() string {
	if l < Low || l > Critical {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel parses a tier name, ignoring case.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Level(i), nil
		}
	}
	return Low, fmt.Errorf("unknown risk level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if l < Low || l > Critical {
		return nil, fmt.Errorf("invalid risk level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Threshold assigns Level to scores up to and including UpperBound.
type Threshold struct {
	Level      Level   `json:"level"`
	UpperBound float64 `json:"upper_bound"`
}

// Table is an ordered, validated set of thresholds. The zero Table classifies
// everything as Critical.
type Table struct {
	thresholds []Threshold
}

// ErrEmptyTable is returned by NewTable when no thresholds are given.
var ErrEmptyTable = errors.New("risk table has no thresholds")

// NewTable validates thresholds and returns a Table. Bounds must lie in
// [0, 1] and, like the levels, be strictly increasing.
func NewTable(thresholds ...Threshold) (Table, error) {
	if len(thresholds) == 0 {
		return Table{}, ErrEmptyTable
	}

	for i, th := range thresholds {
		if th.Level < Low || th.Level > Critical {
			return Table{}, fmt.Errorf("threshold %d: invalid level %d", i, int(th.Level))
		}
		if math.IsNaN(th.UpperBound) || th.UpperBound < 0 || th.UpperBound > 1 {
			return Table{}, fmt.Errorf("threshold %d (%s): bound %v outside [0, 1]", i, th.Level, th.UpperBound)
		}
		if i == 0 {
			continue
		}
		prev := thresholds[i-1]
		if th.UpperBound <= prev.UpperBound {
			return Table{}, fmt.Errorf("threshold %d (%s): bound %v not greater than %v (%s)",
				i, th.Level, th.UpperBound, prev.UpperBound, prev.Level)
		}
		if th.Level <= prev.Level {
			return Table{}, fmt.Errorf("threshold %d: level %s does not follow %s", i, th.Level, prev.Level)
		}
	}

	ts := make([]Threshold, len(thresholds))
	copy(ts, thresholds)
	return Table{thresholds: ts}, nil
}

// DefaultTable returns Low≤0.3, Medium≤0.6, High≤0.8, Critical≤0.95.
func DefaultTable() Table {
	return Table{thresholds: []Threshold{
		{Level: Low, UpperBound: 0.3},
		{Level: Medium, UpperBound: 0.6},
		{Level: High, UpperBound: 0.8},
		{Level: Critical, UpperBound: 0.95},
	}}
}

// Classify returns the first level whose bound is >= score. A score equal to
// a bound resolves to the lower tier. Scores above every bound are Critical.
func (t Table) Classify(score float64) Level {
	for _, th := range t.thresholds {
		if score <= th.UpperBound {
			return th.Level
		}
	}
	return Critical
}

// Thresholds returns a copy of the table's thresholds in ascending order.
func (t Table) Thresholds() []Threshold {
	out := make([]Threshold, len(t.thresholds))
	copy(out, t.thresholds)
	return out
}
