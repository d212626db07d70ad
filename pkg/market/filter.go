package market

import (
	"strings"
	"time"
)

// Filter selects records from a Source. Zero fields match everything.
type Filter struct {
	Ticker string
	From   time.Time
	To     time.Time
	Limit  int
}

// Match reports whether r passes the ticker and date bounds (inclusive).
func (f Filter) Match(r FeatureRecord) bool {
	if f.Ticker != "" && !strings.EqualFold(f.Ticker, r.Ticker) {
		return false
	}
	if !f.From.IsZero() && r.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(f.To) {
		return false
	}
	return true
}

// Apply returns the matching records in input order, capped at Limit.
func (f Filter) Apply(records []FeatureRecord) []FeatureRecord {
	out := make([]FeatureRecord, 0, len(records))
	for _, r := range records {
		if !f.Match(r) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
