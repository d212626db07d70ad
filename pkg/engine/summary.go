package engine

import (
	"sort"

	"github.com/hed1ad/tradeguard/pkg/risk"
)

// Summary is the dashboard view of a scored batch.
type Summary struct {
	Total    int             `json:"total"`
	ByLevel  map[string]int  `json:"by_level"`
	HighRisk int             `json:"high_risk_count"`
	Top      []AnomalyResult `json:"top"`
}

// Summarize counts results per level and picks the topN most anomalous by
// normalized score. Ties keep input order.
func Summarize(results []AnomalyResult, topN int) Summary {
	s := Summary{
		Total:   len(results),
		ByLevel: make(map[string]int, len(risk.Levels())),
	}
	for _, level := range risk.Levels() {
		s.ByLevel[level.String()] = 0
	}

	for _, r := range results {
		s.ByLevel[r.RiskLevel.String()]++
		if r.RiskLevel >= risk.High {
			s.HighRisk++
		}
	}

	if topN <= 0 {
		s.Top = []AnomalyResult{}
		return s
	}

	ranked := make([]AnomalyResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].NormalizedScore > ranked[j].NormalizedScore
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	s.Top = ranked
	return s
}
