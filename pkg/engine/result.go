package engine

import (
	"encoding/json"
	"time"

	"github.com/hed1ad/tradeguard/pkg/market"
	"github.com/hed1ad/tradeguard/pkg/risk"
)

// AnomalyResult is the scored outcome for one input record.
type AnomalyResult struct {
	Ticker          string
	Date            time.Time
	RawScore        float64
	NormalizedScore float64
	RiskLevel       risk.Level
}

type resultJSON struct {
	Ticker          string     `json:"ticker"`
	Date            string     `json:"date"`
	RawScore        float64    `json:"raw_score"`
	NormalizedScore float64    `json:"anomaly_score"`
	RiskLevel       risk.Level `json:"risk_level"`
}

// MarshalJSON encodes the date as YYYY-MM-DD and the level by name.
func (r AnomalyResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Ticker:          r.Ticker,
		Date:            market.FormatDate(r.Date),
		RawScore:        r.RawScore,
		NormalizedScore: r.NormalizedScore,
		RiskLevel:       r.RiskLevel,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *AnomalyResult) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var date time.Time
	if raw.Date != "" {
		d, err := market.ParseDate(raw.Date)
		if err != nil {
			return err
		}
		date = d
	}

	*r = AnomalyResult{
		Ticker:          raw.Ticker,
		Date:            date,
		RawScore:        raw.RawScore,
		NormalizedScore: raw.NormalizedScore,
		RiskLevel:       raw.RiskLevel,
	}
	return nil
}
