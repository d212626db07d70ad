// Package market defines the per-ticker daily trading records scored by the
// anomaly engine.
package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for trading dates.
const DateLayout = "2006-01-02"

// FeatureNames lists the numeric features in the order returned by Features.
var FeatureNames = []string{"price", "volume"}

// FeatureRecord is one daily trading record for a ticker.
// Ticker and Date are carried through for reporting only; the model sees
// Price and Volume.
type FeatureRecord struct {
	Ticker string    `json:"ticker" validate:"required,max=16"`
	Date   time.Time `json:"date"`
	Price  float64   `json:"price" validate:"gt=0"`
	Volume int64     `json:"volume" validate:"gte=0"`
}

// Features returns the model input vector for the record.
func (r FeatureRecord) Features() []float64 {
	return []float64{r.Price, float64(r.Volume)}
}

// Matrix converts records to the row-major form consumed by detectors.
func Matrix(records []FeatureRecord) [][]float64 {
	data := make([][]float64, len(records))
	for i, r := range records {
		data[i] = r.Features()
	}
	return data
}

type recordJSON struct {
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"`
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

// MarshalJSON encodes the date as YYYY-MM-DD.
func (r FeatureRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Ticker: r.Ticker,
		Date:   FormatDate(r.Date),
		Price:  r.Price,
		Volume: r.Volume,
	})
}

// UnmarshalJSON accepts YYYY-MM-DD or RFC 3339 dates.
func (r *FeatureRecord) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var date time.Time
	if raw.Date != "" {
		d, err := ParseDate(raw.Date)
		if err != nil {
			return err
		}
		date = d
	}

	*r = FeatureRecord{
		Ticker: raw.Ticker,
		Date:   date,
		Price:  raw.Price,
		Volume: raw.Volume,
	}
	return nil
}

// ParseDate parses a trading date in YYYY-MM-DD or RFC 3339 form.
// The result is truncated to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want %s", s, DateLayout)
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// FormatDate renders a trading date. The zero time renders as "".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}
