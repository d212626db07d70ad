package market

import (
	"math"
	"math/rand"
	"time"
)

// DefaultTickers are used by GenerateSample when none are given.
var DefaultTickers = []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}

// GenerateSample produces synthetic daily records ending at end (inclusive),
// one per ticker per day. Each ticker gets a base price in [100, 500) and daily
// prices jitter around it with 2% standard deviation; volumes fall in
// [1e6, 5e6).
func GenerateSample(seed int64, days int, tickers []string, end time.Time) []FeatureRecord {
	if len(tickers) == 0 {
		tickers = DefaultTickers
	}
	rng := rand.New(rand.NewSource(seed))
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	records := make([]FeatureRecord, 0, days*len(tickers))
	for _, ticker := range tickers {
		base := 100 + rng.Float64()*400
		for d := days - 1; d >= 0; d-- {
			price := base * (1 + rng.NormFloat64()*0.02)
			records = append(records, FeatureRecord{
				Ticker: ticker,
				Date:   end.AddDate(0, 0, -d),
				Price:  math.Round(price*100) / 100,
				Volume: 1_000_000 + rng.Int63n(4_000_000),
			})
		}
	}
	return records
}
