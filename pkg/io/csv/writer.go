package csv

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"github.com/hed1ad/tradeguard/pkg/engine"
	"github.com/hed1ad/tradeguard/pkg/market"
)

// ResultColumns is the header written by Writer.
var ResultColumns = []string{"ticker", "date", "raw_score", "anomaly_score", "risk_level"}

// Writer is a Sink that appends results as CSV rows. It is safe for
// concurrent use.
type Writer struct {
	mu          sync.Mutex
	w           *csv.Writer
	wroteHeader bool
}

// NewWriter creates a result writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// PersistAnomalyResult writes one row, preceded by the header on first use.
func (w *Writer) PersistAnomalyResult(ctx context.Context, r engine.AnomalyResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.wroteHeader {
		if err := w.w.Write(ResultColumns); err != nil {
			return err
		}
		w.wroteHeader = true
	}

	return w.w.Write([]string{
		r.Ticker,
		market.FormatDate(r.Date),
		strconv.FormatFloat(r.RawScore, 'f', 6, 64),
		strconv.FormatFloat(r.NormalizedScore, 'f', 4, 64),
		r.RiskLevel.String(),
	})
}

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.w.Flush()
	return w.w.Error()
}

// WriteRecords writes feature records with the standard header.
func WriteRecords(out io.Writer, records []market.FeatureRecord) error {
	w := csv.NewWriter(out)
	if err := w.Write(Columns); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Ticker,
			market.FormatDate(r.Date),
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			strconv.FormatInt(r.Volume, 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
