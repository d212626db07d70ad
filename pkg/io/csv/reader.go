// Package csv reads trading records from, and writes anomaly results to, CSV
// files.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/hed1ad/tradeguard/pkg/market"
)

// Columns is the expected header of a records file.
var Columns = []string{"ticker", "date", "price", "volume"}

// Reader reads feature records from CSV input with columns
// ticker,date,price,volume. Header columns may appear in any order.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	index     map[string]int

	once    sync.Once
	records []market.FeatureRecord
	skipped int
	err     error
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// NewReader creates a reader over r.
func NewReader(r io.Reader, opts ...Option) (*Reader, error) {
	rd := &Reader{
		reader:    csv.NewReader(r),
		hasHeader: true,
		index:     defaultIndex(),
	}
	rd.reader.TrimLeadingSpace = true
	rd.reader.FieldsPerRecord = -1

	for _, opt := range opts {
		opt(rd)
	}

	// Read header if present
	if rd.hasHeader {
		headers, err := rd.reader.Read()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		index, err := headerIndex(headers)
		if err != nil {
			return nil, err
		}
		rd.index = index
	}

	return rd, nil
}

// Open creates a reader for the named file.
func Open(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// Read returns every well-formed record. Malformed rows are skipped and
// counted; see Skipped. Subsequent calls return the same records.
func (r *Reader) Read() ([]market.FeatureRecord, error) {
	r.once.Do(func() {
		r.records, r.err = r.readAll()
	})
	return r.records, r.err
}

// Skipped returns the number of malformed rows dropped by Read.
func (r *Reader) Skipped() int {
	return r.skipped
}

// FetchFeatureRecords reads the input once and returns the records matching
// filter.
func (r *Reader) FetchFeatureRecords(ctx context.Context, filter market.Filter) ([]market.FeatureRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := r.Read()
	if err != nil {
		return nil, err
	}
	return filter.Apply(records), nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) readAll() ([]market.FeatureRecord, error) {
	var records []market.FeatureRecord

	for {
		row, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.skipped++
				continue
			}
			return nil, err
		}

		rec, err := r.parseRow(row)
		if err != nil {
			r.skipped++
			continue // Skip malformed rows
		}
		records = append(records, rec)
	}

	return records, nil
}

// parseRow converts a CSV row to a validated record.
func (r *Reader) parseRow(row []string) (market.FeatureRecord, error) {
	field := func(name string) (string, error) {
		i := r.index[name]
		if i >= len(row) {
			return "", fmt.Errorf("missing %s column", name)
		}
		return strings.TrimSpace(row[i]), nil
	}

	ticker, err := field("ticker")
	if err != nil {
		return market.FeatureRecord{}, err
	}
	dateStr, err := field("date")
	if err != nil {
		return market.FeatureRecord{}, err
	}
	priceStr, err := field("price")
	if err != nil {
		return market.FeatureRecord{}, err
	}
	volumeStr, err := field("volume")
	if err != nil {
		return market.FeatureRecord{}, err
	}

	date, err := market.ParseDate(dateStr)
	if err != nil {
		return market.FeatureRecord{}, err
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return market.FeatureRecord{}, err
	}
	volume, err := parseVolume(volumeStr)
	if err != nil {
		return market.FeatureRecord{}, err
	}

	rec := market.FeatureRecord{Ticker: ticker, Date: date, Price: price, Volume: volume}
	if err := rec.Validate(); err != nil {
		return market.FeatureRecord{}, err
	}
	return rec, nil
}

// parseVolume accepts integers and integral floats such as "1200000.0".
func parseVolume(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("volume %q is not integral", s)
	}
	return int64(f), nil
}

func defaultIndex() map[string]int {
	index := make(map[string]int, len(Columns))
	for i, name := range Columns {
		index[name] = i
	}
	return index
}

func headerIndex(headers []string) (map[string]int, error) {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range Columns {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("header missing %q column", name)
		}
	}
	return index, nil
}
