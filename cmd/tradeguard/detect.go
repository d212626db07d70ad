package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/tradeguard/pkg/engine"
	tgio "github.com/hed1ad/tradeguard/pkg/io"
	"github.com/hed1ad/tradeguard/pkg/io/csv"
	"github.com/hed1ad/tradeguard/pkg/market"
)

type detectOptions struct {
	file    string
	ticker  string
	from    string
	to      string
	limit   int
	out     string
	format  string
	top     int
	persist bool
}

func newDetectCmd(a *app) *cobra.Command {
	var o detectOptions

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Score records from a CSV file or the configured store",
		Example: `  tradeguard detect --file prices.csv
  tradeguard detect --ticker AAPL --from 2024-01-01 --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.detect(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.file, "file", "f", "", "CSV input with ticker,date,price,volume columns (default: the configured store)")
	f.StringVar(&o.ticker, "ticker", "", "only score this ticker")
	f.StringVar(&o.from, "from", "", "first trade date, YYYY-MM-DD")
	f.StringVar(&o.to, "to", "", "last trade date, YYYY-MM-DD")
	f.IntVar(&o.limit, "limit", 0, "maximum records to score")
	f.StringVarP(&o.out, "out", "o", "", "write all results to this CSV file")
	f.StringVar(&o.format, "format", "table", "output format: table or json")
	f.IntVar(&o.top, "top", 10, "rows to print in table format")
	f.BoolVar(&o.persist, "persist", false, "store results in the configured store")
	return cmd
}

func (o detectOptions) filter() (market.Filter, error) {
	filter := market.Filter{Ticker: o.ticker, Limit: o.limit}
	if o.from != "" {
		d, err := market.ParseDate(o.from)
		if err != nil {
			return filter, err
		}
		filter.From = d
	}
	if o.to != "" {
		d, err := market.ParseDate(o.to)
		if err != nil {
			return filter, err
		}
		filter.To = d
	}
	return filter, nil
}

func (a *app) detect(cmd *cobra.Command, o detectOptions) error {
	ctx := cmd.Context()
	if o.format != "table" && o.format != "json" {
		return fmt.Errorf("unknown format %q", o.format)
	}
	filter, err := o.filter()
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var source tgio.Source
	switch {
	case o.file != "":
		r, err := csv.Open(o.file)
		if err != nil {
			return err
		}
		defer r.Close()
		source = r
	case store != nil:
		source = store
	default:
		return errors.New("no input: pass --file or configure TRADEGUARD_STORE_DRIVER")
	}

	records, err := source.FetchFeatureRecords(ctx, filter)
	if err != nil {
		return err
	}
	if r, ok := source.(*csv.Reader); ok && r.Skipped() > 0 {
		a.logger.Warn().Int("skipped", r.Skipped()).Msg("malformed rows skipped")
	}

	manager, err := a.newManager(nil)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := manager.Detect(ctx, records)
	if err != nil {
		return err
	}
	a.logger.Info().Int("records", len(results)).Dur("elapsed", time.Since(start)).Msg("detection complete")

	if o.out != "" {
		if err := writeResultsFile(ctx, o.out, results); err != nil {
			return err
		}
	}
	if o.persist {
		if store == nil {
			return errors.New("--persist needs a configured store")
		}
		n, err := tgio.PersistAll(ctx, store, results)
		if err != nil {
			return fmt.Errorf("persisted %d of %d results: %w", n, len(results), err)
		}
	}

	if o.format == "json" {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Results []engine.AnomalyResult `json:"results"`
			Summary engine.Summary         `json:"summary"`
		}{results, engine.Summarize(results, o.top)})
	}
	return printSummary(a.stdout, engine.Summarize(results, o.top))
}

func writeResultsFile(ctx context.Context, path string, results []engine.AnomalyResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if _, err := tgio.PersistAll(ctx, w, results); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func printSummary(out io.Writer, s engine.Summary) error {
	fmt.Fprintf(out, "records: %d  high risk: %d  ", s.Total, s.HighRisk)
	fmt.Fprintf(out, "(Low %d, Medium %d, High %d, Critical %d)\n\n",
		s.ByLevel["Low"], s.ByLevel["Medium"], s.ByLevel["High"], s.ByLevel["Critical"])

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tDATE\tRAW\tSCORE\tRISK")
	for _, r := range s.Top {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.3f\t%s\n",
			r.Ticker, market.FormatDate(r.Date), r.RawScore, r.NormalizedScore, r.RiskLevel)
	}
	return tw.Flush()
}
