package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/tradeguard/pkg/io/csv"
	"github.com/hed1ad/tradeguard/pkg/market"
)

type sampleOptions struct {
	out     string
	days    int
	seed    int64
	tickers []string
	end     string
	store   bool
}

func newSampleCmd(a *app) *cobra.Command {
	var o sampleOptions

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Generate synthetic daily trading records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.sample(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.out, "out", "o", "-", "CSV output file, - for stdout")
	f.IntVar(&o.days, "days", 90, "days per ticker")
	f.Int64Var(&o.seed, "seed", 42, "random seed")
	f.StringSliceVar(&o.tickers, "tickers", nil, "tickers to generate (default AAPL,GOOGL,MSFT,TSLA,AMZN)")
	f.StringVar(&o.end, "end", "", "last trade date, YYYY-MM-DD (default today)")
	f.BoolVar(&o.store, "store", false, "also insert the records into the configured store")
	return cmd
}

func (a *app) sample(cmd *cobra.Command, o sampleOptions) error {
	if o.days < 1 {
		return errors.New("--days must be positive")
	}
	end := time.Now()
	if o.end != "" {
		d, err := market.ParseDate(o.end)
		if err != nil {
			return err
		}
		end = d
	}

	records := market.GenerateSample(o.seed, o.days, o.tickers, end)

	if o.store {
		ctx := cmd.Context()
		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("--store needs TRADEGUARD_STORE_DRIVER")
		}
		defer store.Close()

		if err := store.InsertFeatureRecords(ctx, records); err != nil {
			return err
		}
		a.logger.Info().Int("records", len(records)).Msg("sample records stored")
	}

	if o.out == "-" {
		return csv.WriteRecords(a.stdout, records)
	}

	f, err := os.Create(o.out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := csv.WriteRecords(f, records); err != nil {
		return err
	}
	a.logger.Info().Str("file", o.out).Int("records", len(records)).Msg("sample written")
	return f.Close()
}
