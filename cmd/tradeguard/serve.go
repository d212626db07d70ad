package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/tradeguard/internal/metrics"
	"github.com/hed1ad/tradeguard/internal/server"
	"github.com/hed1ad/tradeguard/pkg/market"
)

func newServeCmd(a *app) *cobra.Command {
	var seedSample bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, seedSample)
		},
	}
	cmd.Flags().BoolVar(&seedSample, "seed-sample", false, "insert generated sample records into the store before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, seedSample bool) error {
	mt := metrics.New()
	manager, err := a.newManager(mt)
	if err != nil {
		return err
	}

	sc := a.cfg.Server
	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithMetrics(mt),
		server.WithRateLimit(sc.RPS, sc.Burst),
		server.WithSampleData(sc.SampleDays, a.cfg.Model.Seed),
		server.WithMaxBodyBytes(sc.MaxBodyBytes),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()

		if seedSample {
			records := market.GenerateSample(a.cfg.Model.Seed, sc.SampleDays, nil, time.Now())
			if err := store.InsertFeatureRecords(ctx, records); err != nil {
				return err
			}
			a.logger.Info().Int("records", len(records)).Msg("sample records stored")
		}
		opts = append(opts, server.WithSource(store), server.WithSink(store))
	}

	srv := server.New(manager, opts...)
	httpSrv := &http.Server{
		Addr:         sc.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}
	return srv.ListenAndServe(ctx, httpSrv, sc.ShutdownTimeout)
}
