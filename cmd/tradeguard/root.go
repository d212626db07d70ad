package main

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hed1ad/tradeguard/internal/config"
	"github.com/hed1ad/tradeguard/internal/logging"
	"github.com/hed1ad/tradeguard/internal/metrics"
	"github.com/hed1ad/tradeguard/pkg/engine"
	"github.com/hed1ad/tradeguard/pkg/io/sqlstore"
)

type app struct {
	envFiles []string
	logLevel string

	cfg    *config.Config
	logger zerolog.Logger

	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut, logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:           "tradeguard",
		Short:         "Isolation forest anomaly detection for daily trading records",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override TRADEGUARD_LOG_LEVEL")

	cmd.AddCommand(
		newServeCmd(a),
		newDetectCmd(a),
		newSampleCmd(a),
		newRiskCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, a.stderr)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) newManager(mt *metrics.Metrics) (*engine.Manager, error) {
	table, err := a.cfg.RiskTable()
	if err != nil {
		return nil, err
	}
	return engine.New(a.cfg.Detector(), table,
		engine.WithLogger(a.logger),
		engine.WithMetrics(mt),
		engine.WithMinDistinct(a.cfg.Model.MinDistinct),
	), nil
}

// openStore returns nil when no store driver is configured.
func (a *app) openStore(ctx context.Context) (*sqlstore.Store, error) {
	if a.cfg.Store.Driver == "" {
		return nil, nil
	}
	return sqlstore.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.DSN, sqlstore.WithLogger(a.logger))
}
