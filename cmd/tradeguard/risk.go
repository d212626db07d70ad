package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/spf13/cobra"
)

func newRiskCmd(a *app) *cobra.Command {
	var score float64

	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Classify a normalized anomaly score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if math.IsNaN(score) || math.IsInf(score, 0) {
				return errors.New("score must be finite")
			}
			table, err := a.cfg.RiskTable()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.stdout, table.Classify(score))
			return err
		},
	}
	cmd.Flags().Float64Var(&score, "score", 0, "normalized score in [0, 1]")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}
