package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cfihub/internal/app"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

func newReapCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Marca como failed las tareas colgadas en processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signalContext()
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Reaper().Reap(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d task(s) older than %s\n", n, cfg.Generation.StuckAfter)
			return nil
		},
	}
}
