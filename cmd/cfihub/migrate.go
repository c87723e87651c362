package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cfihub/internal/app"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones SQL pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate requiere storage.driver=postgres (actual: %s)", cfg.Storage.Driver)
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Migrate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied=%v skipped=%v duration=%s\n", res.Applied, res.Skipped, res.Duration)
			return nil
		},
	}
}
