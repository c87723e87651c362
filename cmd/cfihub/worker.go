package main

import (
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cfihub/internal/app"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

func newWorkerCmd(load loader) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume la cola de generación",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if concurrency > 0 {
				cfg.Generation.Workers = concurrency
			}
			if cfg.Queue.Driver == "memory" {
				logger.L().Warn("queue driver is memory: this worker only sees messages enqueued by its own process")
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			logger.L().Info("generation worker started", logger.Int("workers", cfg.Generation.Workers))
			return a.Worker().Run(ctx)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Consumidores en paralelo (default: generation.workers)")
	return cmd
}
