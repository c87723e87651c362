package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/cfihub/internal/app"
	cfihttp "github.com/dropDatabas3/cfihub/internal/http"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

func newServeCmd(load loader) *cobra.Command {
	var withWorker string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta la API HTTP",
		Long: "Levanta la API HTTP. Con cola o pub/sub en memoria el worker corre en el mismo\n" +
			"proceso (--with-worker=auto); con rabbitmq/redis se corre aparte con 'cfihub worker'.",
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

			handler, err := a.Handler(nil)
			if err != nil {
				return err
			}

			embedded := withWorker == "true" ||
				(withWorker == "auto" && (cfg.Queue.Driver == "memory" || cfg.PubSub.Driver == "memory"))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return cfihttp.Serve(gctx, cfihttp.ServerConfig{
					Addr:         cfg.Server.Addr,
					ReadTimeout:  cfg.Server.ReadTimeout,
					WriteTimeout: cfg.Server.WriteTimeout,
				}, handler)
			})
			if embedded {
				logger.L().Info("running embedded generation worker", logger.Int("workers", cfg.Generation.Workers))
				g.Go(func() error { return a.Worker().Run(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&withWorker, "with-worker", "auto", "Correr el worker en este proceso: auto|true|false")
	return cmd
}
