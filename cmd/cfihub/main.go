// Command cfihub corre el servidor HTTP, el worker de generación y las
// tareas operativas (reaper, migraciones, watch de progreso).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cfihub/internal/app"
	"github.com/dropDatabas3/cfihub/internal/config"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

func main() {
	// .env es opcional: en prod todo llega por entorno
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cfihub",
		Short:         "Broker de datos CFI y pipeline de generación asíncrona",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CFIHUB_CONFIG"), "Archivo YAML de configuración (env CFIHUB_CONFIG)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(logger.Config{
			Env:         cfg.App.Env,
			Level:       cfg.App.LogLevel,
			ServiceName: "cfihub",
			Version:     app.Version,
		})
		return cfg, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newWorkerCmd(load),
		newReapCmd(load),
		newMigrateCmd(load),
		newWatchCmd(),
	)
	return root
}

type loader func() (*config.Config, error)

// signalContext se cancela con SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
