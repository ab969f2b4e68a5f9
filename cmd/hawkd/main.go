// Command hawkd is a demo HTTP server whose API is protected with Hawk
// authentication.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitalvas/hawk/config"
	"github.com/vitalvas/hawk/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		envFile    string
		httpAddr   string
	)

	root := &cobra.Command{
		Use:          "hawkd",
		Short:        "Hawk-authenticated demo API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}

			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}

				cfg = loaded
			}

			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}

			logger, err := logging.New(logging.Config{
				Env:     cfg.Logging.Env,
				Level:   cfg.Logging.Level,
				Service: "hawkd",
			})
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", os.Getenv("HAWKD_CONFIG"), "path to a YAML or TOML config file (env HAWKD_CONFIG)")
	root.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config is read")
	root.Flags().StringVar(&httpAddr, "http-addr", "", "listen address, overrides server.http_addr")

	return root
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Serve(ctx)
}
