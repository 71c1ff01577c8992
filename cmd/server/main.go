package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lukassw/canvashub/internal/app"
	"github.com/lukassw/canvashub/internal/config"
	"github.com/lukassw/canvashub/internal/log"
)

func main() {
	var (
		configPath string
		addr       string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "canvashub",
		Short: "Real-time collaborative canvas server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrap := log.New("info", "console")

			cfg, path, err := config.Load(bootstrap, configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			logger := log.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting canvashub")

			application, err := app.New(&cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
