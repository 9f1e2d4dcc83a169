// Command chainbot is the entry point for the on-chain event trading bot. It
// loads configuration, validates it, wires dependencies, sets up signal
// handling, and runs the coordinator until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/chainbot/internal/app"
	"github.com/alanyoungcy/chainbot/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "chainbot",
		Short: "chainbot - on-chain event driven trading bot",
		Long: `chainbot watches wallets, chains, token markets and sentiment feeds,
gates every trade through daily risk limits and manages open positions with
stop-loss, take-profit and trailing-stop exits.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from the config file")

	return cmd
}

func run(ctx context.Context, configPath, logLevel string) error {
	// Setup structured JSON logger.
	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", configPath),
			slog.String("error", err.Error()),
		)
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("chainbot starting",
		slog.String("venue", cfg.Executor.Venue),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if !errors.Is(err, context.Canceled) {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("application shut down gracefully")
	}

	logger.Info("chainbot stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
