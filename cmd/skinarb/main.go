// Command skinarb is the entry point for the skin arbitrage bot. The run
// command loads and validates configuration, wires dependencies, sets up
// signal handling, and starts the application in the configured mode. The
// remaining commands are one-shot operator tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/skinarb/internal/app"
	"github.com/alanyoungcy/skinarb/internal/config"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "skinarb",
		Short: "Cross-market skin arbitrage bot",
		Long: `skinarb buys skins where they are cheap and sells them where they are
not, confirming every Steam trade on the mobile authenticator's behalf.

Examples:
  skinarb run --config config.toml
  skinarb run --mode monitor
  skinarb code
  skinarb confirm --deny
  skinarb encrypt-identity --in trader.maFile --out trader.maFile.enc`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "config.toml",
		"path to configuration file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newCodeCommand())
	root.AddCommand(newConfirmCommand())
	root.AddCommand(newBalancesCommand())
	root.AddCommand(newEncryptIdentityCommand())

	return root
}

func newRunCommand() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot in the configured mode (trade, monitor, server)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(mode, os.Stdout)
			if err != nil {
				return err
			}

			logger.Info("skin arbitrage bot starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", configPath),
			)

			application := app.New(cfg, logger)
			defer application.Close()

			if err := application.Run(cmd.Context()); err != nil {
				// context.Canceled is expected on clean shutdown.
				if !errors.Is(err, context.Canceled) {
					logger.Error("application exited with error",
						slog.String("error", err.Error()),
					)
					return err
				}
				logger.Info("application shut down gracefully")
			}

			logger.Info("skin arbitrage bot stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "override the configured mode")
	return cmd
}

// loadConfig loads, overrides and validates the configuration and installs
// the JSON logger at the configured level as the default.
func loadConfig(mode string, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if mode != "" {
		cfg.Mode = mode
	}

	logger := newLogger(logOut, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
