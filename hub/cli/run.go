package cli

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

	"github.com/abracadabra-mc/abracadabra/hub"
	"github.com/abracadabra-mc/abracadabra/hub/config"
	"github.com/abracadabra-mc/abracadabra/hub/wizard"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [config-file]",
		Short: "Start the hub (default when no subcommand is given)",
		Long:  "Start the hub. Without a config file the hub runs on defaults plus ADMIN_PASSWORD and PORT from the environment.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath := resolveConfigPath(cmd, args, wizard.DefaultOutput)

	cfg, err := config.LoadOrEnv(configPath)
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	logger := newLogger(cfg.Logging, os.Stdout)

	h, err := hub.New(cfg, hubOpts, logger)
	if err != nil {
		return fmt.Errorf("initialize hub: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	source := configPath
	if source == "" {
		source = "environment"
	}
	logger.Info("abracadabra hub starting", "version", version, "config", source)

	if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("hub error", "error", err)
		return err
	}

	logger.Info("hub stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// resolveConfigPath returns the config file path from (in priority order):
// 1. Positional argument
// 2. --config / -c flag
// 3. fallback, if that file exists
// An empty result means run from the environment alone.
func resolveConfigPath(cmd *cobra.Command, args []string, fallback string) string {
	if len(args) > 0 {
		return args[0]
	}
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}
	return ""
}
