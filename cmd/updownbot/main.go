// Command updownbot is the entry point for the Polymarket Up/Down
// flash-dislocation paper trader. It loads configuration, validates it,
// applies command-line overrides, sets up logging and signal handling, and
// runs the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/updownbot/internal/app"
	"github.com/alanyoungcy/updownbot/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults only when empty)")
	window := flag.Float64("window", 0, "flash window in seconds for the default instance")
	drop := flag.Float64("drop", 0, "trigger threshold for the default instance")
	tp := flag.Float64("tp", 0, "take-profit distance for the default instance")
	sl := flag.Float64("sl", 0, "stop-loss distance for the default instance")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := applyOverrides(cfg, set, *window, *drop, *tp, *sl); err != nil {
		logger.Error("invalid command-line override", slog.String("error", err.Error()))
		os.Exit(2)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("updownbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		closeLog()
		os.Exit(1)
	}

	logger.Info("updownbot stopped")
}

// applyOverrides folds the single-instance flags into the configuration.
// They only apply when no instance list is configured.
func applyOverrides(cfg *config.Config, set map[string]bool, window, drop, tp, sl float64) error {
	if !set["window"] && !set["drop"] && !set["tp"] && !set["sl"] {
		return nil
	}
	if cfg.Strategy.InstancesFile != "" || len(cfg.Strategy.Instances) > 0 {
		return errors.New("--window/--drop/--tp/--sl cannot be combined with configured strategy instances")
	}
	inst := config.DefaultInstance()
	if set["window"] {
		inst.Params.Window = window
	}
	if set["drop"] {
		inst.Params.Drop = &drop
	}
	if set["tp"] {
		inst.Params.TP = tp
	}
	if set["sl"] {
		inst.Params.SL = sl
	}
	cfg.Strategy.Instances = []config.InstanceConfig{inst}
	return nil
}

// newLogger builds the JSON logger at the configured level. With log_file set,
// output is tee'd into a size-rotated file.
func newLogger(cfg *config.Config) (*slog.Logger, func()) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn
}
