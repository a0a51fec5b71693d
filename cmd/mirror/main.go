package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openmirror/mirror/internal/config"
	"github.com/openmirror/mirror/internal/history"
	"github.com/openmirror/mirror/internal/scheduler"
	syncpkg "github.com/openmirror/mirror/internal/sync"
	"github.com/openmirror/mirror/internal/utils"
	"github.com/openmirror/mirror/internal/version"
	"github.com/openmirror/mirror/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:     "mirror <source_path> <replica_path> <sync_interval_seconds> <sync_iterations> <log_path>",
	Short:   "One-way directory synchronization on a fixed schedule",
	Version: version.Detailed(),
	Args:    cobra.ExactArgs(5),
	Long: `mirror makes a replica directory match a source directory, repeating the
scan-compare-apply cycle on a fixed schedule for a bounded number of passes.
Every action taken is recorded to the console and appended to the log file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(args)
		if err != nil {
			return err
		}

		// args are valid past this point, don't dump usage on runtime errors
		cmd.SilenceUsage = true

		logFile, err := setupLogging(cfg.LogPath)
		if err != nil {
			return err
		}
		defer logFile.Close()

		showHeader()
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("mode", "m", config.DefaultMode, "file comparison mode: digest (exact, hashes content) or metadata (fast, size+mtime)")
	rootCmd.Flags().IntP("workers", "w", config.DefaultWorkers, "parallel file copies per pass")
	rootCmd.Flags().StringArrayP("exclude", "x", nil, "glob of paths to exclude, repeatable (doublestar syntax)")
	rootCmd.Flags().String("history-db", "", "optional sqlite database recording the action history")

	viper.BindPFlag("mode", rootCmd.Flags().Lookup("mode"))
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))
	viper.BindPFlag("exclude", rootCmd.Flags().Lookup("exclude"))
	viper.BindPFlag("history_db", rootCmd.Flags().Lookup("history-db"))
	viper.SetEnvPrefix("MIRROR")
	viper.AutomaticEnv()
}

func main() {
	// console-only logger until the log file path is known
	slog.SetDefault(slog.New(consoleHandler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func buildConfig(args []string) (*config.Config, error) {
	intervalSec, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sync interval %q: %w", args[2], err)
	}

	iterations, err := strconv.Atoi(args[3])
	if err != nil {
		return nil, fmt.Errorf("invalid sync iterations %q: %w", args[3], err)
	}

	cfg := &config.Config{
		SourcePath:  args[0],
		ReplicaPath: args[1],
		Interval:    time.Duration(intervalSec * float64(time.Second)),
		Iterations:  iterations,
		LogPath:     args[4],
		Mode:        viper.GetString("mode"),
		Workers:     viper.GetInt("workers"),
		Excludes:    viper.GetStringSlice("exclude"),
		HistoryDB:   viper.GetString("history_db"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging opens the log file (created if absent, appended so records
// accumulate across runs) and installs a handler pair: colored console
// output plus numbered plain-text lines in the file.
func setupLogging(logPath string) (*os.File, error) {
	if err := utils.EnsureParent(logPath); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(utils.NewNumberedWriter(file), &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the numbered writer prefixes each line with its own timestamp
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler(), fileHandler)))
	return file, nil
}

func consoleHandler() slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("mirror %s\n", version.Short())
}

func run(ctx context.Context, cfg *config.Config) error {
	runID := uuid.NewString()
	logger := slog.Default().With("run", runID[:8])
	slog.SetDefault(logger)

	ws := workspace.New(cfg.SourcePath, cfg.ReplicaPath)
	if err := ws.Setup(); err != nil {
		return err
	}
	defer ws.Unlock()

	sinks := syncpkg.MultiSink{syncpkg.NewSlogSink(logger)}

	var historySink *history.Sink
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		historySink = store.NewSink(runID)
		sinks = append(sinks, historySink)
	}

	reconciler, err := syncpkg.NewReconciler(syncpkg.Options{
		SourceRoot:  cfg.SourcePath,
		ReplicaRoot: cfg.ReplicaPath,
		Mode:        cfg.Mode,
		Workers:     cfg.Workers,
		Excludes:    cfg.Excludes,
		TmpDir:      ws.TmpDir,
		Sink:        sinks,
	})
	if err != nil {
		return err
	}

	logger.Info("starting synchronization",
		"source", cfg.SourcePath,
		"replica", cfg.ReplicaPath,
		"interval", cfg.Interval,
		"iterations", cfg.Iterations,
		"mode", cfg.Mode,
	)

	sched := &scheduler.Scheduler{Interval: cfg.Interval, Iterations: cfg.Iterations}
	err = sched.Run(ctx, func(ctx context.Context, iteration int) error {
		if historySink != nil {
			historySink.BeginPass(iteration)
		}
		_, _, err := reconciler.Reconcile(ctx)
		return err
	})
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted, shutting down")
		return nil
	}

	logger.Info("Bye!")
	return err
}
