package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	syncengine "github.com/syncwell/esmirror/internal/sync"
	"github.com/syncwell/esmirror/pkg/cluster"
	"github.com/syncwell/esmirror/pkg/config"
	"github.com/syncwell/esmirror/pkg/logger"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "esmirror",
		Short: "esmirror - continuous search-cluster replication",
		Long: `esmirror continuously replicates documents from a source document-search
cluster to a target cluster, keeping the target eventually consistent with
the source without re-copying everything on every run.`,
	}

	// Version command
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("esmirror v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	// Main run command
	var configFile string
	var once bool
	var pageSize, maxRetries int
	var baseDelay, maxDelay, interval time.Duration
	var detectChanges bool
	var logLevel string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the synchronization loop",
		Long: `Run the synchronization loop. Connection settings and credentials come
from the environment (a .env file is honored); tunables may additionally be
set in an optional YAML file and overridden by flags.

Example:
  esmirror run --page-size 1000 --interval 5m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile, flagOverrides{
				pageSize:      pageSize,
				maxRetries:    maxRetries,
				baseDelay:     baseDelay,
				maxDelay:      maxDelay,
				interval:      interval,
				detectChanges: detectChanges,
				logLevel:      logLevel,
			})
			if err != nil {
				return err
			}
			return run(cfg, once)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to optional YAML tunables file")
	runCmd.Flags().BoolVar(&once, "once", false, "Execute exactly one pass and exit")
	runCmd.Flags().IntVar(&pageSize, "page-size", 0, "Records per cursor page. Higher values improve throughput but increase memory usage")
	runCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Transport attempt budget per batch")
	runCmd.Flags().DurationVar(&baseDelay, "base-delay", 0, "Backoff floor and inter-batch pacing delay (e.g. 1s, 500ms)")
	runCmd.Flags().DurationVar(&maxDelay, "max-delay", 0, "Backoff ceiling")
	runCmd.Flags().DurationVar(&interval, "interval", 0, "Wait between passes; 0 restarts after a short fixed pause")
	runCmd.Flags().BoolVar(&detectChanges, "detect-changes", false, "Check each document for changes before writing instead of upserting unconditionally")
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagOverrides carries the tunables set explicitly on the command line
type flagOverrides struct {
	pageSize      int
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	interval      time.Duration
	detectChanges bool
	logLevel      string
}

// loadConfig assembles the effective configuration: environment first,
// optional YAML tunables file on top, explicit flags last. A missing
// required setting fails here, before any cluster I/O.
func loadConfig(cmd *cobra.Command, configFile string, flags flagOverrides) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	if configFile != "" {
		if err := config.Load(configFile, cfg); err != nil {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
	}

	if cmd.Flags().Changed("page-size") {
		cfg.Sync.PageSize = flags.pageSize
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.Sync.MaxRetries = flags.maxRetries
	}
	if cmd.Flags().Changed("base-delay") {
		cfg.Sync.BaseDelay = flags.baseDelay
	}
	if cmd.Flags().Changed("max-delay") {
		cfg.Sync.MaxDelay = flags.maxDelay
	}
	if cmd.Flags().Changed("interval") {
		cfg.Sync.Interval = flags.interval
	}
	if cmd.Flags().Changed("detect-changes") {
		cfg.Sync.DetectChanges = flags.detectChanges
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// run connects to both clusters and hands control to the scheduler. It
// returns only when the process is terminated externally, or after one
// pass in --once mode.
func run(cfg *config.Config, once bool) error {
	if err := logger.Init(logger.Config{
		Level:    cfg.Logging.Level,
		Encoding: cfg.Logging.Encoding,
	}); err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(
		zap.String("component", "esmirror-cli"),
		zap.String("source_collection", cfg.Collections.Source),
		zap.String("target_collection", cfg.Collections.Target))

	source, err := cluster.NewSource(cfg.Source)
	if err != nil {
		return fmt.Errorf("source cluster error: %w", err)
	}
	target, err := cluster.NewTarget(cfg.Target)
	if err != nil {
		return fmt.Errorf("target cluster error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch := syncengine.NewOrchestrator(source, target, cfg)

	if once {
		log.Info("running single pass")
		metrics := orch.RunPass(ctx)
		if metrics.Err != nil {
			return fmt.Errorf("pass failed: %w", metrics.Err)
		}
		return nil
	}

	log.Info("starting scheduler",
		zap.Duration("interval", cfg.Sync.Interval),
		zap.Bool("detect_changes", cfg.Sync.DetectChanges))
	syncengine.NewScheduler(orch, cfg.Sync.Interval).Run(ctx)
	return nil
}
