package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/app"
	"github.com/ternarybob/praedium/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	dataDir      = flag.String("data-dir", "", "Data directory (overrides config)")
	logLevel     = flag.String("log-level", "", "Log level (overrides config)")
	workers      = flag.Int("workers", 0, "Worker pool size (overrides config)")
	runOnce      = flag.Bool("once", false, "Execute due pending jobs synchronously, then exit")
	onceMax      = flag.Int("max", 0, "Maximum jobs to execute with -once (0 = configured batch limit)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	// Crash protection: unrecovered panics produce a crash file
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	// Parse command-line flags
	flag.Parse()

	// Handle version flag
	if *showVersion || *showVersionV {
		fmt.Printf("Praedium version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		// Check current directory first
		if _, err := os.Stat("praedium.toml"); err == nil {
			configFiles = append(configFiles, "praedium.toml")
		} else if _, err := os.Stat("deployments/local/praedium.toml"); err == nil {
			// Fallback: check deployments/local for users running from project root
			configFiles = append(configFiles, "deployments/local/praedium.toml")
		}
	}

	// 1. Load configuration (default -> file1 -> file2 -> ... -> env -> CLI)
	// Later config files override earlier ones
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		// Use temporary logger for startup errors
		tempLogger := arbor.NewLogger()
		if len(configFiles) == 0 {
			tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		} else {
			tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		}
		os.Exit(1)
	}

	// 2. Apply command-line flag overrides (highest priority)
	common.ApplyFlagOverrides(config, *dataDir, *logLevel, *workers)

	// 3. Initialize logger with final configuration
	logger = common.InitLogger(config)

	// 4. Print banner
	common.PrintBanner(common.GetVersion())

	// Debug: Log final resolved configuration for troubleshooting
	logger.Debug().
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Int("workers", config.Queue.WorkerPoolSize).
		Msg("Resolved configuration (sanitized)")

	logger.Info().
		Strs("config_files", configFiles).
		Str("environment", config.Environment).
		Msg("Application configuration loaded")

	// Initialize application
	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	// Batch mode: drain due pending jobs on this goroutine, then exit.
	// The worker pool and scheduler are never started.
	if *runOnce {
		os.Exit(runBatch(application))
	}

	// Start worker pool and scheduler
	if err := application.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start application")
		application.Close()
		os.Exit(1)
	}

	logger.Info().Msg("Praedium ready - Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received")

	// Graceful shutdown; the worker pool bounds its own wait with the
	// configured shutdown grace
	logger.Info().Msg("Shutting down")

	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
		os.Exit(1)
	}

	logger.Info().Msg("Praedium stopped")
}

// runBatch executes one synchronous queue drain and reports the outcome.
func runBatch(application *app.App) int {
	summary, err := application.Commands.ExecutePending(context.Background(), *onceMax)
	if err != nil {
		logger.Error().Err(err).Msg("Execute pending failed")
		application.Close()
		return 1
	}

	logger.Info().
		Int("executed", summary.Executed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("cancelled", summary.Cancelled).
		Int("remaining", summary.Remaining).
		Msg("Execute pending complete")

	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
		return 1
	}
	return 0
}
