package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/luojiyin1987/img-squeeze/internal/config"
	"github.com/luojiyin1987/img-squeeze/internal/logger"
	"github.com/luojiyin1987/img-squeeze/internal/telemetry"
)

var (
	cfgFile   string
	verbose   bool
	quiet     bool
	logFormat string
	version   = "dev"
	buildTime string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "img-squeeze",
	Short: "Compress and resize images in parallel",
	Long: `img-squeeze compresses images one at a time or in parallel batches.

Features:
- JPEG, PNG, WebP, BMP, TIFF and GIF output
- Aspect-preserving resize to a bounding box
- Quality-tiered lossless PNG optimization
- Memory-aware batch scheduling
- Upload of results to Walrus or IPFS
- Watch mode and an HTTP API with live progress`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("img-squeeze %s", version)
		if buildTime != "" {
			fmt.Printf(" (built %s)", buildTime)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration, builds the logger and starts telemetry.
func setup(ctx context.Context) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	if err := telemetry.Init(ctx, cfg.Telemetry.Enabled, "img-squeeze", version); err != nil {
		log.Warnf("Telemetry disabled: %v", err)
	}

	return cfg, log, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if logFormat != "" {
		loggerCfg.Format = logFormat
	}
	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// newOrchestrator builds the batch compressor from configuration.
func newOrchestrator(cfg *config.Config, log *logrus.Logger) *compressor.Orchestrator {
	return compressor.NewOrchestrator(log, compressor.Settings{
		ScratchDir:  cfg.Compression.ScratchDir,
		Limits:      cfg.Limits.CompressorLimits(),
		MemoryProbe: compressor.SystemMemory,
	})
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists returns true if the given path exists and is a directory.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// printf writes to stdout unless --quiet is set.
func printf(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf(format, args...)
	}
}

func run() int {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to set GOMAXPROCS: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go watchSignals(sigs, cancel, os.Exit)

	defer func() {
		if r := recover(); r != nil {
			compressor.CleanupScratch()
			panic(r)
		}
	}()

	err := rootCmd.ExecuteContext(ctx)

	telemetry.Shutdown(context.Background())
	if n := compressor.CleanupScratch(); n > 0 {
		fmt.Fprintf(os.Stderr, "Removed %d leftover scratch files\n", n)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted")
			return 130
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// watchSignals cancels the run on the first signal so in-flight files can
// finish. A second signal removes scratch files still held by running
// encodes and exits at once.
func watchSignals(sigs <-chan os.Signal, cancel context.CancelFunc, exit func(int)) {
	if _, ok := <-sigs; !ok {
		return
	}
	fmt.Fprintln(os.Stderr, "Stopping after in-flight files finish, interrupt again to force exit")
	cancel()
	if _, ok := <-sigs; !ok {
		return
	}
	n := compressor.CleanupScratch()
	fmt.Fprintf(os.Stderr, "Forced exit, removed %d scratch files\n", n)
	exit(130)
}

func main() {
	os.Exit(run())
}
