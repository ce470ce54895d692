package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/luojiyin1987/img-squeeze/internal/watcher"
	"github.com/luojiyin1987/img-squeeze/internal/web"
)

var (
	port          int
	serveOutput   string
	serveOpts     optionFlags
	watchOpts     optionFlags
	watchOutput   string
	watchDebounce time.Duration
	watchRecurse  bool
)

// serveCmd starts the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP server exposing the compressor:
- POST /api/compress       compress an uploaded image and return it
- POST /api/batches        start a batch over a server-side path
- GET  /api/batches/{id}   batch state and report
- GET  /api/status         server state
- GET  /api/formats        supported output formats
- GET  /ws                 live batch progress over WebSocket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// watchCmd compresses images as they appear in a directory.
var watchCmd = &cobra.Command{
	Use:   "watch <directory>",
	Short: "Watch a directory and compress new images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd, args[0])
	},
}

func init() {
	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config, 8080)")
	serveCmd.Flags().StringVarP(&serveOutput, "output", "o", "", "default output directory for batches")
	serveOpts.register(serveCmd.Flags())

	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "compressed", "output directory")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before a batch runs (default from config, 2s)")
	watchCmd.Flags().BoolVarP(&watchRecurse, "recursive", "r", false, "watch subdirectories")
	watchOpts.register(watchCmd.Flags())
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}

	opts, err := serveOpts.apply(cmd, cfg)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if serveOutput != "" {
		cfg.Server.OutputDir = serveOutput
	}

	server := web.NewServer(web.Settings{
		Defaults:   opts,
		OutputDir:  cfg.Server.OutputDir,
		ScratchDir: cfg.Compression.ScratchDir,
		Recursive:  cfg.Compression.Recursive,
		MaxFiles:   cfg.Limits.MaxBatchFiles,
	}, log, newOrchestrator(cfg, log))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Port)
	}()

	printf("img-squeeze API listening on http://localhost:%d\n", cfg.Server.Port)
	printf("Press Ctrl+C to stop the server\n\n")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	printf("\nShutting down server...\n")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	printf("Server stopped gracefully\n")
	return nil
}

// runWatch compresses images under dir until interrupted.
func runWatch(cmd *cobra.Command, dir string) error {
	ctx := cmd.Context()
	cfg, log, err := setup(ctx)
	if err != nil {
		return err
	}

	if !dirExists(dir) {
		return fmt.Errorf("directory does not exist: %s", dir)
	}

	opts, err := watchOpts.apply(cmd, cfg)
	if err != nil {
		return err
	}
	debounce := cfg.Watch.Debounce
	if watchDebounce > 0 {
		debounce = watchDebounce
	}

	w, err := watcher.New(log, newOrchestrator(cfg, log), watcher.Options{
		Root:        dir,
		OutputDir:   watchOutput,
		Recursive:   watchRecurse || cfg.Compression.Recursive,
		Debounce:    debounce,
		Compression: opts,
		OnBatch: func(r *compressor.BatchReport) {
			printBatchReport(r, watchOutput)
		},
	})
	if err != nil {
		return err
	}

	printf("Watching %s, writing to %s (Ctrl+C to stop)\n", dir, watchOutput)
	return w.Run(ctx)
}
