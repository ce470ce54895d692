// Package watcher compresses images as they appear in a directory.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/luojiyin1987/img-squeeze/internal/discovery"
	"github.com/luojiyin1987/img-squeeze/internal/logger"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the quiet period after the last event before a batch runs.
const DefaultDebounce = 2 * time.Second

// Options configures a Watcher.
type Options struct {
	Root        string
	OutputDir   string
	Recursive   bool
	Debounce    time.Duration
	Compression compressor.CompressionOptions
	// OnBatch is called after every batch completes.
	OnBatch func(*compressor.BatchReport)
}

// Watcher monitors a directory tree and compresses new or modified images.
type Watcher struct {
	logger     *logrus.Logger
	compressor compressor.Compressor
	options    Options
	watcher    *fsnotify.Watcher
	outputAbs  string
}

// New creates a watcher. Directories are registered before New returns,
// so files written afterwards are observed.
func New(log *logrus.Logger, c compressor.Compressor, options Options) (*Watcher, error) {
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if err := options.Compression.Validate(); err != nil {
		return nil, err
	}

	outputAbs, err := filepath.Abs(options.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		logger:     log,
		compressor: c,
		options:    options,
		watcher:    fsWatcher,
		outputAbs:  outputAbs,
	}
	if err := w.addDirs(options.Root); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled. Pending files are dropped
// on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.options.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.accept(event) {
				continue
			}
			logger.WithFile(w.logger, event.Name).Debug("Queued changed file")
			pending[filepath.Clean(event.Name)] = struct{}{}
			timer.Reset(w.options.Debounce)

		case <-timer.C:
			w.flush(ctx, pending)
			pending = make(map[string]struct{})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("Watcher error: %v", err)
		}
	}
}

// accept reports whether an event should queue its file. New directories
// are registered as a side effect when recursive.
func (w *Watcher) accept(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") || w.inOutput(event.Name) {
		return false
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return false
	}
	if info.IsDir() {
		if w.options.Recursive && event.Has(fsnotify.Create) {
			if err := w.addDirs(event.Name); err != nil {
				w.logger.Warnf("Failed to watch new directory %s: %v", event.Name, err)
			}
		}
		return false
	}
	return discovery.IsSupported(event.Name)
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	files := make([]string, 0, len(pending))
	for path := range pending {
		files = append(files, path)
	}
	sort.Strings(files)

	w.logger.WithField("files", len(files)).Info("Compressing changed files")

	report, err := w.compressor.Run(ctx, files, w.options.Compression, w.options.OutputDir,
		compressor.WithInputRoot(w.options.Root))
	if err != nil {
		w.logger.Errorf("Batch failed: %v", err)
		return
	}

	w.logger.WithFields(logrus.Fields{
		"succeeded": report.Summary.FilesSucceeded,
		"failed":    report.Summary.FilesFailed,
	}).Info("Batch completed")

	if w.options.OnBatch != nil {
		w.options.OnBatch(report)
	}
}

func (w *Watcher) addDirs(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (!w.options.Recursive || strings.HasPrefix(d.Name(), ".") || w.inOutput(path)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch folder %s: %w", path, err)
		}
		w.logger.Debugf("Watching folder: %s", path)
		return nil
	})
}

func (w *Watcher) inOutput(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(w.outputAbs, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
