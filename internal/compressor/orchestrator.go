package compressor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/luojiyin1987/img-squeeze/internal/logger"
	"github.com/luojiyin1987/img-squeeze/internal/statistics"
	"github.com/luojiyin1987/img-squeeze/internal/telemetry"
)

// Settings configure an Orchestrator.
type Settings struct {
	// ScratchDir holds PNG scratch files; empty means the system temp dir.
	ScratchDir string
	Limits     Limits
	// MemoryProbe reports available memory; nil disables memory checks.
	MemoryProbe MemoryProbe
	// Parallelism overrides the detected hardware parallelism when positive.
	Parallelism int
}

// Orchestrator runs the pipeline over many files on a bounded worker pool.
type Orchestrator struct {
	logger   *logrus.Logger
	pipeline *Pipeline
	settings Settings

	// completed counts finished tasks of the current run.
	completed atomic.Int64
}

var _ Compressor = (*Orchestrator)(nil)

// NewOrchestrator returns an Orchestrator.
func NewOrchestrator(log *logrus.Logger, settings Settings) *Orchestrator {
	return &Orchestrator{
		logger:   log,
		pipeline: NewPipeline(log, settings.ScratchDir, settings.Limits.MaxFileSize),
		settings: settings,
	}
}

// Completed returns the number of finished tasks in the current run.
func (o *Orchestrator) Completed() int64 {
	return o.completed.Load()
}

// RunOption customizes a single Run.
type RunOption func(*runConfig)

type runConfig struct {
	inputRoot  string
	onProgress ProgressFunc
}

// WithInputRoot keeps each input's path relative to root under the output root.
func WithInputRoot(root string) RunOption {
	return func(c *runConfig) { c.inputRoot = root }
}

// WithProgress registers an observer called after each task finishes.
func WithProgress(fn ProgressFunc) RunOption {
	return func(c *runConfig) { c.onProgress = fn }
}

// CompressFile compresses a single file. Any failure is returned directly.
func (o *Orchestrator) CompressFile(ctx context.Context, input, output string, opts CompressionOptions) (CompressionResult, error) {
	if err := opts.Validate(); err != nil {
		return CompressionResult{InputPath: input, OutputPath: output}, err
	}
	ctx, span := telemetry.Tracer("").Start(ctx, "compress.file",
		trace.WithAttributes(attribute.String("input", input)))
	defer span.End()

	res, err := o.pipeline.Execute(ImageTask{InputPath: input, OutputPath: output, Options: opts})
	recordResult(ctx, res)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// Encode runs a task without writing output and returns the encoded bytes.
func (o *Orchestrator) Encode(ctx context.Context, task ImageTask) (*EncodedImage, error) {
	if err := task.Options.Validate(); err != nil {
		return nil, err
	}
	_, span := telemetry.Tracer("").Start(ctx, "compress.encode")
	defer span.End()
	return o.pipeline.Encode(task)
}

// Run compresses every input into outputRoot and returns the report once all
// tasks have finished. Invalid options and batch limit violations abort the
// run before any task starts; every other failure is confined to its file.
// Cancelling ctx stops dispatch of tasks that have not started yet; they are
// reported as Cancelled. Run must not be called concurrently on the same
// Orchestrator.
func (o *Orchestrator) Run(ctx context.Context, inputs []string, opts CompressionOptions, outputRoot string, runOpts ...RunOption) (*BatchReport, error) {
	var cfg runConfig
	for _, apply := range runOpts {
		apply(&cfg)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if outputRoot == "" {
		return nil, errorf(KindInvalidOption, "", "output directory is required")
	}

	parallelism := o.settings.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	plan, err := planBatch(inputs, opts, o.settings.Limits, parallelism, o.settings.MemoryProbe)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, newError(KindInvalidOption, outputRoot, fmt.Errorf("create output directory: %w", err))
	}

	ctx, span := telemetry.Tracer("").Start(ctx, "compress.batch",
		trace.WithAttributes(attribute.Int("files", len(inputs)), attribute.Int("workers", plan.workers)))
	defer span.End()

	log := logger.WithOperation(o.logger, "batch")
	log.WithFields(logrus.Fields{
		"files":            len(inputs),
		"workers":          plan.workers,
		"estimated_memory": plan.estimated,
		"large_files":      plan.largeFiles,
	}).Info("Starting batch")

	o.completed.Store(0)
	total := int64(len(inputs))
	sink := statistics.NewSink(len(inputs))

	type job struct {
		index int
		task  ImageTask
		// rejected is reported as is instead of running the task.
		rejected *CompressionResult
	}
	type result struct {
		index int
		res   CompressionResult
	}

	jobs := make(chan job, len(inputs))
	results := make(chan result, len(inputs))

	var wg conc.WaitGroup
	for w := 0; w < plan.workers; w++ {
		wg.Go(func() {
			for j := range jobs {
				var r CompressionResult
				switch {
				case j.rejected != nil:
					r = *j.rejected
				case ctx.Err() != nil:
					r = cancelledResult(j.task, ctx.Err())
				default:
					r, _ = o.pipeline.Execute(j.task)
				}
				recordResult(ctx, r)
				done := o.completed.Add(1)
				notify(log, cfg.onProgress, Progress{Done: done, Total: total}, r)
				results <- result{index: j.index, res: r}
			}
		})
	}

	// Each output path is claimed by the first input that maps to it.
	claimed := make(map[string]string, len(inputs))
	for i, path := range inputs {
		j := job{index: i, task: ImageTask{
			InputPath:  path,
			OutputPath: OutputPath(path, outputRoot, cfg.inputRoot, opts.OutputFormat),
			Options:    opts,
		}}
		key := filepath.Clean(j.task.OutputPath)
		if first, ok := claimed[key]; ok {
			r := conflictResult(j.task, first)
			j.rejected = &r
		} else {
			claimed[key] = path
		}
		jobs <- j
	}
	close(jobs)

	resArr := make([]CompressionResult, len(inputs))
	for range inputs {
		r := <-results
		resArr[r.index] = r.res
		if r.res.Success {
			sink.RecordSuccess(r.res.Format.String(), r.res.OriginalSize, r.res.CompressedSize)
		} else {
			sink.RecordFailure(r.res.InputPath, string(r.res.ErrorKind), r.res.Message)
		}
	}
	wg.Wait()

	summary := sink.Finalize()
	telemetry.RecordBatch(ctx, len(inputs))
	log.WithFields(logrus.Fields{
		"succeeded": summary.FilesSucceeded,
		"failed":    summary.FilesFailed,
		"ratio":     summary.CompressionRatio(),
		"elapsed":   summary.Elapsed,
	}).Info("Batch finished")

	return &BatchReport{
		Summary:  summary,
		Results:  resArr,
		Failures: sink.Failures(),
		Formats:  sink.FormatBreakdown(),
		Workers:  plan.workers,
	}, nil
}

func cancelledResult(task ImageTask, cause error) CompressionResult {
	now := time.Now()
	err := newError(KindCancelled, task.InputPath, errors.Join(errors.New("batch cancelled before task started"), cause))
	return CompressionResult{
		InputPath:  task.InputPath,
		OutputPath: task.OutputPath,
		ErrorKind:  KindCancelled,
		Message:    err.Error(),
		Error:      err,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func conflictResult(task ImageTask, first string) CompressionResult {
	now := time.Now()
	err := errorf(KindOutputWriteFailure, task.InputPath, "output %s conflicts with %s", task.OutputPath, first)
	return CompressionResult{
		InputPath:  task.InputPath,
		OutputPath: task.OutputPath,
		ErrorKind:  KindOutputWriteFailure,
		Message:    err.Error(),
		Error:      err,
		StartedAt:  now,
		FinishedAt: now,
	}
}

// notify calls the progress observer. A panicking observer is logged and
// does not stop the batch.
func notify(log *logrus.Entry, fn ProgressFunc, p Progress, r CompressionResult) {
	if fn == nil {
		return
	}
	defer func() {
		if v := recover(); v != nil {
			log.WithField("file", r.InputPath).Errorf("Progress observer panicked: %v", v)
		}
	}()
	fn(p, r)
}

func recordResult(ctx context.Context, r CompressionResult) {
	outcome := "success"
	if !r.Success {
		outcome = "failure"
	}
	telemetry.RecordTask(ctx, r.Format.String(), outcome, r.OriginalSize, r.CompressedSize, r.Elapsed)
}
