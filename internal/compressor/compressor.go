package compressor

import (
	"context"
	"time"

	"github.com/luojiyin1987/img-squeeze/internal/statistics"
)

// ImageTask pairs one input with its destination and the shared options.
type ImageTask struct {
	InputPath  string
	OutputPath string
	Options    CompressionOptions
}

// EncodedImage is the in-memory outcome of a task before it is written.
// Name is the logical file name collaborators such as uploaders should use.
type EncodedImage struct {
	Name         string
	Data         []byte
	Format       Format
	Width        int
	Height       int
	OriginalSize int64
}

// CompressionResult describes the result of compressing a single file.
type CompressionResult struct {
	InputPath      string        `json:"input_path"`
	OutputPath     string        `json:"output_path"`
	Format         Format        `json:"format,omitempty"`
	Width          int           `json:"width,omitempty"`
	Height         int           `json:"height,omitempty"`
	OriginalSize   int64         `json:"original_size"`
	CompressedSize int64         `json:"compressed_size"`
	Elapsed        time.Duration `json:"elapsed"`
	Success        bool          `json:"success"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	Message        string        `json:"message,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Error          error         `json:"-"`
}

// PercentageSaved returns the size reduction of a succeeded result in percent.
func (r CompressionResult) PercentageSaved() float64 {
	if !r.Success || r.OriginalSize <= 0 {
		return 0
	}
	return float64(r.OriginalSize-r.CompressedSize) * 100 / float64(r.OriginalSize)
}

// BatchReport is everything a batch returns to its caller.
type BatchReport struct {
	Summary  statistics.BatchSummary `json:"summary"`
	Results  []CompressionResult     `json:"results"`
	Failures []statistics.Failure    `json:"failures"`
	Formats  map[string]int64        `json:"formats"`
	Workers  int                     `json:"workers"`
}

// Progress is reported after each task finishes.
type Progress struct {
	Done  int64
	Total int64
}

// ProgressFunc observes task completion. It is called from worker
// goroutines and must be safe for concurrent use.
type ProgressFunc func(p Progress, result CompressionResult)

// Compressor runs the compression pipeline on single files and batches.
type Compressor interface {
	// CompressFile compresses one file. Errors surface directly.
	CompressFile(ctx context.Context, input, output string, opts CompressionOptions) (CompressionResult, error)
	// Encode runs a task in memory without writing output.
	Encode(ctx context.Context, task ImageTask) (*EncodedImage, error)
	// Run compresses every input into outputRoot. Per-file failures are
	// reported in the BatchReport; only configuration errors are returned.
	Run(ctx context.Context, inputs []string, opts CompressionOptions, outputRoot string, runOpts ...RunOption) (*BatchReport, error)
}
