package compressor

import (
	"fmt"

	"go.uber.org/multierr"
)

// DefaultQuality is used when no quality is configured.
const DefaultQuality = 80

// CompressionOptions is the option set shared by every task of an invocation.
// It is passed by value and never mutated after validation.
type CompressionOptions struct {
	Quality int `json:"quality"`
	// MaxWidth and MaxHeight bound the output size; 0 means unconstrained.
	MaxWidth     int    `json:"max_width,omitempty"`
	MaxHeight    int    `json:"max_height,omitempty"`
	OutputFormat Format `json:"output_format,omitempty"`
	// ThreadCount sizes the worker pool; 0 selects the hardware parallelism.
	ThreadCount int `json:"thread_count,omitempty"`
}

// DefaultOptions returns options with the default quality and no constraints.
func DefaultOptions() CompressionOptions {
	return CompressionOptions{Quality: DefaultQuality}
}

// Validate checks every option and reports all problems at once as an
// InvalidOption error.
func (o CompressionOptions) Validate() error {
	var errs error
	if o.Quality < 1 || o.Quality > 100 {
		errs = multierr.Append(errs, fmt.Errorf("quality %d out of range [1,100]", o.Quality))
	}
	if o.MaxWidth < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max width %d: %w", o.MaxWidth, ErrInvalidDimension))
	}
	if o.MaxHeight < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max height %d: %w", o.MaxHeight, ErrInvalidDimension))
	}
	if o.ThreadCount < 0 {
		errs = multierr.Append(errs, fmt.Errorf("thread count %d must be positive", o.ThreadCount))
	}
	if errs != nil {
		return newError(KindInvalidOption, "", errs)
	}
	return nil
}

// Bounds returns the resize constraints of the options.
func (o CompressionOptions) Bounds() Bounds {
	return Bounds{MaxWidth: o.MaxWidth, MaxHeight: o.MaxHeight}
}
