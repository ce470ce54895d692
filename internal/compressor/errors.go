package compressor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a compression failure.
type ErrorKind string

const (
	KindInputNotFound          ErrorKind = "InputNotFound"
	KindUnsupportedInputFormat ErrorKind = "UnsupportedInputFormat"
	KindInputTooLarge          ErrorKind = "InputTooLarge"
	KindInvalidOption          ErrorKind = "InvalidOption"
	KindResizeFailure          ErrorKind = "ResizeFailure"
	KindUnsupportedFormat      ErrorKind = "UnsupportedFormat"
	KindUnsupportedColorType   ErrorKind = "UnsupportedColorType"
	KindEncodeFailure          ErrorKind = "EncodeFailure"
	KindOptimizeFailure        ErrorKind = "OptimizeFailure"
	KindOutputWriteFailure     ErrorKind = "OutputWriteFailure"
	KindTempFileFailure        ErrorKind = "TempFileFailure"
	KindBatchLimitExceeded     ErrorKind = "BatchLimitExceeded"
	KindInsufficientMemory     ErrorKind = "InsufficientMemory"
	KindCancelled              ErrorKind = "Cancelled"
)

// ErrInvalidDimension reports a resize bound or computed dimension that is not positive.
var ErrInvalidDimension = errors.New("invalid dimension")

// Error is a classified failure, optionally tied to a file path.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

func errorf(kind ErrorKind, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

// withPath attaches path to a classified error that has none.
func withPath(err error, path string) error {
	var e *Error
	if errors.As(err, &e) && e.Path == "" {
		return &Error{Kind: e.Kind, Path: path, Err: e.Err}
	}
	return err
}

// KindOf returns the kind of err, or an empty kind when err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsFatal reports whether an error of this kind aborts a batch before any
// task is dispatched.
func (k ErrorKind) IsFatal() bool {
	switch k {
	case KindInvalidOption, KindBatchLimitExceeded, KindInsufficientMemory:
		return true
	default:
		return false
	}
}
