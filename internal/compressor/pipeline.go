package compressor

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"github.com/luojiyin1987/img-squeeze/internal/logger"
)

// Pipeline runs the per-file stages: load, resize, resolve, encode, write.
type Pipeline struct {
	logger      *logrus.Logger
	encoder     *Encoder
	maxFileSize int64
}

// NewPipeline returns a Pipeline. maxFileSize of 0 disables the input size check.
func NewPipeline(log *logrus.Logger, scratchDir string, maxFileSize int64) *Pipeline {
	return &Pipeline{
		logger:      log,
		encoder:     NewEncoder(scratchDir),
		maxFileSize: maxFileSize,
	}
}

// Encode loads, resizes and encodes the task input in memory.
func (p *Pipeline) Encode(task ImageTask) (*EncodedImage, error) {
	info, err := os.Stat(task.InputPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(KindInputNotFound, task.InputPath, err)
		}
		return nil, newError(KindInputNotFound, task.InputPath, fmt.Errorf("stat: %w", err))
	}
	if info.IsDir() {
		return nil, errorf(KindUnsupportedInputFormat, task.InputPath, "is a directory")
	}
	if p.maxFileSize > 0 && info.Size() > p.maxFileSize {
		return nil, errorf(KindInputTooLarge, task.InputPath, "file size %d exceeds limit %d", info.Size(), p.maxFileSize)
	}

	img, err := load(task.InputPath)
	if err != nil {
		return nil, newError(KindUnsupportedInputFormat, task.InputPath, err)
	}

	img, err = Resize(img, task.Options.Bounds())
	if err != nil {
		return nil, newError(KindResizeFailure, task.InputPath, err)
	}

	format, err := ResolveFormat(task.OutputPath, task.Options.OutputFormat)
	if err != nil {
		return nil, err
	}

	data, err := p.encoder.Encode(img, format, task.Options.Quality)
	if err != nil {
		return nil, withPath(err, task.InputPath)
	}

	size := img.Bounds().Size()
	return &EncodedImage{
		Name:         filepath.Base(task.OutputPath),
		Data:         data,
		Format:       format,
		Width:        size.X,
		Height:       size.Y,
		OriginalSize: info.Size(),
	}, nil
}

// Execute runs the task and writes its output. A panic inside a codec is
// converted into an EncodeFailure.
func (p *Pipeline) Execute(task ImageTask) (res CompressionResult, err error) {
	res = CompressionResult{
		InputPath:  task.InputPath,
		OutputPath: task.OutputPath,
		StartedAt:  time.Now(),
	}
	entry := logger.WithFileOperation(p.logger, task.InputPath, "compress")

	defer func() {
		if r := recover(); r != nil {
			err = errorf(KindEncodeFailure, task.InputPath, "panic: %v", r)
		}
		res.FinishedAt = time.Now()
		res.Elapsed = res.FinishedAt.Sub(res.StartedAt)
		if err != nil {
			res.Success = false
			res.ErrorKind = KindOf(err)
			res.Message = err.Error()
			res.Error = err
			entry.WithField("kind", res.ErrorKind).Warnf("Compression failed: %v", err)
			return
		}
		entry.WithFields(logrus.Fields{
			"output":          res.OutputPath,
			"original_size":   res.OriginalSize,
			"compressed_size": res.CompressedSize,
			"elapsed":         res.Elapsed,
		}).Debug("Image compressed")
	}()

	enc, err := p.Encode(task)
	if err != nil {
		return res, err
	}
	res.Format = enc.Format
	res.Width, res.Height = enc.Width, enc.Height
	res.OriginalSize = enc.OriginalSize

	if err := WriteOutput(task.OutputPath, enc.Data); err != nil {
		return res, err
	}
	res.CompressedSize = int64(len(enc.Data))
	res.Success = true
	return res, nil
}

// WriteOutput writes data to path through a temporary file in the same
// directory followed by a rename, creating parent directories as needed.
func WriteOutput(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newError(KindOutputWriteFailure, path, fmt.Errorf("create directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return newError(KindOutputWriteFailure, path, fmt.Errorf("create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return newError(KindOutputWriteFailure, path, fmt.Errorf("write: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return newError(KindOutputWriteFailure, path, fmt.Errorf("close: %w", err))
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return newError(KindOutputWriteFailure, path, fmt.Errorf("chmod: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return newError(KindOutputWriteFailure, path, fmt.Errorf("rename: %w", err))
	}
	return nil
}

// load decodes the first frame of an image, applying EXIF orientation.
func load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return img, nil
}
