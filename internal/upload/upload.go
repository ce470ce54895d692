// Package upload stores compressed images on decentralized blob storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrFileTooLarge is returned when a file exceeds the upload size limit.
var ErrFileTooLarge = errors.New("file too large to upload")

// Receipt identifies a stored blob.
type Receipt struct {
	Backend string `json:"backend"`
	ID      string `json:"id"`
	URL     string `json:"url"`
	Size    int64  `json:"size"`
}

// Uploader stores a single blob.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (Receipt, error)
	Name() string
}

// UploadFile reads path and uploads it. maxSize of 0 disables the size check.
func UploadFile(ctx context.Context, u Uploader, path string, maxSize int64) (Receipt, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Receipt{}, fmt.Errorf("%s is a directory", path)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return Receipt{}, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, info.Size(), maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	receipt, err := u.Upload(ctx, filepath.Base(path), data)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s upload of %s failed: %w", u.Name(), path, err)
	}
	return receipt, nil
}
