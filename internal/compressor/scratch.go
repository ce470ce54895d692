package compressor

import (
	"errors"
	"io/fs"
	"os"
	"sync"
)

const scratchPattern = ".img-squeeze-*.png"

// liveScratch tracks scratch files that have not been released yet so a
// signal handler can sweep them.
var liveScratch sync.Map

// scratchFile is a uniquely named temporary file owned by one encode call.
type scratchFile struct {
	path string
	once sync.Once
}

func newScratchFile(dir string) (*scratchFile, error) {
	f, err := os.CreateTemp(dir, scratchPattern)
	if err != nil {
		return nil, err
	}
	s := &scratchFile{path: f.Name()}
	liveScratch.Store(s.path, struct{}{})
	if err := f.Close(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close removes the file. It is safe to call more than once.
func (s *scratchFile) Close() error {
	var err error
	s.once.Do(func() {
		liveScratch.Delete(s.path)
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = rmErr
		}
	})
	return err
}

// CleanupScratch removes every scratch file still held by an in-flight
// encode and returns how many were removed. Call it on abnormal termination.
func CleanupScratch() int {
	removed := 0
	liveScratch.Range(func(key, _ any) bool {
		path := key.(string)
		liveScratch.Delete(path)
		if err := os.Remove(path); err == nil {
			removed++
		}
		return true
	})
	return removed
}
