// Package discovery expands command line inputs into the list of image
// files a batch should process.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrNoImages is returned when an input yields no supported image files.
var ErrNoImages = errors.New("no supported image files found")

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".gif":  true,
}

// Options controls how inputs are expanded.
type Options struct {
	Recursive bool
	MaxFiles  int // 0 means unlimited
}

// Result is the outcome of expanding one or more inputs.
type Result struct {
	Files []string
	// Root is the directory relative output paths are computed against.
	// Empty when the inputs were individual files or globs.
	Root        string
	Directories int
	Skipped     int
}

// IsSupported reports whether path has an image extension the compressor handles.
func IsSupported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Collector walks inputs and collects supported image files.
type Collector struct {
	logger  *logrus.Logger
	options Options
}

// NewCollector creates a Collector.
func NewCollector(log *logrus.Logger, options Options) *Collector {
	return &Collector{logger: log, options: options}
}

// Collect expands each input, which may be a file, a directory or a glob
// pattern, and returns the sorted, de-duplicated list of image files.
func (c *Collector) Collect(inputs ...string) (*Result, error) {
	result := &Result{}
	seen := make(map[string]bool)

	add := func(path string) bool {
		clean := filepath.Clean(path)
		if seen[clean] {
			return true
		}
		if c.options.MaxFiles > 0 && len(result.Files) >= c.options.MaxFiles {
			return false
		}
		seen[clean] = true
		result.Files = append(result.Files, clean)
		return true
	}

	for _, input := range inputs {
		info, err := os.Stat(input)
		switch {
		case err == nil && info.IsDir():
			if len(inputs) == 1 {
				result.Root = filepath.Clean(input)
			}
			if err := c.walk(input, result, add); err != nil {
				return nil, err
			}
		case err == nil:
			if !IsSupported(input) {
				c.logger.Debugf("Skipping unsupported file: %s", input)
				result.Skipped++
				continue
			}
			add(input)
		case hasMeta(input):
			matches, globErr := filepath.Glob(input)
			if globErr != nil {
				return nil, fmt.Errorf("invalid pattern %q: %w", input, globErr)
			}
			for _, m := range matches {
				if fi, statErr := os.Stat(m); statErr != nil || fi.IsDir() || isHidden(filepath.Base(m)) || !IsSupported(m) {
					result.Skipped++
					continue
				}
				add(m)
			}
		default:
			return nil, fmt.Errorf("cannot access %s: %w", input, err)
		}
	}

	sort.Strings(result.Files)

	if len(result.Files) == 0 {
		return result, ErrNoImages
	}
	return result, nil
}

// walk finds all image files below root.
func (c *Collector) walk(root string, result *Result, add func(string) bool) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warnf("Error accessing path %s: %v", path, err)
			return nil
		}

		if d.IsDir() {
			if path != root && (isHidden(d.Name()) || !c.options.Recursive) {
				return filepath.SkipDir
			}
			result.Directories++
			return nil
		}

		if isHidden(d.Name()) || !IsSupported(path) {
			result.Skipped++
			return nil
		}

		if !add(path) {
			c.logger.Infof("Reached maximum files limit (%d), stopping discovery", c.options.MaxFiles)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return nil
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, `*?[`)
}
