// Package inspect reports image properties, EXIF metadata and compression
// suggestions for single files without decoding full pixel data.
package inspect

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/sirupsen/logrus"
)

// ImageInfo describes an image file.
type ImageInfo struct {
	Path          string            `json:"path"`
	Format        compressor.Format `json:"format"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	ColorModel    string            `json:"color_model"`
	BytesPerPixel int               `json:"bytes_per_pixel"`
	FileSize      int64             `json:"file_size"`
	ModTime       time.Time         `json:"mod_time"`
	EXIF          *EXIFData         `json:"exif,omitempty"`
	// Metadata holds the full exiftool dump when exiftool is enabled.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Pixels returns the total pixel count.
func (i *ImageInfo) Pixels() int64 {
	return int64(i.Width) * int64(i.Height)
}

// Megapixels returns the pixel count in millions.
func (i *ImageInfo) Megapixels() float64 {
	return float64(i.Pixels()) / 1_000_000
}

// AspectRatio returns width divided by height.
func (i *ImageInfo) AspectRatio() float64 {
	if i.Height == 0 {
		return 0
	}
	return float64(i.Width) / float64(i.Height)
}

// DecodedMemory estimates the bytes needed to hold the decoded image.
func (i *ImageInfo) DecodedMemory() uint64 {
	return uint64(i.Pixels()) * uint64(i.BytesPerPixel)
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	HitRate      float64
	TotalQueries int64
}

// Inspector reads image headers and metadata. Results are cached by
// path, size and modification time.
type Inspector struct {
	logger   *logrus.Logger
	cache    sync.Map
	stats    CacheStats
	mutex    sync.RWMutex
	exiftool *ExifTool
}

// NewInspector returns a new Inspector.
func NewInspector(logger *logrus.Logger) *Inspector {
	return &Inspector{
		logger: logger,
	}
}

// UseExifTool attaches an exiftool process used for the full metadata dump.
func (in *Inspector) UseExifTool(et *ExifTool) {
	in.exiftool = et
}

// Inspect returns information about the image at path.
func (in *Inspector) Inspect(path string) (*ImageInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	key := cacheKey(path, fileInfo)
	if cached, ok := in.cache.Load(key); ok {
		in.incrementCacheHits()
		info := *cached.(*ImageInfo)
		return &info, nil
	}
	in.incrementCacheMisses()

	info, err := in.readHeader(path)
	if err != nil {
		return nil, err
	}
	info.FileSize = fileInfo.Size()
	info.ModTime = fileInfo.ModTime()

	if exifData, err := ReadEXIF(path); err == nil {
		info.EXIF = exifData
	} else {
		in.logger.Debugf("No EXIF metadata in %s: %v", path, err)
	}

	if in.exiftool != nil {
		if md, err := in.exiftool.Metadata(path); err == nil {
			info.Metadata = md
		} else {
			in.logger.Warnf("exiftool failed for %s: %v", path, err)
		}
	}

	stored := *info
	in.cache.Store(key, &stored)
	return info, nil
}

// ClearCache removes all cached entries and resets statistics.
func (in *Inspector) ClearCache() {
	in.mutex.Lock()
	defer in.mutex.Unlock()
	in.cache.Clear()
	in.stats = CacheStats{}
}

// GetCacheStats returns cache statistics.
func (in *Inspector) GetCacheStats() CacheStats {
	in.mutex.RLock()
	defer in.mutex.RUnlock()

	stats := in.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (in *Inspector) readHeader(path string) (*ImageInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	cfg, name, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read image header of %s: %w", path, err)
	}

	format, err := compressor.ParseFormat(name)
	if err != nil {
		format = compressor.FormatFromPath(path)
	}

	model, bpp := describeColorModel(cfg.ColorModel)
	return &ImageInfo{
		Path:          path,
		Format:        format,
		Width:         cfg.Width,
		Height:        cfg.Height,
		ColorModel:    model,
		BytesPerPixel: bpp,
	}, nil
}

// describeColorModel names a color model and the bytes per pixel of its
// decoded representation.
func describeColorModel(m color.Model) (string, int) {
	if _, ok := m.(color.Palette); ok {
		return "Paletted", 1
	}
	switch m {
	case color.GrayModel:
		return "Gray8", 1
	case color.Gray16Model:
		return "Gray16", 2
	case color.YCbCrModel:
		return "YCbCr", 3
	case color.NYCbCrAModel:
		return "NYCbCrA", 4
	case color.CMYKModel:
		return "CMYK", 4
	case color.RGBAModel:
		return "RGBA8", 4
	case color.NRGBAModel:
		return "NRGBA8", 4
	case color.RGBA64Model:
		return "RGBA16", 8
	case color.NRGBA64Model:
		return "NRGBA16", 8
	case color.AlphaModel:
		return "Alpha8", 1
	case color.Alpha16Model:
		return "Alpha16", 2
	default:
		return "Unknown", 4
	}
}

func cacheKey(path string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", path, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func (in *Inspector) incrementCacheHits() {
	in.mutex.Lock()
	in.stats.Hits++
	in.stats.TotalQueries++
	in.mutex.Unlock()
}

func (in *Inspector) incrementCacheMisses() {
	in.mutex.Lock()
	in.stats.Misses++
	in.stats.TotalQueries++
	in.mutex.Unlock()
}
