package inspect

import (
	"fmt"

	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/luojiyin1987/img-squeeze/internal/pngopt"
)

const (
	largeFileBytes  = 5 * 1024 * 1024
	mediumFileBytes = 1 * 1024 * 1024
)

// Suggestions returns compression advice for an image based on its file
// size, dimensions and format.
func Suggestions(info *ImageInfo) []string {
	var out []string

	switch {
	case info.FileSize > largeFileBytes:
		out = append(out, "Large file (>5MB): consider high compression (quality 60-80)")
	case info.FileSize > mediumFileBytes:
		out = append(out, "Medium file (1-5MB): consider medium compression (quality 70-85)")
	default:
		out = append(out, "Small file (<1MB): consider light compression (quality 85-95)")
	}

	switch {
	case info.Width > 1920 || info.Height > 1080:
		out = append(out, "Large dimensions: consider resizing to 1920x1080 or smaller")
	case info.Width > 1280 || info.Height > 720:
		out = append(out, "HD dimensions: consider resizing to 1280x720 for web use")
	}

	switch info.Format {
	case compressor.FormatPNG:
		out = append(out, fmt.Sprintf("PNG format: quality >= %d selects exhaustive lossless optimization", pngopt.HighQualityThreshold))
	case compressor.FormatJPEG:
		out = append(out, "JPEG format: adjust quality setting for size/quality balance")
	case compressor.FormatWebP:
		out = append(out, "WebP format: already well compressed, consider quality adjustment")
	default:
		out = append(out, "Other format: consider converting to JPEG/WebP for better compression")
	}

	return out
}
