package compressor

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/luojiyin1987/img-squeeze/internal/pngopt"
)

// optimizeFile re-compresses a PNG scratch file in place.
var optimizeFile = pngopt.OptimizeFile

// Encoder turns pixel data into the bytes of a concrete format.
type Encoder struct {
	scratchDir string
}

// NewEncoder returns an Encoder that places PNG scratch files in scratchDir,
// or in the system temporary directory when scratchDir is empty.
func NewEncoder(scratchDir string) *Encoder {
	return &Encoder{scratchDir: scratchDir}
}

// Encode encodes img as format. Quality drives JPEG and WebP directly and
// selects the re-compression tier for PNG; BMP, TIFF and GIF ignore it.
// Only the first frame of animated sources reaches the encoder.
func (e *Encoder) Encode(img image.Image, format Format, quality int) ([]byte, error) {
	if err := checkLayout(img); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, newError(KindEncodeFailure, "", fmt.Errorf("jpeg: %w", err))
		}
	case FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, newError(KindEncodeFailure, "", fmt.Errorf("webp: %w", err))
		}
	case FormatPNG:
		return e.encodePNG(img, quality)
	case FormatBMP, FormatTIFF, FormatGIF:
		if err := imaging.Encode(&buf, img, format.imagingFormat()); err != nil {
			return nil, newError(KindEncodeFailure, "", fmt.Errorf("%s: %w", format, err))
		}
	default:
		return nil, errorf(KindUnsupportedFormat, "", "no encoder for format %s", format)
	}
	return buf.Bytes(), nil
}

// encodePNG writes a fast baseline into a scratch file, re-compresses it in
// place with the tier chosen by quality and returns the optimized bytes.
// The exhaustive tier can take far longer than the baseline encode.
func (e *Encoder) encodePNG(img image.Image, quality int) ([]byte, error) {
	var baseline bytes.Buffer
	if err := imaging.Encode(&baseline, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
		return nil, newError(KindEncodeFailure, "", fmt.Errorf("png baseline: %w", err))
	}

	scratch, err := newScratchFile(e.scratchDir)
	if err != nil {
		return nil, newError(KindTempFileFailure, "", fmt.Errorf("create scratch file: %w", err))
	}
	defer scratch.Close()

	if err := os.WriteFile(scratch.path, baseline.Bytes(), 0o600); err != nil {
		return nil, newError(KindTempFileFailure, scratch.path, fmt.Errorf("write baseline: %w", err))
	}

	tier := pngopt.TierForQuality(quality)
	if err := optimizeFile(scratch.path, tier); err != nil {
		return nil, newError(KindOptimizeFailure, "", fmt.Errorf("tier %s: %w", tier, err))
	}

	data, err := os.ReadFile(scratch.path)
	if err != nil {
		return nil, newError(KindTempFileFailure, scratch.path, fmt.Errorf("read optimized: %w", err))
	}
	return data, nil
}

// checkLayout rejects pixel buffers no encoder can map.
func checkLayout(img image.Image) error {
	if img == nil || img.ColorModel() == nil {
		return errorf(KindUnsupportedColorType, "", "image has no color model")
	}
	if img.Bounds().Empty() {
		return errorf(KindUnsupportedColorType, "", "image has empty bounds %v", img.Bounds())
	}
	return nil
}
