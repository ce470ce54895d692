package compressor

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Bounds constrains output dimensions. A zero field leaves that axis free.
type Bounds struct {
	MaxWidth  int
	MaxHeight int
}

// IsZero reports whether no axis is constrained.
func (b Bounds) IsZero() bool {
	return b.MaxWidth == 0 && b.MaxHeight == 0
}

// TargetSize computes the output dimensions for an origW x origH image.
// With one bound the image is scaled so that axis equals the bound; with
// both it is scaled to fit within the box. Aspect ratio is preserved.
func TargetSize(origW, origH int, b Bounds) (int, int, error) {
	if origW <= 0 || origH <= 0 {
		return 0, 0, fmt.Errorf("original size %dx%d: %w", origW, origH, ErrInvalidDimension)
	}
	if b.MaxWidth < 0 || b.MaxHeight < 0 {
		return 0, 0, fmt.Errorf("bounds %dx%d: %w", b.MaxWidth, b.MaxHeight, ErrInvalidDimension)
	}

	w, h := origW, origH
	switch {
	case b.IsZero():
		return origW, origH, nil
	case b.MaxHeight == 0:
		w = b.MaxWidth
		h = scale(origH, float64(b.MaxWidth)/float64(origW))
	case b.MaxWidth == 0:
		h = b.MaxHeight
		w = scale(origW, float64(b.MaxHeight)/float64(origH))
	default:
		sx := float64(b.MaxWidth) / float64(origW)
		sy := float64(b.MaxHeight) / float64(origH)
		if sx <= sy {
			w = b.MaxWidth
			h = min(scale(origH, sx), b.MaxHeight)
		} else {
			h = b.MaxHeight
			w = min(scale(origW, sy), b.MaxWidth)
		}
	}

	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%dx%d scaled to %dx%d: %w", origW, origH, w, h, ErrInvalidDimension)
	}
	return w, h, nil
}

func scale(v int, factor float64) int {
	return int(math.Round(float64(v) * factor))
}

// Resize scales img to the bounds using Lanczos resampling. The image is
// returned unchanged when the target size equals the current size.
func Resize(img image.Image, b Bounds) (image.Image, error) {
	size := img.Bounds().Size()
	w, h, err := TargetSize(size.X, size.Y, b)
	if err != nil {
		return nil, err
	}
	if w == size.X && h == size.Y {
		return img, nil
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}
