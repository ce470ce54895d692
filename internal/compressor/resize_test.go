package compressor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		bounds       Bounds
		wantW, wantH int
	}{
		{"identity", 1920, 1080, Bounds{}, 1920, 1080},
		{"width only", 2000, 1500, Bounds{MaxWidth: 1000}, 1000, 750},
		{"height only", 2000, 1500, Bounds{MaxHeight: 300}, 400, 300},
		{"width only upscales", 100, 50, Bounds{MaxWidth: 200}, 200, 100},
		{"box limited by width", 1920, 1080, Bounds{MaxWidth: 800, MaxHeight: 800}, 800, 450},
		{"box limited by height", 1080, 1920, Bounds{MaxWidth: 800, MaxHeight: 800}, 450, 800},
		{"box exact", 800, 600, Bounds{MaxWidth: 800, MaxHeight: 600}, 800, 600},
		{"square", 100, 100, Bounds{MaxWidth: 50, MaxHeight: 80}, 50, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := TargetSize(tt.w, tt.h, tt.bounds)
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestTargetSizeInvalid(t *testing.T) {
	_, _, err := TargetSize(0, 10, Bounds{})
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, _, err = TargetSize(10, 10, Bounds{MaxWidth: -1})
	assert.ErrorIs(t, err, ErrInvalidDimension)

	_, _, err = TargetSize(10000, 10, Bounds{MaxWidth: 100})
	assert.ErrorIs(t, err, ErrInvalidDimension, "height rounds to zero")
}

func TestTargetSizeRespectsBoundsAndAspect(t *testing.T) {
	sizes := [][2]int{{1, 1}, {3, 7}, {640, 480}, {1920, 1080}, {1080, 1920}, {4000, 3000}, {333, 999}, {1201, 17}}
	bounds := []Bounds{
		{MaxWidth: 100}, {MaxHeight: 100}, {MaxWidth: 320, MaxHeight: 240},
		{MaxWidth: 50, MaxHeight: 500}, {MaxWidth: 1000, MaxHeight: 10}, {MaxWidth: 1, MaxHeight: 1},
	}
	for _, s := range sizes {
		for _, b := range bounds {
			w, h, err := TargetSize(s[0], s[1], b)
			if err != nil {
				assert.ErrorIs(t, err, ErrInvalidDimension)
				continue
			}
			if b.MaxWidth > 0 {
				assert.LessOrEqual(t, w, b.MaxWidth, "%v %v", s, b)
			}
			if b.MaxHeight > 0 {
				assert.LessOrEqual(t, h, b.MaxHeight, "%v %v", s, b)
			}
			want := float64(s[0]) / float64(s[1])
			got := float64(w) / float64(h)
			tolerance := (1 + got) / float64(h)
			assert.LessOrEqual(t, math.Abs(got-want), tolerance, "%v %v -> %dx%d", s, b, w, h)
		}
	}
}

func TestResizeImage(t *testing.T) {
	src := testImage(200, 100)

	same, err := Resize(src, Bounds{})
	require.NoError(t, err)
	assert.Same(t, src, same)

	out, err := Resize(src, Bounds{MaxWidth: 50, MaxHeight: 50})
	require.NoError(t, err)
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 25, out.Bounds().Dy())
}
