package compressor

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"os"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luojiyin1987/img-squeeze/internal/pngopt"
)

func TestEncodeAllFormatsDecode(t *testing.T) {
	enc := NewEncoder(t.TempDir())
	src := testImage(48, 32)
	for _, f := range SupportedFormats() {
		t.Run(f.String(), func(t *testing.T) {
			data, err := enc.Encode(src, f, 80)
			require.NoError(t, err)
			require.NotEmpty(t, data)

			img, err := imaging.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, src.Bounds().Size(), img.Bounds().Size())
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	enc := NewEncoder(t.TempDir())
	src := testImage(40, 40)
	for _, f := range SupportedFormats() {
		for _, q := range []int{1, 50, 69, 70, 89, 90, 100} {
			a, err := enc.Encode(src, f, q)
			require.NoError(t, err)
			b, err := enc.Encode(src, f, q)
			require.NoError(t, err)
			assert.Equal(t, a, b, "format %s quality %d", f, q)
		}
	}
}

func TestEncodePNGIsOptimizedAndCleansScratch(t *testing.T) {
	dir := t.TempDir()
	enc := NewEncoder(dir)
	src := testImage(64, 64)

	var baseline bytes.Buffer
	require.NoError(t, (&png.Encoder{CompressionLevel: png.BestSpeed}).Encode(&baseline, src))

	data, err := enc.Encode(src, FormatPNG, 80)
	require.NoError(t, err)
	assert.Less(t, len(data), baseline.Len())
	assert.Empty(t, scratchEntries(t, dir))
}

func TestEncodePNGScratchFailure(t *testing.T) {
	enc := NewEncoder("/nonexistent/scratch/dir")
	_, err := enc.Encode(testImage(8, 8), FormatPNG, 80)
	require.Error(t, err)
	assert.Equal(t, KindTempFileFailure, KindOf(err))
}

func TestEncodePNGOptimizeFailureRemovesScratch(t *testing.T) {
	dir := t.TempDir()
	saved := optimizeFile
	t.Cleanup(func() { optimizeFile = saved })

	var seen string
	optimizeFile = func(path string, _ pngopt.Tier) error {
		seen = path
		return errors.New("optimizer exploded")
	}

	_, err := NewEncoder(dir).Encode(testImage(16, 16), FormatPNG, 95)
	require.Error(t, err)
	assert.Equal(t, KindOptimizeFailure, KindOf(err))
	assert.NotEmpty(t, seen)
	assert.NoFileExists(t, seen)
	assert.Empty(t, scratchEntries(t, dir))
}

func TestEncodePNGUnreadableScratchRemoved(t *testing.T) {
	dir := t.TempDir()
	saved := optimizeFile
	t.Cleanup(func() { optimizeFile = saved })

	// Replacing the file with a directory makes the read back fail.
	optimizeFile = func(path string, _ pngopt.Tier) error {
		if err := os.Remove(path); err != nil {
			return err
		}
		return os.Mkdir(path, 0o755)
	}

	_, err := NewEncoder(dir).Encode(testImage(16, 16), FormatPNG, 80)
	require.Error(t, err)
	assert.Equal(t, KindTempFileFailure, KindOf(err))
	assert.Empty(t, scratchEntries(t, dir))
}

func TestEncodeQualityAffectsJPEG(t *testing.T) {
	enc := NewEncoder(t.TempDir())
	src := testImage(96, 96)
	low, err := enc.Encode(src, FormatJPEG, 10)
	require.NoError(t, err)
	high, err := enc.Encode(src, FormatJPEG, 95)
	require.NoError(t, err)
	assert.Less(t, len(low), len(high))
}

func TestEncodeRejectsEmptyImage(t *testing.T) {
	enc := NewEncoder(t.TempDir())
	_, err := enc.Encode(image.NewNRGBA(image.Rect(0, 0, 0, 0)), FormatJPEG, 80)
	assert.Equal(t, KindUnsupportedColorType, KindOf(err))

	_, err = enc.Encode(nil, FormatJPEG, 80)
	assert.Equal(t, KindUnsupportedColorType, KindOf(err))
}

func TestEncodeUnknownFormat(t *testing.T) {
	enc := NewEncoder(t.TempDir())
	_, err := enc.Encode(testImage(4, 4), FormatUnknown, 80)
	assert.Equal(t, KindUnsupportedFormat, KindOf(err))
}

func TestCleanupScratch(t *testing.T) {
	dir := t.TempDir()
	s, err := newScratchFile(dir)
	require.NoError(t, err)
	assert.Len(t, scratchEntries(t, dir), 1)

	assert.GreaterOrEqual(t, CleanupScratch(), 1)
	assert.Empty(t, scratchEntries(t, dir))
	_, err = os.Stat(s.path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Close())
}
