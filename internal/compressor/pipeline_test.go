package compressor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luojiyin1987/img-squeeze/internal/logger"
)

func TestPipelineExecuteWritesOutput(t *testing.T) {
	in := writeImage(t, t.TempDir(), "photo.jpg", 120, 80)
	out := filepath.Join(t.TempDir(), "nested", "dir", "photo.webp")
	p := NewPipeline(logger.Discard(), t.TempDir(), 0)

	res, err := p.Execute(ImageTask{
		InputPath:  in,
		OutputPath: out,
		Options:    CompressionOptions{Quality: 75, MaxWidth: 60},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, FormatWebP, res.Format)
	assert.Equal(t, 60, res.Width)
	assert.Equal(t, 40, res.Height)
	assert.Positive(t, res.OriginalSize)
	assert.Positive(t, res.Elapsed)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, res.CompressedSize, info.Size())

	img, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 60, img.Bounds().Dx())

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(out), ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPipelineErrorKinds(t *testing.T) {
	dir := t.TempDir()
	valid := writeImage(t, dir, "ok.jpg", 20, 20)
	empty := writeFile(t, dir, "empty.jpg", nil)
	text := writeFile(t, dir, "notes.png", []byte("definitely not an image"))
	p := NewPipeline(logger.Discard(), t.TempDir(), 0)
	opts := DefaultOptions()

	tests := []struct {
		name string
		task ImageTask
		want ErrorKind
	}{
		{"missing", ImageTask{InputPath: filepath.Join(dir, "nope.jpg"), OutputPath: filepath.Join(dir, "o.jpg"), Options: opts}, KindInputNotFound},
		{"directory", ImageTask{InputPath: dir, OutputPath: filepath.Join(dir, "o.jpg"), Options: opts}, KindUnsupportedInputFormat},
		{"empty", ImageTask{InputPath: empty, OutputPath: filepath.Join(dir, "o.jpg"), Options: opts}, KindUnsupportedInputFormat},
		{"not an image", ImageTask{InputPath: text, OutputPath: filepath.Join(dir, "o.png"), Options: opts}, KindUnsupportedInputFormat},
		{"unknown extension", ImageTask{InputPath: valid, OutputPath: filepath.Join(dir, "o.heic"), Options: opts}, KindUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Execute(tt.task)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.ErrorKind)
			assert.NotEmpty(t, res.Message)
		})
	}
}

func TestPipelineResizeFailure(t *testing.T) {
	dir := t.TempDir()
	wide := filepath.Join(dir, "wide.png")
	require.NoError(t, imaging.Save(testImage(400, 2), wide))
	p := NewPipeline(logger.Discard(), t.TempDir(), 0)

	_, err := p.Execute(ImageTask{InputPath: wide, OutputPath: filepath.Join(dir, "o.png"), Options: CompressionOptions{Quality: 80, MaxWidth: 10}})
	require.Error(t, err)
	assert.Equal(t, KindResizeFailure, KindOf(err))
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestPipelineInputTooLarge(t *testing.T) {
	in := writeImage(t, t.TempDir(), "big.jpg", 64, 64)
	p := NewPipeline(logger.Discard(), t.TempDir(), 16)
	_, err := p.Execute(ImageTask{InputPath: in, OutputPath: filepath.Join(t.TempDir(), "o.jpg"), Options: DefaultOptions()})
	assert.Equal(t, KindInputTooLarge, KindOf(err))
}

func TestPipelineOutputWriteFailure(t *testing.T) {
	dir := t.TempDir()
	in := writeImage(t, dir, "a.jpg", 10, 10)
	blocker := writeFile(t, dir, "blocker", []byte("file"))
	p := NewPipeline(logger.Discard(), t.TempDir(), 0)

	_, err := p.Execute(ImageTask{InputPath: in, OutputPath: filepath.Join(blocker, "a.jpg"), Options: DefaultOptions()})
	assert.Equal(t, KindOutputWriteFailure, KindOf(err))
}

func TestPipelineEncodeReturnsLogicalName(t *testing.T) {
	in := writeImage(t, t.TempDir(), "cat.jpg", 30, 30)
	p := NewPipeline(logger.Discard(), t.TempDir(), 0)
	enc, err := p.Encode(ImageTask{InputPath: in, OutputPath: "/virtual/cat.png", Options: DefaultOptions()})
	require.NoError(t, err)
	assert.Equal(t, "cat.png", enc.Name)
	assert.Equal(t, FormatPNG, enc.Format)
	assert.NotEmpty(t, enc.Data)
}

func TestRecompressingPNGIsIdempotentInSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	require.NoError(t, imaging.Save(testImage(80, 60), src))
	p := NewPipeline(logger.Discard(), t.TempDir(), 0)

	for _, q := range []int{60, 80, 95} {
		first := filepath.Join(dir, "first.png")
		second := filepath.Join(dir, "second.png")
		_, err := p.Execute(ImageTask{InputPath: src, OutputPath: first, Options: CompressionOptions{Quality: q}})
		require.NoError(t, err)
		_, err = p.Execute(ImageTask{InputPath: first, OutputPath: second, Options: CompressionOptions{Quality: q}})
		require.NoError(t, err)

		a, err := os.Stat(first)
		require.NoError(t, err)
		b, err := os.Stat(second)
		require.NoError(t, err)
		assert.LessOrEqual(t, float64(b.Size()), float64(a.Size())*1.01, "quality %d", q)
	}
}
