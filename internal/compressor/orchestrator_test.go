package compressor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIsolatesEmptyFile(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	inputs := []string{
		writeImage(t, in, "a.jpg", 100, 100),
		writeImage(t, in, "b.jpg", 100, 100),
		writeImage(t, in, "c.jpg", 100, 100),
		writeFile(t, in, "empty.jpg", nil),
	}

	o := newTestOrchestrator(t, Settings{})
	report, err := o.Run(context.Background(), inputs, CompressionOptions{Quality: 80, ThreadCount: 2}, out)
	require.NoError(t, err)

	s := report.Summary
	assert.EqualValues(t, 4, s.FilesTotal)
	assert.EqualValues(t, 3, s.FilesSucceeded)
	assert.EqualValues(t, 1, s.FilesFailed)
	assert.Equal(t, 2, report.Workers)
	assert.EqualValues(t, 4, o.Completed())

	var original, compressed int64
	for _, r := range report.Results {
		if r.Success {
			original += r.OriginalSize
			compressed += r.CompressedSize
			_, err := os.Stat(r.OutputPath)
			assert.NoError(t, err, r.OutputPath)
		}
	}
	assert.Equal(t, original, s.TotalOriginalSize)
	assert.Equal(t, compressed, s.TotalCompressedSize)
	assert.InDelta(t, 1-float64(compressed)/float64(original), s.CompressionRatio(), 1e-9)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, inputs[3], report.Failures[0].FilePath)
	assert.Contains(t, []string{string(KindUnsupportedInputFormat), string(KindEncodeFailure)}, report.Failures[0].Kind)
	assert.Equal(t, map[string]int64{"JPEG": 3}, report.Formats)
}

func TestRunResultsKeepInputOrder(t *testing.T) {
	in := t.TempDir()
	var inputs []string
	for i := 0; i < 6; i++ {
		inputs = append(inputs, writeImage(t, in, fmt.Sprintf("img%d.jpg", i), 20+i, 20))
	}
	report, err := newTestOrchestrator(t, Settings{}).Run(context.Background(), inputs, CompressionOptions{Quality: 60, ThreadCount: 3}, t.TempDir())
	require.NoError(t, err)
	for i, r := range report.Results {
		assert.Equal(t, inputs[i], r.InputPath)
		assert.Equal(t, 20+i, r.Width)
	}
}

func TestRunFormatOverrideAndInputRoot(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(in, "sub"), 0o755))
	inputs := []string{
		writeImage(t, in, "top.jpg", 32, 32),
		writeImage(t, filepath.Join(in, "sub"), "deep.jpg", 32, 32),
	}
	out := t.TempDir()

	report, err := newTestOrchestrator(t, Settings{}).Run(context.Background(), inputs,
		CompressionOptions{Quality: 85, OutputFormat: FormatPNG}, out, WithInputRoot(in))
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Summary.FilesSucceeded)
	assert.FileExists(t, filepath.Join(out, "top.png"))
	assert.FileExists(t, filepath.Join(out, "sub", "deep.png"))
}

func TestRunProgressObserver(t *testing.T) {
	in := t.TempDir()
	inputs := []string{
		writeImage(t, in, "a.jpg", 16, 16),
		writeImage(t, in, "b.jpg", 16, 16),
		writeFile(t, in, "c.jpg", []byte("junk")),
	}

	var mu sync.Mutex
	var seen []int64
	o := newTestOrchestrator(t, Settings{})
	_, err := o.Run(context.Background(), inputs, DefaultOptions(), t.TempDir(),
		WithProgress(func(p Progress, r CompressionResult) {
			mu.Lock()
			defer mu.Unlock()
			assert.EqualValues(t, 3, p.Total)
			seen = append(seen, p.Done)
		}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, seen)
}

func TestRunRejectsInvalidOptions(t *testing.T) {
	in := writeImage(t, t.TempDir(), "a.jpg", 8, 8)
	out := filepath.Join(t.TempDir(), "never")
	o := newTestOrchestrator(t, Settings{})

	for _, opts := range []CompressionOptions{
		{Quality: 0},
		{Quality: 101},
		{Quality: 80, MaxWidth: -5},
		{Quality: 80, ThreadCount: -1},
	} {
		report, err := o.Run(context.Background(), []string{in}, opts, out)
		require.Error(t, err, "%+v", opts)
		assert.Nil(t, report)
		assert.Equal(t, KindInvalidOption, KindOf(err))
		assert.True(t, KindOf(err).IsFatal())
	}
	assert.NoDirExists(t, out)

	_, err := o.Run(context.Background(), []string{in}, DefaultOptions(), "")
	assert.Equal(t, KindInvalidOption, KindOf(err))
}

func TestValidateReportsAllProblems(t *testing.T) {
	err := CompressionOptions{Quality: 0, MaxWidth: -1, MaxHeight: -1}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDimension)
	assert.Contains(t, err.Error(), "quality 0")
	assert.Contains(t, err.Error(), "max height")
	assert.NoError(t, DefaultOptions().Validate())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	in := t.TempDir()
	inputs := []string{writeImage(t, in, "a.jpg", 8, 8), writeImage(t, in, "b.jpg", 8, 8)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestOrchestrator(t, Settings{}).Run(ctx, inputs, DefaultOptions(), t.TempDir())
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Summary.FilesFailed)
	for _, r := range report.Results {
		assert.Equal(t, KindCancelled, r.ErrorKind)
		assert.True(t, errors.Is(r.Error, context.Canceled))
	}
}

func TestRunBatchLimits(t *testing.T) {
	in := t.TempDir()
	inputs := []string{writeImage(t, in, "a.jpg", 8, 8), writeImage(t, in, "b.jpg", 8, 8)}

	o := newTestOrchestrator(t, Settings{Limits: Limits{MaxBatchFiles: 1}})
	_, err := o.Run(context.Background(), inputs, DefaultOptions(), t.TempDir())
	assert.Equal(t, KindBatchLimitExceeded, KindOf(err))

	o = newTestOrchestrator(t, Settings{Limits: Limits{MaxBatchMemory: 1}})
	_, err = o.Run(context.Background(), inputs, DefaultOptions(), t.TempDir())
	assert.Equal(t, KindBatchLimitExceeded, KindOf(err))

	o = newTestOrchestrator(t, Settings{
		Limits:      Limits{MinAvailableMemory: 512 * mib},
		MemoryProbe: func() (uint64, error) { return 100 * mib, nil },
	})
	_, err = o.Run(context.Background(), inputs, DefaultOptions(), t.TempDir())
	assert.Equal(t, KindInsufficientMemory, KindOf(err))
}

func TestRunEmptyInput(t *testing.T) {
	report, err := newTestOrchestrator(t, Settings{}).Run(context.Background(), nil, DefaultOptions(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, report.Summary.FilesTotal)
	assert.Empty(t, report.Results)
}

func TestCompressFileSurfacesErrors(t *testing.T) {
	o := newTestOrchestrator(t, Settings{})
	dir := t.TempDir()

	_, err := o.CompressFile(context.Background(), filepath.Join(dir, "missing.jpg"), filepath.Join(dir, "out.jpg"), DefaultOptions())
	assert.Equal(t, KindInputNotFound, KindOf(err))

	_, err = o.CompressFile(context.Background(), filepath.Join(dir, "missing.jpg"), filepath.Join(dir, "out.jpg"), CompressionOptions{Quality: 500})
	assert.Equal(t, KindInvalidOption, KindOf(err))

	in := writeImage(t, dir, "ok.jpg", 50, 50)
	res, err := o.CompressFile(context.Background(), in, filepath.Join(dir, "ok.gif"), CompressionOptions{Quality: 10, MaxHeight: 25})
	require.NoError(t, err)
	assert.Equal(t, FormatGIF, res.Format)
	assert.Equal(t, 25, res.Height)
}

func TestRunRejectsConflictingOutputs(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(in, "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(in, "b"), 0o755))
	jpg := writeImage(t, in, "photo.jpg", 24, 24)
	png := filepath.Join(in, "photo.png")
	require.NoError(t, imaging.Save(testImage(24, 24), png))
	out := t.TempDir()

	report, err := newTestOrchestrator(t, Settings{}).Run(context.Background(), []string{jpg, png},
		CompressionOptions{Quality: 70, OutputFormat: FormatWebP}, out, WithInputRoot(in))
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Summary.FilesSucceeded)
	assert.EqualValues(t, 1, report.Summary.FilesFailed)
	assert.True(t, report.Results[0].Success)
	assert.Equal(t, report.Results[0].OriginalSize, report.Summary.TotalOriginalSize)

	dup := report.Results[1]
	assert.False(t, dup.Success)
	assert.Equal(t, KindOutputWriteFailure, dup.ErrorKind)
	assert.Contains(t, dup.Message, "conflicts with "+jpg)
	assert.FileExists(t, filepath.Join(out, "photo.webp"))

	// Same base name in different directories without an input root.
	inputs := []string{
		writeImage(t, filepath.Join(in, "a"), "x.jpg", 16, 16),
		writeImage(t, filepath.Join(in, "b"), "x.jpg", 16, 16),
	}
	report, err = newTestOrchestrator(t, Settings{}).Run(context.Background(), inputs, DefaultOptions(), t.TempDir())
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Summary.FilesSucceeded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, inputs[1], report.Failures[0].FilePath)
	assert.Equal(t, string(KindOutputWriteFailure), report.Failures[0].Kind)
}

func TestRunSurvivesPanickingObserver(t *testing.T) {
	in := t.TempDir()
	inputs := []string{writeImage(t, in, "a.jpg", 8, 8), writeImage(t, in, "b.jpg", 8, 8)}

	report, err := newTestOrchestrator(t, Settings{}).Run(context.Background(), inputs, DefaultOptions(), t.TempDir(),
		WithProgress(func(Progress, CompressionResult) { panic("observer failed") }))
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Summary.FilesSucceeded)
}

func TestRunConcurrentPNGLeavesNoScratch(t *testing.T) {
	in := t.TempDir()
	var inputs []string
	for i := 0; i < 12; i++ {
		inputs = append(inputs, writeImage(t, in, fmt.Sprintf("img%02d.jpg", i), 24+i, 24))
	}
	// Not decodable, so some tasks fail after workers start.
	inputs = append(inputs, writeFile(t, in, "broken.jpg", []byte("junk")))
	scratch := t.TempDir()

	report, err := newTestOrchestrator(t, Settings{ScratchDir: scratch}).Run(context.Background(), inputs,
		CompressionOptions{Quality: 95, OutputFormat: FormatPNG, ThreadCount: 4}, t.TempDir())
	require.NoError(t, err)
	assert.EqualValues(t, 12, report.Summary.FilesSucceeded)
	assert.EqualValues(t, 1, report.Summary.FilesFailed)
	assert.Empty(t, scratchEntries(t, scratch))
}
