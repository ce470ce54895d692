package statistics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkAggregatesOnlySuccesses(t *testing.T) {
	sink := NewSink(4)
	sink.RecordSuccess("JPEG", 1000, 400)
	sink.RecordSuccess("JPEG", 2000, 1000)
	sink.RecordSuccess("PNG", 500, 100)
	sink.RecordFailure("/in/empty.jpg", "UnsupportedInputFormat", "unknown format")

	s := sink.Finalize()
	assert.EqualValues(t, 4, s.FilesTotal)
	assert.EqualValues(t, 3, s.FilesSucceeded)
	assert.EqualValues(t, 1, s.FilesFailed)
	assert.EqualValues(t, 3500, s.TotalOriginalSize)
	assert.EqualValues(t, 1500, s.TotalCompressedSize)
	assert.InDelta(t, 1-1500.0/3500.0, s.CompressionRatio(), 1e-9)
	assert.EqualValues(t, 2000, s.SavedBytes())

	failures := sink.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "UnsupportedInputFormat", failures[0].Kind)
	assert.Equal(t, map[string]int64{"JPEG": 2, "PNG": 1}, sink.FormatBreakdown())
}

func TestSinkConcurrentRecording(t *testing.T) {
	const n = 200
	sink := NewSink(n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%10 == 0 {
				sink.RecordFailure(fmt.Sprintf("f%03d", i), "EncodeFailure", "boom")
				return
			}
			sink.RecordSuccess("WebP", 10, 4)
		}(i)
	}
	wg.Wait()

	s := sink.Finalize()
	assert.EqualValues(t, 180, s.FilesSucceeded)
	assert.EqualValues(t, 20, s.FilesFailed)
	assert.EqualValues(t, 1800, s.TotalOriginalSize)
	assert.EqualValues(t, 720, s.TotalCompressedSize)

	failures := sink.Failures()
	require.Len(t, failures, 20)
	assert.Equal(t, "f000", failures[0].FilePath)
}

func TestSummaryDerivedFields(t *testing.T) {
	empty := BatchSummary{}
	assert.Zero(t, empty.CompressionRatio())
	assert.Zero(t, empty.Throughput())

	s := BatchSummary{FilesSucceeded: 10, TotalOriginalSize: 200, TotalCompressedSize: 50, Elapsed: 2 * time.Second}
	assert.InDelta(t, 0.75, s.CompressionRatio(), 1e-9)
	assert.InDelta(t, 5.0, s.Throughput(), 1e-9)
	assert.Contains(t, s.String(), "Succeeded: 10")
	assert.Contains(t, s.String(), "75.0%")
}

func TestFormatFailures(t *testing.T) {
	assert.Equal(t, "No errors occurred during processing", FormatFailures(nil, 10))

	failures := []Failure{
		{FilePath: "a.jpg", Kind: "EncodeFailure", Message: "x"},
		{FilePath: "b.jpg", Kind: "InputNotFound", Message: "y"},
		{FilePath: "c.jpg", Kind: "InputNotFound", Message: "z"},
	}
	out := FormatFailures(failures, 2)
	assert.Contains(t, out, "Errors (3 total)")
	assert.Contains(t, out, "[EncodeFailure] a.jpg: x")
	assert.Contains(t, out, "... and 1 more errors")
}

func TestFormatBreakdownString(t *testing.T) {
	assert.Equal(t, "No files written", FormatBreakdownString(nil))
	assert.Equal(t, "Format Breakdown:\n  JPEG: 2\n  PNG: 1\n",
		FormatBreakdownString(map[string]int64{"PNG": 1, "JPEG": 2}))
}
