package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// BatchSummary aggregates the outcome of every task in a batch.
type BatchSummary struct {
	FilesTotal          int64         `json:"files_total"`
	FilesSucceeded      int64         `json:"files_succeeded"`
	FilesFailed         int64         `json:"files_failed"`
	TotalOriginalSize   int64         `json:"total_original_size"`
	TotalCompressedSize int64         `json:"total_compressed_size"`
	StartTime           time.Time     `json:"start_time"`
	EndTime             time.Time     `json:"end_time"`
	Elapsed             time.Duration `json:"elapsed"`
}

// Failure records why a single file could not be compressed.
type Failure struct {
	FilePath  string    `json:"file_path"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CompressionRatio returns 1 - compressed/original over succeeded files, or 0
// when nothing was compressed.
func (s BatchSummary) CompressionRatio() float64 {
	if s.TotalOriginalSize <= 0 {
		return 0
	}
	return 1 - float64(s.TotalCompressedSize)/float64(s.TotalOriginalSize)
}

// Throughput returns succeeded files per second of wall clock time.
func (s BatchSummary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.FilesSucceeded) / s.Elapsed.Seconds()
}

// SavedBytes returns the number of bytes saved over succeeded files.
func (s BatchSummary) SavedBytes() int64 {
	return s.TotalOriginalSize - s.TotalCompressedSize
}

// String returns a formatted summary.
func (s BatchSummary) String() string {
	return fmt.Sprintf(`Batch Summary:

Files:
		Total: %d
		Succeeded: %d
		Failed: %d

Size:
		Original: %s
		Compressed: %s
		Saved: %s (%.1f%%)

Performance:
		Duration: %v
		Files/Second: %.2f`,
		s.FilesTotal,
		s.FilesSucceeded,
		s.FilesFailed,
		humanize.IBytes(uint64(max(s.TotalOriginalSize, 0))),
		humanize.IBytes(uint64(max(s.TotalCompressedSize, 0))),
		formatSigned(s.SavedBytes()),
		s.CompressionRatio()*100,
		s.Elapsed.Round(time.Millisecond),
		s.Throughput())
}

func formatSigned(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// Sink accumulates per-file outcomes into a BatchSummary. It is safe for
// concurrent use; aggregation is commutative so arrival order is irrelevant.
type Sink struct {
	filesTotal      int64
	succeeded       int64
	failed          int64
	originalBytes   int64
	compressedBytes int64

	startTime   time.Time
	failures    []Failure
	formatStats map[string]int64
	mutex       sync.RWMutex
}

// NewSink returns a Sink for a batch of total files, starting the clock now.
func NewSink(total int) *Sink {
	return &Sink{
		filesTotal:  int64(total),
		startTime:   time.Now(),
		failures:    make([]Failure, 0),
		formatStats: make(map[string]int64),
	}
}

// RecordSuccess adds a succeeded file to the totals.
func (s *Sink) RecordSuccess(format string, original, compressed int64) {
	atomic.AddInt64(&s.succeeded, 1)
	atomic.AddInt64(&s.originalBytes, original)
	atomic.AddInt64(&s.compressedBytes, compressed)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.formatStats[format]++
}

// RecordFailure counts a failed file and retains its reason.
func (s *Sink) RecordFailure(filePath, kind, message string) {
	atomic.AddInt64(&s.failed, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failures = append(s.failures, Failure{
		FilePath:  filePath,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Failures returns the recorded failures sorted by path.
func (s *Sink) Failures() []Failure {
	s.mutex.RLock()
	out := make([]Failure, len(s.failures))
	copy(out, s.failures)
	s.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out
}

// FormatBreakdown returns how many files were written per output format.
func (s *Sink) FormatBreakdown() map[string]int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make(map[string]int64, len(s.formatStats))
	for k, v := range s.formatStats {
		out[k] = v
	}
	return out
}

// Snapshot returns the summary accumulated so far with the elapsed time up to now.
func (s *Sink) Snapshot() BatchSummary {
	now := time.Now()
	return BatchSummary{
		FilesTotal:          s.filesTotal,
		FilesSucceeded:      atomic.LoadInt64(&s.succeeded),
		FilesFailed:         atomic.LoadInt64(&s.failed),
		TotalOriginalSize:   atomic.LoadInt64(&s.originalBytes),
		TotalCompressedSize: atomic.LoadInt64(&s.compressedBytes),
		StartTime:           s.startTime,
		EndTime:             now,
		Elapsed:             now.Sub(s.startTime),
	}
}

// Finalize returns the summary once all tasks have joined.
func (s *Sink) Finalize() BatchSummary {
	return s.Snapshot()
}

// FormatFailures returns a readable list of at most limit failures.
func FormatFailures(failures []Failure, limit int) string {
	if len(failures) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(failures))
	for i, f := range failures {
		if limit > 0 && i >= limit {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(failures)-limit)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s\n", f.Kind, f.FilePath, f.Message)
	}
	return b.String()
}

// FormatBreakdownString renders a format breakdown in a stable order.
func FormatBreakdownString(breakdown map[string]int64) string {
	if len(breakdown) == 0 {
		return "No files written"
	}
	keys := make([]string, 0, len(breakdown))
	for k := range breakdown {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Format Breakdown:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %d\n", k, breakdown[k])
	}
	return b.String()
}
