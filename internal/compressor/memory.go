package compressor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

const mib = 1024 * 1024

// Limits bound the resources a batch may claim. A zero field disables the
// corresponding check.
type Limits struct {
	MaxFileSize              int64
	MaxBatchFiles            int
	MaxBatchMemory           uint64
	LargeImageThreshold      int64
	MaxConcurrentLargeImages int
	MinAvailableMemory       uint64
}

// DefaultLimits returns the limits used by the command line tool.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:              100 * mib,
		MaxBatchFiles:            10000,
		MaxBatchMemory:           8192 * mib,
		LargeImageThreshold:      50 * mib,
		MaxConcurrentLargeImages: 2,
		MinAvailableMemory:       512 * mib,
	}
}

// MemoryProbe reports the memory currently available to the process, in bytes.
type MemoryProbe func() (uint64, error)

// SystemMemory reads available memory from the operating system.
func SystemMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read virtual memory: %w", err)
	}
	return vm.Available, nil
}

// memoryFactor approximates decoded size relative to file size per extension.
func memoryFactor(path string) float64 {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return 4.0
	case ".png":
		return 3.0
	case ".webp":
		return 3.5
	case ".bmp", ".tif", ".tiff":
		return 1.2
	case ".gif":
		return 2.0
	default:
		return 3.0
	}
}

// EstimateMemory approximates the working memory needed to process a file.
func EstimateMemory(path string, size int64) uint64 {
	if size <= 0 {
		return 0
	}
	return uint64(float64(size) * memoryFactor(path))
}

type batchPlan struct {
	estimated  uint64
	largeFiles int
	workers    int
}

// planBatch checks the batch against the limits and sizes the worker pool.
// An explicit thread count is honoured as given; otherwise the pool is the
// hardware parallelism capped by memory headroom and large image count.
func planBatch(inputs []string, opts CompressionOptions, limits Limits, parallelism int, probe MemoryProbe) (batchPlan, error) {
	plan := batchPlan{}
	if limits.MaxBatchFiles > 0 && len(inputs) > limits.MaxBatchFiles {
		return plan, errorf(KindBatchLimitExceeded, "", "%d files exceed the batch limit of %d", len(inputs), limits.MaxBatchFiles)
	}

	for _, path := range inputs {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		plan.estimated += EstimateMemory(path, info.Size())
		if limits.LargeImageThreshold > 0 && info.Size() > limits.LargeImageThreshold {
			plan.largeFiles++
		}
	}
	if limits.MaxBatchMemory > 0 && plan.estimated > limits.MaxBatchMemory {
		return plan, errorf(KindBatchLimitExceeded, "", "estimated memory %d MiB exceeds the batch limit of %d MiB",
			plan.estimated/mib, limits.MaxBatchMemory/mib)
	}

	var available uint64
	haveAvailable := false
	if probe != nil {
		if v, err := probe(); err == nil {
			available, haveAvailable = v, true
		}
	}
	if haveAvailable && limits.MinAvailableMemory > 0 && available < limits.MinAvailableMemory {
		return plan, errorf(KindInsufficientMemory, "", "available memory %d MiB is below the required %d MiB",
			available/mib, limits.MinAvailableMemory/mib)
	}

	workers := opts.ThreadCount
	if workers == 0 {
		workers = max(parallelism, 1)
		if haveAvailable && plan.estimated > 0 && len(inputs) > 0 {
			perFile := max(plan.estimated/uint64(len(inputs)), 1)
			headroom := available - min(available, limits.MinAvailableMemory)
			workers = min(workers, max(int(headroom/perFile), 1))
		}
		if plan.largeFiles > 0 && limits.MaxConcurrentLargeImages > 0 {
			workers = min(workers, limits.MaxConcurrentLargeImages)
		}
	}
	plan.workers = max(min(workers, len(inputs)), 1)
	return plan, nil
}
