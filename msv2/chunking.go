package msv2

import (
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	minChunkTarget     int64 = 8 << 20
	maxChunkTarget     int64 = 256 << 20
	defaultChunkTarget int64 = 64 << 20

	// availableFraction is the share of available memory one chunk may use
	availableFraction = 64
)

// virtualMemory is swapped in tests
var virtualMemory = mem.VirtualMemory

// AutoChunkTarget derives a chunk byte size from the memory currently
// available, clamped to [8 MiB, 256 MiB]. It falls back to 64 MiB when
// memory cannot be inspected.
func AutoChunkTarget() int64 {
	vm, err := virtualMemory()
	if err != nil || vm == nil {
		return defaultChunkTarget
	}
	return chunkTargetFor(vm.Available)
}

func chunkTargetFor(available uint64) int64 {
	target := int64(available / availableFraction)
	if target < minChunkTarget {
		return minChunkTarget
	}
	if target > maxChunkTarget {
		return maxChunkTarget
	}
	return target
}

// OptimalChunking halves the largest chunk dimension until a chunk of
// itemSize byte items fits within target bytes, or every dimension is 1
func OptimalChunking(shape []int, itemSize int, target int64) []int {
	chunks := make([]int, len(shape))
	for i, s := range shape {
		chunks[i] = s
		if chunks[i] < 1 {
			chunks[i] = 1
		}
	}
	for len(chunks) > 0 && chunkBytes(chunks, itemSize) > target {
		largest := 0
		for i, c := range chunks {
			if c > chunks[largest] {
				largest = i
			}
		}
		if chunks[largest] <= 1 {
			break
		}
		chunks[largest] = (chunks[largest] + 1) / 2
	}
	return chunks
}

func chunkBytes(chunks []int, itemSize int) int64 {
	n := int64(itemSize)
	for _, c := range chunks {
		n *= int64(c)
	}
	return n
}
