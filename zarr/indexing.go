package zarr

import (
	"strconv"
	"strings"
)

// A run of contiguous items shared by a chunk and the output array
type run struct {
	// offset of the first item in the flattened chunk
	ChunkOffset int
	// offset of the first item in the flattened output array
	OutOffset int
	Length    int
}

// A mapping of items from chunk to output array. Can be used to extract items
// from the chunk array for loading into an output array. Can also be used to
// extract items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Selection of items, as runs along the last dimension
	Runs []run
}

// chunkGrid lists the coordinates of every chunk in C order
func chunkGrid(meta *ArrayMeta) [][]int {
	n := meta.NumChunks()
	total := 1
	for _, c := range n {
		total *= c
	}
	grid := make([][]int, 0, total)
	if total == 0 {
		return grid
	}
	coords := make([]int, len(n))
	for {
		grid = append(grid, append([]int(nil), coords...))
		i := len(n) - 1
		for ; i >= 0; i-- {
			coords[i]++
			if coords[i] < n[i] {
				break
			}
			coords[i] = 0
		}
		if i < 0 {
			return grid
		}
	}
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// projectChunk computes the runs copying chunk coords into an array of shape.
// Edge chunks only contribute the items inside the array bounds.
func projectChunk(shape, chunks, coords []int) chunkProjection {
	p := chunkProjection{ChunkCoords: coords}
	if len(shape) == 0 {
		p.Runs = []run{{Length: 1}}
		return p
	}

	outStrides := strides(shape)
	chunkStrides := strides(chunks)
	extent := make([]int, len(shape))
	start := make([]int, len(shape))
	for d := range shape {
		start[d] = coords[d] * chunks[d]
		extent[d] = chunks[d]
		if rem := shape[d] - start[d]; rem < extent[d] {
			extent[d] = rem
		}
		if extent[d] <= 0 {
			return p
		}
	}

	var walk func(d, chunkOff, outOff int)
	walk = func(d, chunkOff, outOff int) {
		if d == len(shape)-1 {
			p.Runs = append(p.Runs, run{
				ChunkOffset: chunkOff,
				OutOffset:   outOff + start[d],
				Length:      extent[d],
			})
			return
		}
		for i := 0; i < extent[d]; i++ {
			walk(d+1, chunkOff+i*chunkStrides[d], outOff+(start[d]+i)*outStrides[d])
		}
	}
	walk(0, 0, 0)
	return p
}

// chunkKey renders chunk coordinates as a store key element
func chunkKey(coords []int, sep string) string {
	if len(coords) == 0 {
		return "0"
	}
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, sep)
}
