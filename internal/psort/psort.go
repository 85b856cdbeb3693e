// Package psort provides a fork-join parallel sort used by the bulk build.
// Chunks are sorted concurrently and merged pairwise; the result is
// identical to a sequential sort, only faster on large inputs.
package psort

import (
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// minParallelLen is the input size below which goroutine fan-out costs more
// than it saves.
const minParallelLen = 4096

// Slice sorts s by less. The sort is not stable.
func Slice[T any](s []T, less func(a, b T) bool) {
	workers := runtime.GOMAXPROCS(0)
	if len(s) < minParallelLen || workers < 2 {
		sort.Slice(s, func(i, j int) bool { return less(s[i], s[j]) })
		return
	}

	chunkLen := (len(s) + workers - 1) / workers
	var bounds []int
	for begin := 0; begin < len(s); begin += chunkLen {
		bounds = append(bounds, begin)
	}
	bounds = append(bounds, len(s))

	var g errgroup.Group
	for i := 0; i < len(bounds)-1; i++ {
		chunk := s[bounds[i]:bounds[i+1]]
		g.Go(func() error {
			sort.Slice(chunk, func(i, j int) bool { return less(chunk[i], chunk[j]) })
			return nil
		})
	}
	_ = g.Wait() // workers never fail

	buf := make([]T, len(s))
	for len(bounds) > 2 {
		merged := bounds[:1]
		for i := 0; i+2 < len(bounds); i += 2 {
			merge(s[bounds[i]:bounds[i+1]], s[bounds[i+1]:bounds[i+2]], buf[bounds[i]:bounds[i+2]], less)
			copy(s[bounds[i]:bounds[i+2]], buf[bounds[i]:bounds[i+2]])
			merged = append(merged, bounds[i+2])
		}
		if (len(bounds)-1)%2 == 1 {
			merged = append(merged, bounds[len(bounds)-1])
		}
		bounds = merged
	}
}

func merge[T any](a, b, out []T, less func(x, y T) bool) {
	i, j, k := 0, 0, 0
	for i < len(a) && j < len(b) {
		if less(b[j], a[i]) {
			out[k] = b[j]
			j++
		} else {
			out[k] = a[i]
			i++
		}
		k++
	}
	copy(out[k:], a[i:])
	copy(out[k+len(a)-i:], b[j:])
}
