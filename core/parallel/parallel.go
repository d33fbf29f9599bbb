// Package parallel provides helpers for splitting row-wise work across
// the available CPUs.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize splits [0, items) into contiguous ranges and runs fn on each
// range in its own goroutine. It blocks until every range has been handled.
// The remainder is spread over the first workers so range sizes differ by
// at most one.
func Parallelize(items int, fn func(start, end int)) {
	if items <= 0 {
		return
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > items {
		workers = items
	}

	base := items / workers
	extra := items % workers

	var wg sync.WaitGroup
	start := 0
	for w := 0; w < workers; w++ {
		size := base
		if w < extra {
			size++
		}
		end := start + size

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)

		start = end
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn sequentially over the whole range when
// items does not exceed threshold, and falls back to Parallelize otherwise.
// Small jobs stay on the calling goroutine to avoid scheduling overhead.
func ParallelizeWithThreshold(items, threshold int, fn func(start, end int)) {
	if items <= threshold {
		if items > 0 {
			fn(0, items)
		}
		return
	}
	Parallelize(items, fn)
}
