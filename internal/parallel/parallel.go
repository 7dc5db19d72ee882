// Package parallel splits row-wise work over goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how work is split.
type Config struct {
	Enabled  bool // Whether to fan out at all.
	Workers  int  // Upper bound on goroutines.
	MinChunk int  // Minimum rows per goroutine.
}

// DefaultConfig returns a configuration sized to the host.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:  n > 1,
		Workers:  n,
		MinChunk: 16,
	}
}

// Sequential returns a configuration that runs everything on the caller's goroutine.
func Sequential() Config {
	return Config{Workers: 1, MinChunk: 1}
}

// Chunks calls f(lo, hi) over disjoint half-open ranges covering [0, n).
// It returns once every call has finished. f must only touch rows in its range.
func Chunks(n int, cfg Config, f func(lo, hi int)) {
	if n <= 0 {
		return
	}
	workers := max(cfg.Workers, 1)
	chunk := max((n+workers-1)/workers, cfg.MinChunk, 1)
	if !cfg.Enabled || chunk >= n {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(lo, hi)
		}()
	}
	wg.Wait()
}

// Grid calls f(row, col) for every cell of a rows x cols grid, splitting by row.
func Grid(rows, cols int, cfg Config, f func(row, col int)) {
	Chunks(rows, cfg, func(lo, hi int) {
		for r := lo; r < hi; r++ {
			for c := 0; c < cols; c++ {
				f(r, c)
			}
		}
	})
}
