package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunks_CoversRangeOnce(t *testing.T) {
	cfg := Config{Enabled: true, Workers: 4, MinChunk: 3}

	hits := make([]int32, 101)
	Chunks(len(hits), cfg, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})

	for i, h := range hits {
		assert.Equal(t, int32(1), h, "row %d", i)
	}
}

func TestChunks_SequentialSingleCall(t *testing.T) {
	calls := 0
	Chunks(50, Sequential(), func(lo, hi int) {
		calls++
		assert.Equal(t, 0, lo)
		assert.Equal(t, 50, hi)
	})
	assert.Equal(t, 1, calls)
}

func TestChunks_Empty(t *testing.T) {
	Chunks(0, DefaultConfig(), func(_, _ int) {
		t.Fatal("must not be called")
	})
}

func TestGrid(t *testing.T) {
	rows, cols := 37, 3
	seen := make([][]bool, rows)
	for r := range seen {
		seen[r] = make([]bool, cols)
	}

	Grid(rows, cols, Config{Enabled: true, Workers: 8, MinChunk: 1}, func(r, c int) {
		seen[r][c] = true
	})

	for r := range seen {
		for c := range seen[r] {
			assert.True(t, seen[r][c], "cell [%d][%d]", r, c)
		}
	}
}
