package batch_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mimo/internal/batch"
	"github.com/born-ml/mimo/internal/parallel"
)

// sampleBatch returns n examples of shape [2,2,2] whose values encode the example index.
func sampleBatch(n, classes int) batch.Batch {
	dims := []int{2, 2, 2}
	size := 8
	b := batch.Batch{
		Images: make([]float32, n*size),
		Labels: make([]int32, n),
		Dims:   dims,
	}
	for i := range n {
		for k := range size {
			b.Images[i*size+k] = float32(i*100 + k)
		}
		b.Labels[i] = int32(i % classes)
	}
	return b
}

func TestCompose_GatherCorrectness(t *testing.T) {
	const n, m, classes = 6, 3, 4
	src := sampleBatch(n, classes)
	views, err := batch.ViewIndices(newRNG(5), n, m, 1, 0)
	require.NoError(t, err)

	for _, cfg := range []parallel.Config{parallel.Sequential(), {Enabled: true, Workers: 3, MinChunk: 1}} {
		c := batch.Composer{Classes: classes, Parallel: cfg}
		out, err := c.Compose(src, views)
		require.NoError(t, err)

		assert.Equal(t, []int{n, m, 2, 2, 2}, out.Shape())
		for i := range n {
			for j := range m {
				idx := views[j][i]
				assert.Equal(t, src.Example(idx), out.Image(i, j), "row %d view %d", i, j)
				assert.Equal(t, src.Labels[idx], out.Label(i, j))

				hot := out.OneHot[(i*m+j)*classes : (i*m+j+1)*classes]
				for k, v := range hot {
					if k == int(src.Labels[idx]) {
						assert.Equal(t, float32(1), v)
					} else {
						assert.Equal(t, float32(0), v)
					}
				}
			}
		}
	}
}

func TestCompose_RepeatedRows(t *testing.T) {
	const n, m, r = 4, 2, 3
	src := sampleBatch(n, 2)
	views, err := batch.ViewIndices(newRNG(6), n, m, r, 0)
	require.NoError(t, err)

	out, err := batch.NewComposer(2).Compose(src, views)
	require.NoError(t, err)

	assert.Equal(t, n*r, out.Rows)
	assert.Len(t, out.Labels, n*r*m)
}

func TestComposeEval_Replicates(t *testing.T) {
	const n, m = 5, 4
	src := sampleBatch(n, 3)

	out, err := batch.NewComposer(3).ComposeEval(src, m)
	require.NoError(t, err)

	assert.Equal(t, []int{n, m, 2, 2, 2}, out.Shape())
	for i := range n {
		for j := range m {
			assert.Equal(t, src.Example(i), out.Image(i, j))
			assert.Equal(t, src.Labels[i], out.Label(i, j))
		}
	}
}

func TestCompose_Malformed(t *testing.T) {
	c := batch.NewComposer(2)
	good := sampleBatch(4, 2)
	views, err := batch.ViewIndices(newRNG(7), 4, 2, 1, 0)
	require.NoError(t, err)

	t.Run("label count", func(t *testing.T) {
		bad := good
		bad.Labels = bad.Labels[:3]
		_, err := c.Compose(bad, views)
		assert.True(t, errors.Is(err, batch.ErrMalformedBatch))
	})

	t.Run("ragged views", func(t *testing.T) {
		ragged := batch.Views{views[0], views[1][:3]}
		_, err := c.Compose(good, ragged)
		assert.True(t, errors.Is(err, batch.ErrMalformedBatch))
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := c.Compose(good, batch.Views{{0, 1, 2, 9}})
		assert.True(t, errors.Is(err, batch.ErrMalformedBatch))
	})

	t.Run("label out of range", func(t *testing.T) {
		bad := sampleBatch(4, 2)
		bad.Labels[1] = 5
		_, err := c.ComposeEval(bad, 2)
		assert.True(t, errors.Is(err, batch.ErrMalformedBatch))
	})

	t.Run("no views", func(t *testing.T) {
		_, err := c.Compose(good, nil)
		assert.True(t, errors.Is(err, batch.ErrMalformedBatch))
	})
}
