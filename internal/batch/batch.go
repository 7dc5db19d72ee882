// Package batch builds the multi-view inputs consumed by a MIMO ensemble.
//
// A training batch of B examples is turned into M shuffled views of the same
// examples (ViewIndices), which Compose gathers into a [B, M, ...] block so
// that every subnetwork sees its own pairing of slot and example. At
// evaluation time ComposeEval replicates each example M times instead.
package batch

import (
	"github.com/pkg/errors"
)

var (
	// ErrMalformedBatch reports inconsistent image, label or view sizes.
	ErrMalformedBatch = errors.New("malformed batch")

	// ErrInvalidArgument reports an unusable size or probability.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Batch is one mini-batch as produced by a dataset stream.
//
// Images is row-major with one block of prod(Dims) values per example.
type Batch struct {
	Images []float32
	Labels []int32
	Dims   []int
}

// Len returns the number of examples.
func (b Batch) Len() int {
	return len(b.Labels)
}

// ExampleSize returns the number of values per example.
func (b Batch) ExampleSize() int {
	return volume(b.Dims)
}

// Validate checks that images and labels are index-aligned.
func (b Batch) Validate() error {
	if len(b.Dims) == 0 {
		return errors.Wrap(ErrMalformedBatch, "missing example dims")
	}
	size := b.ExampleSize()
	if size <= 0 {
		return errors.Wrapf(ErrMalformedBatch, "non-positive example dims %v", b.Dims)
	}
	if len(b.Images) != len(b.Labels)*size {
		return errors.Wrapf(ErrMalformedBatch, "%d image values for %d labels of size %d",
			len(b.Images), len(b.Labels), size)
	}
	return nil
}

// Example returns the values of example i. The slice aliases b.Images.
func (b Batch) Example(i int) []float32 {
	size := b.ExampleSize()
	return b.Images[i*size : (i+1)*size]
}

// Composed is a batch laid out for an ensemble of width Ensemble.
//
// Images has shape [Rows, Ensemble, Dims...], Labels [Rows, Ensemble] and
// OneHot [Rows, Ensemble, Classes].
type Composed struct {
	Images   []float32
	Labels   []int32
	OneHot   []float32
	Dims     []int
	Rows     int
	Ensemble int
	Classes  int
}

// Shape returns the image block shape [Rows, Ensemble, Dims...].
func (c *Composed) Shape() []int {
	return append([]int{c.Rows, c.Ensemble}, c.Dims...)
}

// Image returns the values at row i, view m. The slice aliases c.Images.
func (c *Composed) Image(i, m int) []float32 {
	size := volume(c.Dims)
	off := (i*c.Ensemble + m) * size
	return c.Images[off : off+size]
}

// Label returns the class index at row i, view m.
func (c *Composed) Label(i, m int) int32 {
	return c.Labels[i*c.Ensemble+m]
}

func volume(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
