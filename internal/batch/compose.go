package batch

import (
	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/parallel"
)

// Composer gathers batches into the [rows, M, ...] layout.
type Composer struct {
	Classes  int
	Parallel parallel.Config
}

// NewComposer returns a Composer for a classes-way problem using all CPUs for the gather.
func NewComposer(classes int) Composer {
	return Composer{Classes: classes, Parallel: parallel.DefaultConfig()}
}

// Compose stacks one gathered copy of b per view along axis 1.
//
// Row i of view m holds example views[m][i], for images and labels alike.
func (c Composer) Compose(b Batch, views Views) (*Composed, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, errors.Wrap(ErrMalformedBatch, "no views")
	}
	rows := views.Rows()
	for m, v := range views {
		if len(v) != rows {
			return nil, errors.Wrapf(ErrMalformedBatch, "view %d has %d rows, view 0 has %d", m, len(v), rows)
		}
		for _, idx := range v {
			if idx < 0 || idx >= b.Len() {
				return nil, errors.Wrapf(ErrMalformedBatch, "view %d index %d outside batch of %d", m, idx, b.Len())
			}
		}
	}
	if err := c.checkLabels(b.Labels); err != nil {
		return nil, err
	}

	out := c.alloc(b.Dims, rows, len(views))
	parallel.Grid(rows, len(views), c.Parallel, func(i, m int) {
		c.place(out, b, i, m, views[m][i])
	})
	return out, nil
}

// ComposeEval replicates every example of b m times, without shuffling.
func (c Composer) ComposeEval(b Batch, m int) (*Composed, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if m < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "ensemble %d", m)
	}
	if err := c.checkLabels(b.Labels); err != nil {
		return nil, err
	}

	out := c.alloc(b.Dims, b.Len(), m)
	parallel.Grid(b.Len(), m, c.Parallel, func(i, j int) {
		c.place(out, b, i, j, i)
	})
	return out, nil
}

func (c Composer) checkLabels(labels []int32) error {
	for i, l := range labels {
		if l < 0 || int(l) >= c.Classes {
			return errors.Wrapf(ErrMalformedBatch, "label %d at row %d outside [0,%d)", l, i, c.Classes)
		}
	}
	return nil
}

func (c Composer) alloc(dims []int, rows, m int) *Composed {
	size := volume(dims)
	return &Composed{
		Images:   make([]float32, rows*m*size),
		Labels:   make([]int32, rows*m),
		OneHot:   make([]float32, rows*m*c.Classes),
		Dims:     append([]int(nil), dims...),
		Rows:     rows,
		Ensemble: m,
		Classes:  c.Classes,
	}
}

// place writes example src of b into row i, view m of out.
func (c Composer) place(out *Composed, b Batch, i, m, src int) {
	cell := i*out.Ensemble + m
	copy(out.Image(i, m), b.Example(src))
	label := b.Labels[src]
	out.Labels[cell] = label
	out.OneHot[cell*c.Classes+int(label)] = 1
}
