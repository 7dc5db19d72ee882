// Package loss computes the MIMO training objective.
//
// The objective is the negative log-likelihood summed over the M members
// and averaged over the batch, plus an L2 penalty on every parameter whose
// role is decayed (kernels, biases, normalization terms):
//
//	total = mean_b sum_m CE(logits[b,m], y[b,m]) + l2 * sum w²
//
// The penalty is written as 2*l2 times the half-sum-of-squares, so its
// gradient is 2*l2*w.
package loss

import (
	"math"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/model"
)

// ErrShape is returned when logits and labels do not describe the same [rows, M] grid.
var ErrShape = errors.New("loss: logits/labels shape mismatch")

// Parameterized exposes parameters together with their roles.
type Parameterized[B tensor.Backend] interface {
	Parameters() []*nn.Parameter[B]
	Role(p *nn.Parameter[B]) model.Role
	ParameterName(p *nn.Parameter[B]) string
}

// Objective evaluates NLL and the role-filtered L2 term.
type Objective[B tensor.Backend] struct {
	L2      float64
	ce      *nn.CrossEntropyLoss[B]
	backend B
}

// New returns an objective with coefficient l2.
func New[B tensor.Backend](l2 float64, backend B) *Objective[B] {
	return &Objective[B]{
		L2:      l2,
		ce:      nn.NewCrossEntropyLoss(backend),
		backend: backend,
	}
}

// NLL scores [rows, M, C] logits against [rows*M] labels.
//
// It returns the engine's mean cross-entropy over all rows*M cells (the
// last operation recorded on the tape, when recording) and the NLL, which
// is that mean times M. Backpropagating with a seed of M therefore yields
// the NLL gradient.
func (o *Objective[B]) NLL(logits *tensor.Tensor[float32, B], labels []int32) (*tensor.Tensor[float32, B], float64, error) {
	shape := logits.Shape()
	if len(shape) != 3 {
		return nil, 0, errors.Wrapf(ErrShape, "logits must be [rows, M, C], got %v", shape)
	}
	rows, m, classes := shape[0], shape[1], shape[2]
	if len(labels) != rows*m {
		return nil, 0, errors.Wrapf(ErrShape, "%d labels for logits %v", len(labels), shape)
	}
	for i, l := range labels {
		if l < 0 || int(l) >= classes {
			return nil, 0, errors.Wrapf(ErrShape, "label %d at %d outside [0,%d)", l, i, classes)
		}
	}

	targets, err := tensor.FromSlice(labels, tensor.Shape{rows * m}, o.backend)
	if err != nil {
		return nil, 0, errors.Wrap(err, "targets")
	}
	mean := o.ce.Forward(logits.Reshape(rows*m, classes), targets)
	return mean, float64(mean.Raw().AsFloat32()[0]) * float64(m), nil
}

// Seed returns the backward seed matching NLL's scaling for an ensemble of width m.
func (o *Objective[B]) Seed(m int) (*tensor.RawTensor, error) {
	seed, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, o.backend.Device())
	if err != nil {
		return nil, errors.Wrap(err, "seed")
	}
	seed.AsFloat32()[0] = float32(m)
	return seed, nil
}

// Penalty returns l2 * sum of squares over the decayed parameters of p.
func (o *Objective[B]) Penalty(p Parameterized[B]) float64 {
	if o.L2 == 0 {
		return 0
	}
	var ss float64
	for _, param := range p.Parameters() {
		if !p.Role(param).Decayed() {
			continue
		}
		for _, w := range param.Tensor().Raw().AsFloat32() {
			ss += float64(w) * float64(w)
		}
	}
	return o.L2 * ss
}

// AddPenaltyGrad adds 2*l2*w to the gradient of every decayed parameter.
//
// Gradients are replaced, not mutated, so tensors shared with the tape are
// left intact. Parameters of other roles are not touched.
func (o *Objective[B]) AddPenaltyGrad(p Parameterized[B], grads map[*tensor.RawTensor]*tensor.RawTensor) error {
	if o.L2 == 0 {
		return nil
	}
	scale := float32(2 * o.L2)
	for _, param := range p.Parameters() {
		if !p.Role(param).Decayed() {
			continue
		}
		raw := param.Tensor().Raw()
		out, err := tensor.NewRaw(raw.Shape(), tensor.Float32, raw.Device())
		if err != nil {
			return errors.Wrapf(err, "penalty grad for %s", p.ParameterName(param))
		}
		dst, w := out.AsFloat32(), raw.AsFloat32()
		if g, ok := grads[raw]; ok && g != nil {
			copy(dst, g.AsFloat32())
		}
		for i := range dst {
			dst[i] += scale * w[i]
		}
		grads[raw] = out
	}
	return nil
}

// Total combines an NLL value with the current penalty.
func (o *Objective[B]) Total(nll float64, p Parameterized[B]) (penalty, total float64) {
	penalty = o.Penalty(p)
	return penalty, nll + penalty
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
