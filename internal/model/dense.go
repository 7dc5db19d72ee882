package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// DenseConfig describes a one-hidden-layer MIMO perceptron.
type DenseConfig struct {
	InputDims []int
	Classes   int
	Hidden    int
	Ensemble  int
}

// Dense is a small MIMO MLP: the M flattened inputs are concatenated, passed
// through one ReLU hidden layer, and the head emits M*classes logits scaled
// by a learnable per-logit gate.
//
// The gate is RoleOther and therefore never weight-decayed.
type Dense[B tensor.Backend] struct {
	*Registry[B]
	cfg      DenseConfig
	hidden   *nn.Linear[B]
	head     *nn.Linear[B]
	gate     *nn.Parameter[B] // [1, M*classes]
	training bool
}

// NewDense builds a Dense model with weights drawn from rng.
func NewDense[B tensor.Backend](cfg DenseConfig, rng *rand.Rand, backend B) (*Dense[B], error) {
	if len(cfg.InputDims) == 0 || volume(cfg.InputDims) <= 0 {
		return nil, errors.Errorf("dense: bad input dims %v", cfg.InputDims)
	}
	if cfg.Hidden < 1 || cfg.Ensemble < 1 || cfg.Classes < 1 {
		return nil, errors.Errorf("dense: hidden %d, ensemble %d, classes %d", cfg.Hidden, cfg.Ensemble, cfg.Classes)
	}

	reg := NewRegistry[B]()
	in := cfg.Ensemble * volume(cfg.InputDims)
	out := cfg.Ensemble * cfg.Classes
	return &Dense[B]{
		Registry: reg,
		cfg:      cfg,
		hidden:   newLinear(reg, rng, "hidden", in, cfg.Hidden, backend),
		head:     newLinear(reg, rng, "head", cfg.Hidden, out, backend),
		gate:     reg.Add("head.gate", RoleOther, nn.Ones(tensor.Shape{1, out}, backend)),
	}, nil
}

// Forward maps [B, M, dims...] to [B, M, classes].
func (d *Dense[B]) Forward(input *fTensor[B]) *fTensor[B] {
	shape := input.Shape()
	size := volume(d.cfg.InputDims)
	if len(shape) < 2 || shape[1] != d.cfg.Ensemble || volume(shape[2:]) != size {
		panic(fmt.Sprintf("dense: expected [B,%d,%v], got %v", d.cfg.Ensemble, d.cfg.InputDims, shape))
	}
	batch := shape[0]

	x := input.Reshape(batch, d.cfg.Ensemble*size)
	x = nn.ReLUFunc(d.hidden.Forward(x))
	logits := d.head.Forward(x).Mul(d.gate.Tensor())
	return logits.Reshape(batch, d.cfg.Ensemble, d.cfg.Classes)
}

// SetTraining records the mode; Dense has no mode-dependent layers.
func (d *Dense[B]) SetTraining(training bool) { d.training = training }

// Training reports the current mode.
func (d *Dense[B]) Training() bool { return d.training }

// Ensemble returns M.
func (d *Dense[B]) Ensemble() int { return d.cfg.Ensemble }

// NumClasses returns the per-member class count.
func (d *Dense[B]) NumClasses() int { return d.cfg.Classes }

// InputDims returns the flattened-before-use example shape.
func (d *Dense[B]) InputDims() []int { return d.cfg.InputDims }

// Kind returns "dense".
func (d *Dense[B]) Kind() string { return "dense" }
