// Package model builds MIMO ensembles on the Born engine.
//
// A MIMO model takes a [B, M, dims...] block, one input per ensemble member,
// and returns logits of shape [B, M, classes]. All members share one network
// body; only the input stem and the output head are member-aware.
//
// Every parameter is tagged with a Role when it is created. The loss uses
// the role to decide which parameters are weight-decayed.
package model

import (
	"math/rand/v2"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/config"
)

// Model is a trainable MIMO ensemble.
type Model[B tensor.Backend] interface {
	nn.Module[B]

	// SetTraining switches dropout and batch statistics on or off.
	SetTraining(training bool)

	// Training reports the current mode.
	Training() bool

	// Ensemble returns M.
	Ensemble() int

	// NumClasses returns the number of classes per member.
	NumClasses() int

	// Role returns the role p was created with.
	Role(p *nn.Parameter[B]) Role

	// ParameterName returns the state-dict name of p.
	ParameterName(p *nn.Parameter[B]) string

	// NumParameters returns the total number of trainable values.
	NumParameters() int

	// InputDims returns the per-member example shape.
	InputDims() []int

	// Kind names the architecture, used as the model type in weight files.
	Kind() string
}

// ErrUnknownModel is returned by Build for an unsupported architecture name.
var ErrUnknownModel = errors.New("unknown model")

// Build constructs the model named by cfg.Model for inputs of shape dims.
//
// Weights are drawn from a generator seeded with cfg.Seed, so two builds with
// the same configuration are identical.
func Build[B tensor.Backend](cfg config.Config, dims []int, classes int, backend B) (Model[B], error) {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x6d696d6f))
	switch cfg.Model {
	case "wrn":
		m, err := NewWideResNet(WRNConfig{
			InputDims: dims,
			Classes:   classes,
			Depth:     cfg.Depth,
			Width:     cfg.Width,
			Ensemble:  cfg.Ensemble,
			Dropout:   cfg.Dropout,
		}, rng, backend)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "dense":
		m, err := NewDense(DenseConfig{
			InputDims: dims,
			Classes:   classes,
			Hidden:    cfg.Hidden,
			Ensemble:  cfg.Ensemble,
		}, rng, backend)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Wrapf(ErrUnknownModel, "%q", cfg.Model)
	}
}

func volume(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
