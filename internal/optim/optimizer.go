// Package optim implements the parameter update rules and learning-rate schedules.
//
// Optimizers consume the gradient map produced by a tape backward pass,
// keyed by each parameter's underlying RawTensor, and update the parameters
// in place:
//
//	grads := backend.Tape().Backward(seed, backend)
//	opt.SetLR(float32(schedule.LR(step)))
//	opt.Step(grads)
//
// Parameters absent from the map did not take part in the forward pass and
// are left untouched.
package optim

import (
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// Optimizer updates a fixed parameter list from gradients.
type Optimizer interface {
	// Step applies one update from grads.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears the gradients stored on the parameters.
	ZeroGrad()

	// GetLR returns the learning rate used by the next Step.
	GetLR() float32

	// SetLR changes the learning rate; schedules call it before every Step.
	SetLR(lr float32)

	// StateDict exports the optimizer buffers for checkpointing.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict restores buffers written by StateDict.
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// ErrStateShape is returned when a restored buffer does not match its parameter.
var ErrStateShape = errors.New("optimizer state shape mismatch")

// gradient returns the gradient of param, or nil if it was not in the graph.
func gradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) []float32 {
	if param == nil {
		return nil
	}
	g, ok := grads[param.Tensor().Raw()]
	if !ok || g == nil {
		return nil
	}
	return g.AsFloat32()
}

// buffer returns a zero tensor with the shape of param.
func buffer[B tensor.Backend](param *nn.Parameter[B], backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](param.Tensor().Shape(), backend)
}

// restore validates and adopts a saved buffer for param i.
func restore[B tensor.Backend](i int, param *nn.Parameter[B], raw *tensor.RawTensor, backend B) (*tensor.Tensor[float32, B], error) {
	if !raw.Shape().Equal(param.Tensor().Shape()) {
		return nil, errors.Wrapf(ErrStateShape, "parameter %d (%s): want %v, got %v",
			i, param.Name(), param.Tensor().Shape(), raw.Shape())
	}
	return tensor.New[float32, B](raw, backend), nil
}
