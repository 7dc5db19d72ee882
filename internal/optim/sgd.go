package optim

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// SGD is stochastic gradient descent with optional (Nesterov) momentum.
//
// Update rule, with v initialised to zero:
//
//	v = momentum*v - lr*g
//	w = w + v                   (classical)
//	w = w + momentum*v - lr*g   (Nesterov)
//
// The learning rate is folded into the velocity, so changing it between
// steps with SetLR does not rescale the accumulated momentum.
type SGD[B tensor.Backend] struct {
	params     []*nn.Parameter[B]
	lr         float32
	momentum   float32
	nesterov   bool
	velocities map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	backend    B
}

// SGDConfig holds the SGD hyperparameters.
type SGDConfig struct {
	LR       float32 // Learning rate (default 0.01).
	Momentum float32 // Momentum factor in [0, 1).
	Nesterov bool    // Use the Nesterov lookahead update.
}

// NewSGD creates an SGD optimizer over params.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD[B]{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		nesterov:   config.Nesterov,
		velocities: make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend:    backend,
	}
}

// Step applies one update to every parameter that has a gradient.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		g := gradient(param, grads)
		if g == nil {
			continue
		}
		w := param.Tensor().Raw().AsFloat32()

		if s.momentum == 0 {
			for i := range w {
				w[i] -= s.lr * g[i]
			}
			continue
		}

		velocity, ok := s.velocities[param]
		if !ok {
			velocity = buffer(param, s.backend)
			s.velocities[param] = velocity
		}
		v := velocity.Raw().AsFloat32()
		for i := range w {
			step := s.lr * g[i]
			v[i] = s.momentum*v[i] - step
			if s.nesterov {
				w[i] += s.momentum*v[i] - step
			} else {
				w[i] += v[i]
			}
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}

// StateDict exports the velocity buffers as "velocity.<param index>".
// Without momentum it returns an empty map.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	if s.momentum == 0 {
		return state
	}
	for i, param := range s.params {
		if velocity, ok := s.velocities[param]; ok {
			state[fmt.Sprintf("velocity.%d", i)] = velocity.Raw()
		}
	}
	return state
}

// LoadStateDict restores velocity buffers. Missing entries start from zero.
func (s *SGD[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	if s.momentum == 0 {
		return nil
	}
	velocities := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	for i, param := range s.params {
		raw, ok := state[fmt.Sprintf("velocity.%d", i)]
		if !ok {
			continue
		}
		v, err := restore(i, param, raw, s.backend)
		if err != nil {
			return err
		}
		velocities[param] = v
	}
	s.velocities = velocities
	return nil
}
