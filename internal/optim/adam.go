package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Adam implements Adam (Kingma & Ba, 2014).
//
//	m = beta1*m + (1-beta1)*g
//	v = beta2*v + (1-beta2)*g²
//	w -= lr * (m/(1-beta1^t)) / (sqrt(v/(1-beta2^t)) + eps)
type Adam[B tensor.Backend] struct {
	params  []*nn.Parameter[B]
	lr      float32
	beta1   float32
	beta2   float32
	eps     float32
	t       int
	m       map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	v       map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	backend B
}

// AdamConfig holds the Adam hyperparameters. Zero fields take the usual defaults.
type AdamConfig struct {
	LR    float32    // default 0.001
	Betas [2]float32 // default {0.9, 0.999}
	Eps   float32    // default 1e-8
}

// NewAdam creates an Adam optimizer over params.
func NewAdam[B tensor.Backend](params []*nn.Parameter[B], config AdamConfig, backend B) *Adam[B] {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam[B]{
		params:  params,
		lr:      config.LR,
		beta1:   config.Betas[0],
		beta2:   config.Betas[1],
		eps:     config.Eps,
		m:       make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		v:       make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend: backend,
	}
}

// Step applies one bias-corrected Adam update.
func (a *Adam[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	a.t++
	c1 := float32(1 - math.Pow(float64(a.beta1), float64(a.t)))
	c2 := float32(1 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		g := gradient(param, grads)
		if g == nil {
			continue
		}
		m, ok := a.m[param]
		if !ok {
			m = buffer(param, a.backend)
			a.m[param] = m
		}
		v, ok := a.v[param]
		if !ok {
			v = buffer(param, a.backend)
			a.v[param] = v
		}

		w := param.Tensor().Raw().AsFloat32()
		md, vd := m.Raw().AsFloat32(), v.Raw().AsFloat32()
		for i := range w {
			md[i] = a.beta1*md[i] + (1-a.beta1)*g[i]
			vd[i] = a.beta2*vd[i] + (1-a.beta2)*g[i]*g[i]
			mHat := md[i] / c1
			vHat := vd[i] / c2
			w[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam[B]) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam[B]) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam[B]) SetLR(lr float32) {
	a.lr = lr
}

// GetTimestep returns the number of steps taken.
func (a *Adam[B]) GetTimestep() int {
	return a.t
}

// StateDict exports "m.<i>", "v.<i>" and the step count as a one-element "t" tensor.
func (a *Adam[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for i, param := range a.params {
		if m, ok := a.m[param]; ok {
			state[fmt.Sprintf("m.%d", i)] = m.Raw()
		}
		if v, ok := a.v[param]; ok {
			state[fmt.Sprintf("v.%d", i)] = v.Raw()
		}
	}
	step, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float32, a.backend.Device())
	if err == nil {
		step.AsFloat32()[0] = float32(a.t)
		state["t"] = step
	}
	return state
}

// LoadStateDict restores the moment buffers and step count.
func (a *Adam[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	ms := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	vs := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	for i, param := range a.params {
		if raw, ok := state[fmt.Sprintf("m.%d", i)]; ok {
			m, err := restore(i, param, raw, a.backend)
			if err != nil {
				return err
			}
			ms[param] = m
		}
		if raw, ok := state[fmt.Sprintf("v.%d", i)]; ok {
			v, err := restore(i, param, raw, a.backend)
			if err != nil {
				return err
			}
			vs[param] = v
		}
	}
	a.m, a.v = ms, vs
	if raw, ok := state["t"]; ok && raw.NumElements() == 1 {
		a.t = int(raw.AsFloat32()[0])
	}
	return nil
}
