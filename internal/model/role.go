package model

import (
	"fmt"
	"maps"
	"slices"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// Role classifies a parameter for regularisation.
type Role int

const (
	// RoleOther covers parameters outside the weight-decay set (gates, embeddings).
	RoleOther Role = iota
	// RoleKernel is a convolution or dense weight.
	RoleKernel
	// RoleBias is an additive bias.
	RoleBias
	// RoleNormalization is a normalization scale or shift.
	RoleNormalization
)

func (r Role) String() string {
	switch r {
	case RoleOther:
		return "other"
	case RoleKernel:
		return "kernel"
	case RoleBias:
		return "bias"
	case RoleNormalization:
		return "normalization"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Decayed reports whether the L2 penalty applies to parameters of this role.
func (r Role) Decayed() bool {
	return r == RoleKernel || r == RoleBias || r == RoleNormalization
}

// ErrStateDict is returned when a state dict does not fit the model.
var ErrStateDict = errors.New("state dict mismatch")

// Registry owns a model's parameters and the role each was created with.
//
// Buffers are non-trainable tensors (running statistics) that still belong
// in the state dict.
type Registry[B tensor.Backend] struct {
	params  []*nn.Parameter[B]
	names   map[*nn.Parameter[B]]string
	roles   map[*nn.Parameter[B]]Role
	buffers map[string]*tensor.RawTensor
}

// NewRegistry returns an empty registry.
func NewRegistry[B tensor.Backend]() *Registry[B] {
	return &Registry[B]{
		names:   make(map[*nn.Parameter[B]]string),
		roles:   make(map[*nn.Parameter[B]]Role),
		buffers: make(map[string]*tensor.RawTensor),
	}
}

// Add registers t as a trainable parameter with the given name and role.
func (r *Registry[B]) Add(name string, role Role, t *tensor.Tensor[float32, B]) *nn.Parameter[B] {
	return r.Register(name, role, nn.NewParameter(name, t))
}

// Register adopts a parameter created by an engine layer under name.
func (r *Registry[B]) Register(name string, role Role, p *nn.Parameter[B]) *nn.Parameter[B] {
	r.params = append(r.params, p)
	r.names[p] = name
	r.roles[p] = role
	return p
}

// AddBuffer registers a non-trainable tensor under name.
func (r *Registry[B]) AddBuffer(name string, raw *tensor.RawTensor) {
	r.buffers[name] = raw
}

// Parameters returns the parameters in creation order.
func (r *Registry[B]) Parameters() []*nn.Parameter[B] {
	return r.params
}

// ParameterName returns the state-dict name p was registered under.
func (r *Registry[B]) ParameterName(p *nn.Parameter[B]) string {
	return r.names[p]
}

// Role returns the role p was registered with; unknown parameters are RoleOther.
func (r *Registry[B]) Role(p *nn.Parameter[B]) Role {
	return r.roles[p]
}

// StateDict maps parameter and buffer names to their tensors.
func (r *Registry[B]) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor, len(r.params)+len(r.buffers))
	for _, p := range r.params {
		state[r.names[p]] = p.Tensor().Raw()
	}
	maps.Copy(state, r.buffers)
	return state
}

// LoadStateDict copies values into the existing tensors, so parameter
// identity (and any optimizer state keyed on it) survives a load.
func (r *Registry[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	current := r.StateDict()
	for _, name := range slices.Sorted(maps.Keys(current)) {
		dst := current[name]
		src, ok := state[name]
		if !ok {
			return errors.Wrapf(ErrStateDict, "missing %q", name)
		}
		if !src.Shape().Equal(dst.Shape()) {
			return errors.Wrapf(ErrStateDict, "%q: want shape %v, got %v", name, dst.Shape(), src.Shape())
		}
		copy(dst.AsFloat32(), src.AsFloat32())
	}
	return nil
}

// NumParameters returns the total number of trainable values.
func (r *Registry[B]) NumParameters() int {
	n := 0
	for _, p := range r.params {
		n += p.Tensor().Shape().NumElements()
	}
	return n
}
