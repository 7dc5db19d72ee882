package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

type fTensor[B tensor.Backend] = tensor.Tensor[float32, B]

// initHeNormal overwrites p with draws from N(0, 2/fanIn).
func initHeNormal[B tensor.Backend](rng *rand.Rand, fanIn int, p *nn.Parameter[B]) {
	std := math.Sqrt(2 / float64(fanIn))
	data := p.Tensor().Raw().AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
}

// constant returns a tensor of the given shape filled with v. It is never a parameter.
func constant[B tensor.Backend](v float32, shape tensor.Shape, backend B) *fTensor[B] {
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = v
	}
	t, err := tensor.FromSlice(data, shape, backend)
	if err != nil {
		panic(err)
	}
	return t
}

// newConv2D returns a bias-free square convolution with "same" padding for
// odd k. Its kernel is registered as name.kernel.
func newConv2D[B tensor.Backend](reg *Registry[B], rng *rand.Rand, name string, in, out, k, stride int, backend B) *nn.Conv2D[B] {
	conv := nn.NewConv2D(in, out, k, k, stride, k/2, false, backend)
	kernel := conv.Parameters()[0]
	initHeNormal(rng, in*k*k, kernel)
	reg.Register(name+".kernel", RoleKernel, kernel)
	return conv
}

// batchNorm normalizes each channel of NCHW input.
//
// In training mode the batch mean and variance are computed with recorded
// tensor ops, so gradients flow through both, and are folded into the
// running averages. Eval mode uses the running averages as constants.
type batchNorm[B tensor.Backend] struct {
	gamma    *nn.Parameter[B] // [C]
	beta     *nn.Parameter[B] // [C]
	runMean  *tensor.RawTensor
	runVar   *tensor.RawTensor
	channels int
	momentum float32
	eps      float32
	backend  B
}

func newBatchNorm[B tensor.Backend](reg *Registry[B], name string, channels int, backend B) *batchNorm[B] {
	shape := tensor.Shape{channels}
	bn := &batchNorm[B]{
		gamma:    reg.Add(name+".gamma", RoleNormalization, nn.Ones(shape, backend)),
		beta:     reg.Add(name+".beta", RoleNormalization, nn.Zeros(shape, backend)),
		runMean:  nn.Zeros(shape, backend).Raw(),
		runVar:   nn.Ones(shape, backend).Raw(),
		channels: channels,
		momentum: 0.9,
		eps:      1e-5,
		backend:  backend,
	}
	reg.AddBuffer(name+".running_mean", bn.runMean)
	reg.AddBuffer(name+".running_var", bn.runVar)
	return bn
}

func (bn *batchNorm[B]) forward(x *fTensor[B], training bool) *fTensor[B] {
	shape := x.Shape()
	if len(shape) != 4 || shape[1] != bn.channels {
		panic(fmt.Sprintf("batchnorm: expected [N,%d,H,W], got %v", bn.channels, shape))
	}
	n, c, h, w := shape[0], shape[1], shape[2], shape[3]
	bcast := tensor.Shape{1, c, 1, 1}

	affine := func(normed *fTensor[B]) *fTensor[B] {
		return normed.Mul(bn.gamma.Tensor().Reshape(1, c, 1, 1)).Add(bn.beta.Tensor().Reshape(1, c, 1, 1))
	}

	rm, rv := bn.runMean.AsFloat32(), bn.runVar.AsFloat32()
	if !training {
		mean, err := tensor.FromSlice(append([]float32(nil), rm...), bcast, bn.backend)
		if err != nil {
			panic(err)
		}
		invStd := make([]float32, c)
		for ch := range c {
			invStd[ch] = 1 / float32(math.Sqrt(float64(rv[ch]+bn.eps)))
		}
		scale, err := tensor.FromSlice(invStd, bcast, bn.backend)
		if err != nil {
			panic(err)
		}
		return affine(x.Sub(mean).Mul(scale))
	}

	// [C, N*H*W] view of the batch.
	rows := x.Transpose(1, 0, 2, 3).Reshape(c, n*h*w)
	mean := rows.MeanDim(1, true)
	centered := rows.Sub(mean)
	variance := centered.Mul(centered).MeanDim(1, true)
	invStd := variance.Add(constant(bn.eps, tensor.Shape{c, 1}, bn.backend)).Rsqrt()
	normed := centered.Mul(invStd).Reshape(c, n, h, w).Transpose(1, 0, 2, 3)

	means, vars := mean.Raw().AsFloat32(), variance.Raw().AsFloat32()
	for ch := range c {
		rm[ch] = bn.momentum*rm[ch] + (1-bn.momentum)*means[ch]
		rv[ch] = bn.momentum*rv[ch] + (1-bn.momentum)*vars[ch]
	}
	return affine(normed)
}

// newLinear returns a dense layer whose [out, in] weight and bias are
// registered as name.kernel and name.bias.
func newLinear[B tensor.Backend](reg *Registry[B], rng *rand.Rand, name string, in, out int, backend B) *nn.Linear[B] {
	l := nn.NewLinear(in, out, backend, nn.WithBias(true))
	initHeNormal(rng, in, l.Weight())
	reg.Register(name+".kernel", RoleKernel, l.Weight())
	reg.Register(name+".bias", RoleBias, l.Bias())
	return l
}

// dropout zeroes each activation with probability rate and rescales the rest.
type dropout[B tensor.Backend] struct {
	rate    float64
	rng     *rand.Rand
	backend B
}

func (d *dropout[B]) forward(x *fTensor[B], training bool) *fTensor[B] {
	if !training || d.rate == 0 {
		return x
	}
	keep := float32(1 / (1 - d.rate))
	mask := make([]float32, x.Shape().NumElements())
	for i := range mask {
		if d.rng.Float64() >= d.rate {
			mask[i] = keep
		}
	}
	m, err := tensor.FromSlice(mask, x.Shape(), d.backend)
	if err != nil {
		panic(err)
	}
	return x.Mul(m)
}

// globalAvgPool averages NCHW input over H and W, returning [N, C].
func globalAvgPool[B tensor.Backend](x *fTensor[B], backend B) *fTensor[B] {
	shape := x.Shape()
	n, c, hw := shape[0], shape[1], shape[2]*shape[3]
	ones := constant(1/float32(hw), tensor.Shape{hw, 1}, backend)
	return x.Reshape(n*c, hw).MatMul(ones).Reshape(n, c)
}
