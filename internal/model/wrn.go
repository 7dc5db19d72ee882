package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// WRNConfig describes a MIMO wide residual network WRN-Depth-Width.
type WRNConfig struct {
	InputDims []int // [C, H, W] per member.
	Classes   int
	Depth     int // 6n+4.
	Width     int
	Ensemble  int
	Dropout   float64
}

// block is a pre-activation basic block:
// BN-ReLU-conv3x3-BN-ReLU-dropout-conv3x3, with a 1x1 projection shortcut
// when the width or resolution changes.
type block[B tensor.Backend] struct {
	bn1, bn2     *batchNorm[B]
	conv1, conv2 *nn.Conv2D[B]
	shortcut     *nn.Conv2D[B]
	drop         *dropout[B]
}

func (b *block[B]) forward(x *fTensor[B], training bool) *fTensor[B] {
	pre := nn.ReLUFunc(b.bn1.forward(x, training))
	y := b.conv1.Forward(pre)
	y = nn.ReLUFunc(b.bn2.forward(y, training))
	y = b.drop.forward(y, training)
	y = b.conv2.Forward(y)

	residual := x
	if b.shortcut != nil {
		residual = b.shortcut.Forward(pre)
	}
	return y.Add(residual)
}

// WideResNet is a MIMO WRN: the M member images are stacked along the
// channel axis, passed through one shared WRN trunk, and the dense head
// emits M*classes logits.
type WideResNet[B tensor.Backend] struct {
	*Registry[B]
	cfg      WRNConfig
	stem     *nn.Conv2D[B]
	blocks   []*block[B]
	finalBN  *batchNorm[B]
	head     *nn.Linear[B]
	training bool
	backend  B
}

// NewWideResNet builds a WRN with weights drawn from rng.
func NewWideResNet[B tensor.Backend](cfg WRNConfig, rng *rand.Rand, backend B) (*WideResNet[B], error) {
	if len(cfg.InputDims) != 3 {
		return nil, errors.Errorf("wrn: input dims must be [C,H,W], got %v", cfg.InputDims)
	}
	if cfg.Depth < 10 || (cfg.Depth-4)%6 != 0 {
		return nil, errors.Errorf("wrn: depth must be 6n+4 and >= 10, got %d", cfg.Depth)
	}
	if cfg.Width < 1 || cfg.Ensemble < 1 || cfg.Classes < 1 {
		return nil, errors.Errorf("wrn: width %d, ensemble %d, classes %d", cfg.Width, cfg.Ensemble, cfg.Classes)
	}

	reg := NewRegistry[B]()
	n := (cfg.Depth - 4) / 6
	inChannels := cfg.InputDims[0] * cfg.Ensemble

	m := &WideResNet[B]{
		Registry: reg,
		cfg:      cfg,
		stem:     newConv2D(reg, rng, "stem", inChannels, 16, 3, 1, backend),
		backend:  backend,
	}

	in := 16
	for g, width := range []int{16 * cfg.Width, 32 * cfg.Width, 64 * cfg.Width} {
		for i := range n {
			stride := 1
			if g > 0 && i == 0 {
				stride = 2
			}
			name := fmt.Sprintf("group%d.block%d", g, i)
			blk := &block[B]{
				bn1:   newBatchNorm(reg, name+".batch_norm1", in, backend),
				conv1: newConv2D(reg, rng, name+".conv1", in, width, 3, stride, backend),
				bn2:   newBatchNorm(reg, name+".batch_norm2", width, backend),
				conv2: newConv2D(reg, rng, name+".conv2", width, width, 3, 1, backend),
				drop:  &dropout[B]{rate: cfg.Dropout, rng: rng, backend: backend},
			}
			if in != width || stride != 1 {
				blk.shortcut = newConv2D(reg, rng, name+".shortcut", in, width, 1, stride, backend)
			}
			m.blocks = append(m.blocks, blk)
			in = width
		}
	}

	m.finalBN = newBatchNorm(reg, "final.batch_norm", in, backend)
	m.head = newLinear(reg, rng, "head", in, cfg.Ensemble*cfg.Classes, backend)
	return m, nil
}

// Forward maps [B, M, C, H, W] images to [B, M, classes] logits.
func (m *WideResNet[B]) Forward(input *fTensor[B]) *fTensor[B] {
	shape := input.Shape()
	dims := m.cfg.InputDims
	if len(shape) != 5 || shape[1] != m.cfg.Ensemble || shape[2] != dims[0] || shape[3] != dims[1] || shape[4] != dims[2] {
		panic(fmt.Sprintf("wrn: expected [B,%d,%d,%d,%d], got %v", m.cfg.Ensemble, dims[0], dims[1], dims[2], shape))
	}
	batch := shape[0]

	x := input.Reshape(batch, m.cfg.Ensemble*dims[0], dims[1], dims[2])
	x = m.stem.Forward(x)
	for _, blk := range m.blocks {
		x = blk.forward(x, m.training)
	}
	x = nn.ReLUFunc(m.finalBN.forward(x, m.training))
	x = globalAvgPool(x, m.backend)
	logits := m.head.Forward(x)
	return logits.Reshape(batch, m.cfg.Ensemble, m.cfg.Classes)
}

// SetTraining switches batch statistics and dropout.
func (m *WideResNet[B]) SetTraining(training bool) { m.training = training }

// Training reports the current mode.
func (m *WideResNet[B]) Training() bool { return m.training }

// Ensemble returns M.
func (m *WideResNet[B]) Ensemble() int { return m.cfg.Ensemble }

// NumClasses returns the per-member class count.
func (m *WideResNet[B]) NumClasses() int { return m.cfg.Classes }

// InputDims returns [channels, height, width] of one member's input.
func (m *WideResNet[B]) InputDims() []int { return m.cfg.InputDims }

// Kind returns "wrn-<depth>-<width>".
func (m *WideResNet[B]) Kind() string {
	return fmt.Sprintf("wrn-%d-%d", m.cfg.Depth, m.cfg.Width)
}

func (m *WideResNet[B]) String() string {
	return fmt.Sprintf("WideResNet(depth=%d, width=%d, ensemble=%d, classes=%d, params=%d)",
		m.cfg.Depth, m.cfg.Width, m.cfg.Ensemble, m.cfg.Classes, m.NumParameters())
}
