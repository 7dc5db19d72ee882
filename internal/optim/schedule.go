package optim

import (
	"math"
)

// Schedule maps a global step to a learning rate. Implementations are pure.
type Schedule interface {
	LR(step int) float64
}

// Constant is a fixed learning rate.
type Constant float64

// LR returns the constant rate.
func (c Constant) LR(int) float64 {
	return float64(c)
}

// WarmUpPiecewiseConstant ramps the rate linearly over WarmupEpochs, then
// holds BaseLR and multiplies it by DecayRatio at each epoch in DecayEpochs.
//
// Epochs are fractional (step / StepsPerEpoch), so both the ramp and the
// decay boundaries are evaluated per step.
type WarmUpPiecewiseConstant struct {
	StepsPerEpoch int
	BaseLR        float64
	DecayRatio    float64
	DecayEpochs   []int
	WarmupEpochs  int
}

// LR returns the rate at a global step.
func (s WarmUpPiecewiseConstant) LR(step int) float64 {
	epoch := float64(step) / float64(max(s.StepsPerEpoch, 1))

	lr := s.BaseLR
	if s.WarmupEpochs >= 1 {
		lr *= epoch / float64(s.WarmupEpochs)
	}

	boundaries := append([]int{s.WarmupEpochs}, s.DecayEpochs...)
	for i, start := range boundaries {
		if epoch >= float64(start) {
			lr = s.BaseLR * math.Pow(s.DecayRatio, float64(i))
		}
	}
	return lr
}
