package dataset

import (
	"math/rand/v2"
)

// Synthetic geometry: small channel-first images in SyntheticClasses clusters.
const (
	SyntheticClasses = 10
	syntheticSpread  = 0.5
)

// SyntheticDims is the example shape produced by Synthetic.
var SyntheticDims = []int{3, 8, 8}

// Synthetic draws train and test splits of Gaussian class blobs.
//
// Every class has a random center; an example is its class center plus
// isotropic noise of standard deviation 0.5. Labels cycle through the
// classes. The same seed yields the same splits.
func Synthetic(trainSize, testSize int, seed uint64) (train, test *Split) {
	rng := rand.New(rand.NewPCG(seed, 0x626c6f6273))
	size := SyntheticDims[0] * SyntheticDims[1] * SyntheticDims[2]

	centers := make([][]float32, SyntheticClasses)
	for c := range centers {
		centers[c] = make([]float32, size)
		for i := range centers[c] {
			centers[c][i] = float32(rng.NormFloat64())
		}
	}

	draw := func(n int) *Split {
		s := &Split{
			Images: make([]float32, 0, n*size),
			Labels: make([]int32, n),
			Dims:   append([]int(nil), SyntheticDims...),
		}
		for i := range n {
			c := i % SyntheticClasses
			s.Labels[i] = int32(c)
			for _, v := range centers[c] {
				s.Images = append(s.Images, v+float32(syntheticSpread*rng.NormFloat64()))
			}
		}
		return s
	}
	return draw(trainSize), draw(testSize)
}
