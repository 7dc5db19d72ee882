package batch

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Views holds one row-index sequence per ensemble member.
type Views [][]int

// Rows returns the common sequence length, or 0 for no views.
func (v Views) Rows() int {
	if len(v) == 0 {
		return 0
	}
	return len(v[0])
}

// ViewIndices draws the per-member index sequences for a batch of b examples.
//
// The range [0, b) is tiled r times and shuffled once. The first
// floor(b*r*(1-repetitionProb)) positions are then reshuffled independently
// for each of the m views; the remaining suffix is shared, so those slots feed
// the same example to every member. With r == 1 and repetitionProb == 0 every
// view is an independent permutation of [0, b).
func ViewIndices(rng *rand.Rand, b, m, r int, repetitionProb float64) (Views, error) {
	if b <= 0 || m < 1 || r < 1 {
		return nil, errors.Wrapf(ErrInvalidArgument, "batch %d, ensemble %d, repetitions %d", b, m, r)
	}
	if repetitionProb < 0 || repetitionProb > 1 || math.IsNaN(repetitionProb) {
		return nil, errors.Wrapf(ErrInvalidArgument, "repetition probability %v", repetitionProb)
	}

	n := b * r
	main := make([]int, n)
	for i := range main {
		main[i] = i % b
	}
	shuffle(rng, main)

	toShuffle := int(float64(n) * (1 - repetitionProb))

	views := make(Views, m)
	for j := range views {
		v := make([]int, n)
		copy(v, main)
		shuffle(rng, v[:toShuffle])
		views[j] = v
	}
	return views, nil
}

func shuffle(rng *rand.Rand, s []int) {
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
