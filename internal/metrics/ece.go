package metrics

import (
	"math"
)

// DefaultBins is the number of confidence bins used when none is given.
const DefaultBins = 15

// ECE accumulates Expected Calibration Error.
//
// Each prediction is binned by its top-class probability into NumBins equal
// bins over [0, 1]. The result is the sample-weighted mean over bins of
// |mean confidence - accuracy|.
type ECE struct {
	counts      []int64
	confidences []float64
	correct     []float64
	total       int64
}

// NewECE returns an ECE tracker with the given number of bins (DefaultBins if <= 0).
func NewECE(bins int) *ECE {
	if bins <= 0 {
		bins = DefaultBins
	}
	return &ECE{
		counts:      make([]int64, bins),
		confidences: make([]float64, bins),
		correct:     make([]float64, bins),
	}
}

// NumBins returns the number of confidence bins.
func (e *ECE) NumBins() int {
	return len(e.counts)
}

// Update bins len(labels) probability rows.
func (e *ECE) Update(labels []int32, probs []float32) error {
	classes, err := rowWidth(labels, probs)
	if err != nil {
		return err
	}
	for i, l := range labels {
		pred, conf := Argmax(probs[i*classes : (i+1)*classes])
		b := e.bin(float64(conf))
		e.counts[b]++
		e.confidences[b] += float64(conf)
		if pred == int(l) {
			e.correct[b]++
		}
	}
	e.total += int64(len(labels))
	return nil
}

// bin maps a confidence to its bin; 1.0 falls in the last bin.
func (e *ECE) bin(conf float64) int {
	n := len(e.counts)
	b := int(math.Floor(conf * float64(n)))
	return min(max(b, 0), n-1)
}

// Result returns the calibration error, or 0 when empty.
func (e *ECE) Result() float64 {
	if e.total == 0 {
		return 0
	}
	var ece float64
	for b, n := range e.counts {
		if n == 0 {
			continue
		}
		conf := e.confidences[b] / float64(n)
		acc := e.correct[b] / float64(n)
		ece += float64(n) / float64(e.total) * math.Abs(acc-conf)
	}
	return ece
}

// Reset clears every bin.
func (e *ECE) Reset() {
	clear(e.counts)
	clear(e.confidences)
	clear(e.correct)
	e.total = 0
}
