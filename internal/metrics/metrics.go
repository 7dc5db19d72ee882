// Package metrics implements the running accumulators reported once per epoch.
//
// Every tracker is updated once per batch, read with Result at the end of
// the epoch and cleared with Reset. Trackers are not safe for concurrent use.
package metrics

import (
	"github.com/pkg/errors"
)

// ErrShape is returned when labels and predictions do not line up.
var ErrShape = errors.New("metrics: label/prediction shape mismatch")

// Tracker is a stateful running metric.
//
// For prediction metrics values holds one probability row per label. For
// Mean it holds scalar observations and labels is ignored.
type Tracker interface {
	Update(labels []int32, values []float32) error
	Result() float64
	Reset()
}

// Mean is the running average of scalar observations.
type Mean struct {
	sum   float64
	count int64
}

// Add records one observation.
func (m *Mean) Add(v float64) {
	m.sum += v
	m.count++
}

// Update records every value.
func (m *Mean) Update(_ []int32, values []float32) error {
	for _, v := range values {
		m.Add(float64(v))
	}
	return nil
}

// Result returns the average, or 0 before the first observation.
func (m *Mean) Result() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Reset clears all observations.
func (m *Mean) Reset() {
	m.sum, m.count = 0, 0
}

// Accuracy is the fraction of rows whose argmax equals the label.
type Accuracy struct {
	correct int64
	total   int64
}

// Update scores len(labels) probability rows.
func (a *Accuracy) Update(labels []int32, probs []float32) error {
	classes, err := rowWidth(labels, probs)
	if err != nil {
		return err
	}
	for i, l := range labels {
		pred, _ := Argmax(probs[i*classes : (i+1)*classes])
		if pred == int(l) {
			a.correct++
		}
	}
	a.total += int64(len(labels))
	return nil
}

// Result returns correct/total, or 0 when empty.
func (a *Accuracy) Result() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

// Reset clears the counts.
func (a *Accuracy) Reset() {
	a.correct, a.total = 0, 0
}

// Argmax returns the index and value of the largest element. Ties go to the lowest index.
func Argmax(row []float32) (int, float32) {
	best, bestVal := 0, row[0]
	for i, v := range row[1:] {
		if v > bestVal {
			best, bestVal = i+1, v
		}
	}
	return best, bestVal
}

func rowWidth(labels []int32, probs []float32) (int, error) {
	if len(labels) == 0 {
		if len(probs) != 0 {
			return 0, errors.Wrapf(ErrShape, "%d values for no labels", len(probs))
		}
		return 0, nil
	}
	if len(probs) == 0 || len(probs)%len(labels) != 0 {
		return 0, errors.Wrapf(ErrShape, "%d values for %d labels", len(probs), len(labels))
	}
	classes := len(probs) / len(labels)
	for i, l := range labels {
		if l < 0 || int(l) >= classes {
			return 0, errors.Wrapf(ErrShape, "label %d at row %d outside [0,%d)", l, i, classes)
		}
	}
	return classes, nil
}
