package metrics

import (
	"iter"
	"maps"
	"slices"
)

// Metric names, without the split prefix.
const (
	NegativeLogLikelihood = "negative_log_likelihood"
	AccuracyName          = "accuracy"
	Loss                  = "loss"
	CalibrationError      = "ece"
)

// Split groups the trackers of one data split ("train" or "test").
type Split struct {
	Name     string
	NLL      *Mean
	Loss     *Mean // nil on splits without a regularised loss.
	Accuracy *Accuracy
	ECE      *ECE
}

// NewTrainSplit returns the train trackers: NLL, accuracy, loss and ECE.
func NewTrainSplit(bins int) *Split {
	return &Split{
		Name:     "train",
		NLL:      &Mean{},
		Loss:     &Mean{},
		Accuracy: &Accuracy{},
		ECE:      NewECE(bins),
	}
}

// NewTestSplit returns the test trackers: NLL, accuracy and ECE.
func NewTestSplit(bins int) *Split {
	return &Split{
		Name:     "test",
		NLL:      &Mean{},
		Accuracy: &Accuracy{},
		ECE:      NewECE(bins),
	}
}

// UpdatePredictions feeds probability rows to accuracy and ECE.
func (s *Split) UpdatePredictions(labels []int32, probs []float32) error {
	if err := s.Accuracy.Update(labels, probs); err != nil {
		return err
	}
	return s.ECE.Update(labels, probs)
}

// Trackers yields every tracker under its full "split/metric" name.
func (s *Split) Trackers() iter.Seq2[string, Tracker] {
	return func(yield func(string, Tracker) bool) {
		entries := []struct {
			name string
			t    Tracker
		}{
			{NegativeLogLikelihood, s.NLL},
			{AccuracyName, s.Accuracy},
			{Loss, s.Loss},
			{CalibrationError, s.ECE},
		}
		for _, e := range entries {
			if e.t == nil || isNilMean(e.t) {
				continue
			}
			if !yield(s.Name+"/"+e.name, e.t) {
				return
			}
		}
	}
}

// Snapshot returns the current result of every tracker.
func (s *Split) Snapshot() Snapshot {
	snap := make(Snapshot)
	for name, t := range s.Trackers() {
		snap[name] = t.Result()
	}
	return snap
}

// Reset clears every tracker.
func (s *Split) Reset() {
	for _, t := range s.Trackers() {
		t.Reset()
	}
}

func isNilMean(t Tracker) bool {
	m, ok := t.(*Mean)
	return ok && m == nil
}

// Snapshot maps full metric names to their epoch result.
type Snapshot map[string]float64

// Names returns the metric names in sorted order.
func (s Snapshot) Names() []string {
	return slices.Sorted(maps.Keys(s))
}
