package metrics

import "math"

// History is the ordered per-epoch record of train and test snapshots.
type History struct {
	RunID string
	Train []Snapshot
	Test  []Snapshot
}

// Append records one finished epoch.
func (h *History) Append(train, test Snapshot) {
	h.Train = append(h.Train, train)
	h.Test = append(h.Test, test)
}

// Epochs returns the number of recorded epochs.
func (h *History) Epochs() int {
	return len(h.Train)
}

// Series returns one value of name per epoch, taken from whichever record
// holds it. Epochs missing the metric hold NaN.
func (h *History) Series(name string) []float64 {
	out := make([]float64, h.Epochs())
	for i := range out {
		out[i] = math.NaN()
		for _, snaps := range [][]Snapshot{h.Train, h.Test} {
			if i >= len(snaps) {
				continue
			}
			if v, ok := snaps[i][name]; ok {
				out[i] = v
			}
		}
	}
	return out
}

// Names returns every metric name that appears in the history, sorted.
func (h *History) Names() []string {
	seen := make(Snapshot)
	for _, snaps := range [][]Snapshot{h.Train, h.Test} {
		for _, s := range snaps {
			for k := range s {
				seen[k] = 0
			}
		}
	}
	return seen.Names()
}
