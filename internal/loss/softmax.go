package loss

import (
	"math"
)

// Softmax converts [rows, classes] logits, row-major, into probabilities.
// It subtracts each row's max before exponentiating.
func Softmax(logits []float32, classes int) []float32 {
	out := make([]float32, len(logits))
	for r := 0; r+classes <= len(logits); r += classes {
		row := logits[r : r+classes]
		maxVal := row[0]
		for _, v := range row[1:] {
			maxVal = max(maxVal, v)
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxVal))
			out[r+i] = float32(e)
			sum += e
		}
		for i := range row {
			out[r+i] = float32(float64(out[r+i]) / sum)
		}
	}
	return out
}
