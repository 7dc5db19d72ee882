package loss_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mimo/internal/config"
	"github.com/born-ml/mimo/internal/loss"
	"github.com/born-ml/mimo/internal/model"
)

type testBackend = *autodiff.Backend[*cpu.Backend]

func logitsTensor(t *testing.T, backend testBackend, data []float32, shape ...int) *tensor.Tensor[float32, testBackend] {
	t.Helper()
	x, err := tensor.FromSlice(data, tensor.Shape(shape), backend)
	require.NoError(t, err)
	return x
}

func denseModel(t *testing.T, backend testBackend) model.Model[testBackend] {
	t.Helper()
	cfg := config.Default()
	cfg.Model = "dense"
	cfg.Ensemble = 2
	cfg.Hidden = 3
	m, err := model.Build(cfg, []int{2}, 2, backend)
	require.NoError(t, err)
	return m
}

func TestNLL_SingleMemberIsMeanCrossEntropy(t *testing.T) {
	backend := autodiff.New(cpu.New())
	obj := loss.New(0, backend)

	data := []float32{2, -1, 0.5, 0.3, 0.1, 1.2, -0.4, 0.0, 0.7, 3, 1, -2}
	labels := []int32{0, 2, 1, 0}
	logits := logitsTensor(t, backend, data, 4, 1, 3)

	_, nll, err := obj.NLL(logits, labels)
	require.NoError(t, err)

	penalty, total := obj.Total(nll, denseModel(t, backend))
	assert.Zero(t, penalty)
	assert.InDelta(t, meanCrossEntropy(data, labels, 3), total, 1e-5)
}

func TestNLL_SumsMembersAveragesRows(t *testing.T) {
	backend := autodiff.New(cpu.New())
	obj := loss.New(0, backend)

	rng := rand.New(rand.NewPCG(1, 2))
	rows, m, classes := 3, 2, 4
	data := make([]float32, rows*m*classes)
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	labels := []int32{0, 3, 1, 1, 2, 0}

	_, nll, err := obj.NLL(logitsTensor(t, backend, data, rows, m, classes), labels)
	require.NoError(t, err)

	var want float64
	for r := range rows {
		for j := range m {
			cell := r*m + j
			want += meanCrossEntropy(data[cell*classes:(cell+1)*classes], labels[cell:cell+1], classes)
		}
	}
	want /= float64(rows)

	assert.InDelta(t, want, nll, 1e-5)
}

func TestNLL_GradientWithSeed(t *testing.T) {
	backend := autodiff.New(cpu.New())
	obj := loss.New(0, backend)

	data := []float32{0.2, -0.3, 1.0, 0.5}
	labels := []int32{1, 0}
	logits := logitsTensor(t, backend, data, 1, 2, 2)

	tape := backend.Tape()
	tape.Clear()
	tape.StartRecording()
	_, _, err := obj.NLL(logits, labels)
	require.NoError(t, err)
	seed, err := obj.Seed(2)
	require.NoError(t, err)
	grads := tape.Backward(seed, backend)
	tape.StopRecording()
	tape.Clear()

	g, ok := grads[logits.Raw()]
	require.True(t, ok)

	// d(sum_m CE_m)/d logits = softmax - onehot, per member.
	probs := loss.Softmax(data, 2)
	want := []float32{probs[0], probs[1] - 1, probs[2] - 1, probs[3]}
	for i, w := range want {
		assert.InDelta(t, w, g.AsFloat32()[i], 1e-5, "grad %d", i)
	}
}

func TestNLL_ShapeErrors(t *testing.T) {
	backend := autodiff.New(cpu.New())
	obj := loss.New(0, backend)

	_, _, err := obj.NLL(logitsTensor(t, backend, make([]float32, 4), 2, 2), []int32{0, 1})
	assert.True(t, errors.Is(err, loss.ErrShape))

	_, _, err = obj.NLL(logitsTensor(t, backend, make([]float32, 8), 2, 2, 2), []int32{0, 1})
	assert.True(t, errors.Is(err, loss.ErrShape))

	_, _, err = obj.NLL(logitsTensor(t, backend, make([]float32, 8), 2, 2, 2), []int32{0, 1, 2, 0})
	assert.True(t, errors.Is(err, loss.ErrShape))
}

func TestPenalty_FiltersByRole(t *testing.T) {
	backend := autodiff.New(cpu.New())
	m := denseModel(t, backend)
	obj := loss.New(0.5, backend)

	var want float64
	for _, p := range m.Parameters() {
		if m.Role(p) == model.RoleOther {
			continue
		}
		for _, w := range p.Tensor().Raw().AsFloat32() {
			want += float64(w) * float64(w)
		}
	}
	want *= 0.5

	assert.InDelta(t, want, obj.Penalty(m), 1e-6)

	// Scaling the gate must not change the penalty.
	for _, p := range m.Parameters() {
		if m.Role(p) == model.RoleOther {
			for i := range p.Tensor().Raw().AsFloat32() {
				p.Tensor().Raw().AsFloat32()[i] = 100
			}
		}
	}
	assert.InDelta(t, want, obj.Penalty(m), 1e-6)
}

func TestAddPenaltyGrad(t *testing.T) {
	backend := autodiff.New(cpu.New())
	m := denseModel(t, backend)
	obj := loss.New(0.25, backend)

	grads := map[*tensor.RawTensor]*tensor.RawTensor{}
	var gate *tensor.RawTensor
	ones := map[*tensor.RawTensor][]float32{}
	for _, p := range m.Parameters() {
		raw := p.Tensor().Raw()
		g, err := tensor.NewRaw(raw.Shape(), tensor.Float32, raw.Device())
		require.NoError(t, err)
		for i := range g.AsFloat32() {
			g.AsFloat32()[i] = 1
		}
		grads[raw] = g
		ones[raw] = g.AsFloat32()
		if m.Role(p) == model.RoleOther {
			gate = raw
		}
	}
	require.NotNil(t, gate)

	require.NoError(t, obj.AddPenaltyGrad(m, grads))

	for _, p := range m.Parameters() {
		raw := p.Tensor().Raw()
		got := grads[raw].AsFloat32()
		if raw == gate {
			for _, v := range got {
				assert.Equal(t, float32(1), v)
			}
			continue
		}
		for i, w := range raw.AsFloat32() {
			assert.InDelta(t, 1+0.5*w, got[i], 1e-6, m.ParameterName(p))
		}
		// The original gradient buffer is left intact.
		for _, v := range ones[raw] {
			assert.Equal(t, float32(1), v)
		}
	}
}

func TestAddPenaltyGrad_ZeroCoefficient(t *testing.T) {
	backend := autodiff.New(cpu.New())
	m := denseModel(t, backend)
	grads := map[*tensor.RawTensor]*tensor.RawTensor{}

	require.NoError(t, loss.New(0, backend).AddPenaltyGrad(m, grads))
	assert.Empty(t, grads)
}

func TestSoftmax(t *testing.T) {
	probs := loss.Softmax([]float32{1, 1, 1000, 0}, 2)
	assert.InDelta(t, 0.5, probs[0], 1e-7)
	assert.InDelta(t, 0.5, probs[1], 1e-7)
	assert.InDelta(t, 1.0, probs[2], 1e-7)
	assert.InDelta(t, 0.0, probs[3], 1e-7)
	assert.False(t, math.IsNaN(float64(probs[2])))
}

func TestFinite(t *testing.T) {
	assert.True(t, loss.Finite(1.5))
	assert.False(t, loss.Finite(math.NaN()))
	assert.False(t, loss.Finite(math.Inf(-1)))
}

// meanCrossEntropy is the host-side mean over rows of -log softmax(logits)[label].
func meanCrossEntropy(logits []float32, labels []int32, classes int) float64 {
	if len(labels) == 0 {
		return 0
	}
	var total float64
	for r, l := range labels {
		row := logits[r*classes : (r+1)*classes]
		maxVal := row[0]
		for _, v := range row[1:] {
			maxVal = max(maxVal, v)
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxVal))
		}
		total += math.Log(sum) - float64(row[l]-maxVal)
	}
	return total / float64(len(labels))
}
