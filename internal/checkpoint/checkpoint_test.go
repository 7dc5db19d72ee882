package checkpoint_test

import (
	"path/filepath"
	"testing"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mimo/internal/checkpoint"
	"github.com/born-ml/mimo/internal/config"
	"github.com/born-ml/mimo/internal/metrics"
	"github.com/born-ml/mimo/internal/model"
	"github.com/born-ml/mimo/internal/optim"
)

type testBackend = *autodiff.Backend[*cpu.Backend]

func build(t *testing.T, backend testBackend, seed uint64) (model.Model[testBackend], *optim.SGD[testBackend]) {
	t.Helper()
	cfg := config.Default()
	cfg.Model = "dense"
	cfg.Ensemble = 2
	cfg.Hidden = 4
	cfg.Seed = seed
	m, err := model.Build(cfg, []int{3}, 2, backend)
	require.NoError(t, err)
	opt := optim.NewSGD(m.Parameters(), optim.SGDConfig{LR: 0.1, Momentum: 0.9, Nesterov: true}, backend)
	return m, opt
}

func onesGrads(t *testing.T, m model.Model[testBackend]) map[*tensor.RawTensor]*tensor.RawTensor {
	t.Helper()
	grads := map[*tensor.RawTensor]*tensor.RawTensor{}
	for _, p := range m.Parameters() {
		raw := p.Tensor().Raw()
		g, err := tensor.NewRaw(raw.Shape(), tensor.Float32, raw.Device())
		require.NoError(t, err)
		for i := range g.AsFloat32() {
			g.AsFloat32()[i] = 1
		}
		grads[raw] = g
	}
	return grads
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "weights", "weights_50.born"), checkpoint.WeightsPath("out", 50))
	assert.Equal(t, filepath.Join("out", "weights", "final_weights.born"), checkpoint.FinalPath("out"))
	assert.Equal(t, filepath.Join("out", "metrics", "metrics_evo.json"), checkpoint.HistoryPath("out"))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	backend := autodiff.New(cpu.New())
	src, srcOpt := build(t, backend, 1)
	srcOpt.Step(onesGrads(t, src))

	path := checkpoint.WeightsPath(t.TempDir(), 50)
	size, err := checkpoint.Save[testBackend](path, src, srcOpt, checkpoint.State{
		Epoch: 50, Step: 1234, RunID: "run-1", Kind: src.Kind(), Optimizer: "sgd",
		Sampler: []byte{0x00, 0x7f, 0xff},
	})
	require.NoError(t, err)
	assert.Positive(t, size)

	dst, dstOpt := build(t, backend, 2)
	st, err := checkpoint.Load[testBackend](path, backend, dst, dstOpt)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.State{
		Epoch: 50, Step: 1234, RunID: "run-1", Kind: "dense", Optimizer: "sgd",
		Sampler: []byte{0x00, 0x7f, 0xff},
	}, st)

	want := src.StateDict()
	for name, raw := range dst.StateDict() {
		assert.Equal(t, want[name].AsFloat32(), raw.AsFloat32(), name)
	}

	wantVel := srcOpt.StateDict()
	gotVel := dstOpt.StateDict()
	require.Len(t, gotVel, len(wantVel))
	for name, raw := range wantVel {
		require.Contains(t, gotVel, name)
		assert.Equal(t, raw.AsFloat32(), gotVel[name].AsFloat32(), name)
	}
}

func TestLoad_ResumedOptimizerMatches(t *testing.T) {
	backend := autodiff.New(cpu.New())
	src, srcOpt := build(t, backend, 1)
	srcOpt.Step(onesGrads(t, src))

	path := filepath.Join(t.TempDir(), "w.born")
	_, err := checkpoint.Save[testBackend](path, src, srcOpt, checkpoint.State{Epoch: 1, Step: 1})
	require.NoError(t, err)

	dst, dstOpt := build(t, backend, 2)
	_, err = checkpoint.Load[testBackend](path, backend, dst, dstOpt)
	require.NoError(t, err)

	// The same second step must land on the same weights.
	srcOpt.Step(onesGrads(t, src))
	dstOpt.Step(onesGrads(t, dst))
	want := src.StateDict()
	for name, raw := range dst.StateDict() {
		assert.InDeltaSlice(t, want[name].AsFloat32(), raw.AsFloat32(), 1e-6, name)
	}
}

func TestLoad_WithoutOptimizer(t *testing.T) {
	backend := autodiff.New(cpu.New())
	src, srcOpt := build(t, backend, 1)
	srcOpt.Step(onesGrads(t, src))

	path := filepath.Join(t.TempDir(), "w.born")
	_, err := checkpoint.Save[testBackend](path, src, srcOpt, checkpoint.State{Epoch: 3, Step: 9})
	require.NoError(t, err)

	dst, _ := build(t, backend, 2)
	st, err := checkpoint.Load[testBackend](path, backend, dst, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Epoch)
}

func TestLoad_MissingMetadata(t *testing.T) {
	backend := autodiff.New(cpu.New())
	src, _ := build(t, backend, 1)

	path := filepath.Join(t.TempDir(), "plain.born")
	require.NoError(t, nn.Save[testBackend](src, path, "Dense", nil))

	dst, _ := build(t, backend, 2)
	_, err := checkpoint.Load[testBackend](path, backend, dst, nil)
	assert.True(t, errors.Is(err, checkpoint.ErrMetadata))
}

func TestHistory_RoundTrip(t *testing.T) {
	h := &metrics.History{RunID: "abc"}
	h.Append(
		metrics.Snapshot{"train/loss": 2.5, "train/accuracy": 0.25},
		metrics.Snapshot{"test/accuracy": 0.5, "test/ece": 0.125},
	)
	h.Append(
		metrics.Snapshot{"train/loss": 1.5, "train/accuracy": 0.5},
		metrics.Snapshot{"test/accuracy": 0.75, "test/ece": 0.0625},
	)

	path := checkpoint.HistoryPath(t.TempDir())
	require.NoError(t, checkpoint.SaveHistory(path, h))

	got, err := checkpoint.LoadHistory(path)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestLoadHistory_Missing(t *testing.T) {
	_, err := checkpoint.LoadHistory(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
