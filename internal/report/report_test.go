package report_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mimo/internal/metrics"
	"github.com/born-ml/mimo/internal/report"
)

func TestPlot_OneFilePerMetric(t *testing.T) {
	h := &metrics.History{}
	for i := range 3 {
		v := 1 / float64(i+1)
		h.Append(
			metrics.Snapshot{"train/loss": v, "train/accuracy": 1 - v},
			metrics.Snapshot{"test/accuracy": 1 - v/2},
		)
	}

	dir := filepath.Join(t.TempDir(), "metrics")
	paths, err := report.Plot(dir, h)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "accuracy.png"),
		filepath.Join(dir, "loss.png"),
	}, paths)

	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestPlot_EmptyHistory(t *testing.T) {
	paths, err := report.Plot(t.TempDir(), &metrics.History{})
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestParameters(t *testing.T) {
	assert.Equal(t, "36.4 M (36,479,194)", report.Parameters(36479194))
	assert.Equal(t, "87 (87)", report.Parameters(87))
}

func TestBytes(t *testing.T) {
	assert.Equal(t, "1.5 kB", report.Bytes(1500))
	assert.Equal(t, "0 B", report.Bytes(-1))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "dense, 2 members x 3 classes, 87 (87) parameters", report.Summary("dense", 2, 3, 87))
}
