package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/mimo/internal/checkpoint"
	"github.com/born-ml/mimo/internal/config"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "mimo "+version)
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"serve"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "serve"`)
}

func TestTrainFlags_Apply(t *testing.T) {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	var f trainFlags
	f.register(fs)
	require.NoError(t, fs.Parse([]string{"-epochs", "3", "-batch-size", "64", "-seed", "9"}))

	cfg := config.Default()
	f.apply(fs, &cfg)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 64, cfg.TestBatchSize)
	assert.Equal(t, uint64(9), cfg.Seed)
	// Unset flags keep their configured values.
	assert.Equal(t, 3, cfg.Ensemble)
	assert.Equal(t, "cifar10", cfg.Dataset)
}

func TestRun_TrainSynthetic(t *testing.T) {
	out := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
dataset: synthetic
synthetic_train: 32
synthetic_test: 16
model: dense
hidden: 8
plot: false
`), 0o600))

	var stdout, stderr bytes.Buffer
	code := run([]string{"train",
		"-config", cfgPath,
		"-epochs", "1",
		"-batch-size", "16",
		"-ensemble", "2",
		"-out", out,
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	for _, path := range []string{checkpoint.FinalPath(out), checkpoint.HistoryPath(out)} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
}

func TestRun_TrainInvalidConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"train", "-ensemble", "0", "-out", t.TempDir()}, &stdout, &stderr))
}
