// Package config holds the run configuration shared by every training component.
//
// A Config is built once (defaults, then an optional YAML file, then CLI
// overrides) and passed explicitly; no component reads process-wide state.
package config

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid config")

// Config describes one training run.
type Config struct {
	// Data.
	Dataset        string `yaml:"dataset"`
	DataDir        string `yaml:"data_dir"`
	BatchSize      int    `yaml:"batch_size"`
	TestBatchSize  int    `yaml:"test_batch_size"`
	ShuffleTest    bool   `yaml:"shuffle_test"`
	SyntheticTrain int    `yaml:"synthetic_train"`
	SyntheticTest  int    `yaml:"synthetic_test"`

	// Ensemble and architecture.
	Model    string  `yaml:"model"`
	Ensemble int     `yaml:"ensemble"`
	Depth    int     `yaml:"depth"`
	Width    int     `yaml:"width"`
	Hidden   int     `yaml:"hidden"`
	Dropout  float64 `yaml:"dropout"`

	// Input repetition.
	BatchRepetitions           int     `yaml:"batch_repetitions"`
	InputRepetitionProbability float64 `yaml:"input_repetition_probability"`

	// Optimization.
	Optimizer     string  `yaml:"optimizer"`
	BaseLR        float64 `yaml:"base_lr"`
	LRDecayRatio  float64 `yaml:"lr_decay_ratio"`
	LRDecayEpochs []int   `yaml:"lr_decay_epochs"`
	WarmupEpochs  int     `yaml:"lr_warmup_epochs"`
	Momentum      float64 `yaml:"momentum"`
	Nesterov      bool    `yaml:"nesterov"`
	L2            float64 `yaml:"l2"`
	Epochs        int     `yaml:"epochs"`

	// Metrics and output.
	ECEBins         int    `yaml:"ece_bins"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	LogEvery        int    `yaml:"log_every"`
	OutputDir       string `yaml:"output_dir"`
	Plot            bool   `yaml:"plot"`

	Device string `yaml:"device"`
	Seed   uint64 `yaml:"seed"`
}

// Default returns the reference CIFAR-10 MIMO WRN-28-10 configuration.
func Default() Config {
	return Config{
		Dataset:        "cifar10",
		DataDir:        "data",
		BatchSize:      512,
		TestBatchSize:  512,
		ShuffleTest:    true,
		SyntheticTrain: 1024,
		SyntheticTest:  256,

		Model:    "wrn",
		Ensemble: 3,
		Depth:    28,
		Width:    10,
		Hidden:   64,

		BatchRepetitions: 1,

		Optimizer:     "sgd",
		BaseLR:        0.1,
		LRDecayRatio:  0.1,
		LRDecayEpochs: []int{80, 160, 180},
		WarmupEpochs:  1,
		Momentum:      0.9,
		Nesterov:      true,
		L2:            3e-4,
		Epochs:        250,

		ECEBins:         15,
		CheckpointEvery: 50,
		LogEvery:        50,
		OutputDir:       ".",
		Plot:            true,

		Device: "cpu",
	}
}

// Load reads a YAML file on top of Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	return out, errors.Wrap(err, "marshal config")
}

// Validate checks ranges and cross-field constraints.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "batch_size must be positive, got %d", c.BatchSize)
	case c.TestBatchSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "test_batch_size must be positive, got %d", c.TestBatchSize)
	case c.Ensemble < 1:
		return errors.Wrapf(ErrInvalidConfig, "ensemble must be >= 1, got %d", c.Ensemble)
	case c.BatchRepetitions < 1:
		return errors.Wrapf(ErrInvalidConfig, "batch_repetitions must be >= 1, got %d", c.BatchRepetitions)
	case c.InputRepetitionProbability < 0 || c.InputRepetitionProbability > 1:
		return errors.Wrapf(ErrInvalidConfig, "input_repetition_probability %v outside [0,1]", c.InputRepetitionProbability)
	case c.Dropout < 0 || c.Dropout >= 1:
		return errors.Wrapf(ErrInvalidConfig, "dropout %v outside [0,1)", c.Dropout)
	case c.BaseLR <= 0 || math.IsNaN(c.BaseLR):
		return errors.Wrapf(ErrInvalidConfig, "base_lr must be positive, got %v", c.BaseLR)
	case c.LRDecayRatio <= 0:
		return errors.Wrapf(ErrInvalidConfig, "lr_decay_ratio must be positive, got %v", c.LRDecayRatio)
	case c.WarmupEpochs < 0:
		return errors.Wrapf(ErrInvalidConfig, "lr_warmup_epochs must be >= 0, got %d", c.WarmupEpochs)
	case c.Momentum < 0 || c.Momentum >= 1:
		return errors.Wrapf(ErrInvalidConfig, "momentum %v outside [0,1)", c.Momentum)
	case c.L2 < 0:
		return errors.Wrapf(ErrInvalidConfig, "l2 must be >= 0, got %v", c.L2)
	case c.Epochs <= 0:
		return errors.Wrapf(ErrInvalidConfig, "epochs must be positive, got %d", c.Epochs)
	case c.ECEBins <= 0:
		return errors.Wrapf(ErrInvalidConfig, "ece_bins must be positive, got %d", c.ECEBins)
	case c.CheckpointEvery < 0:
		return errors.Wrapf(ErrInvalidConfig, "checkpoint_every must be >= 0, got %d", c.CheckpointEvery)
	}

	for i := 1; i < len(c.LRDecayEpochs); i++ {
		if c.LRDecayEpochs[i] <= c.LRDecayEpochs[i-1] {
			return errors.Wrapf(ErrInvalidConfig, "lr_decay_epochs must be increasing, got %v", c.LRDecayEpochs)
		}
	}

	switch c.Model {
	case "wrn":
		if c.Depth < 10 || (c.Depth-4)%6 != 0 {
			return errors.Wrapf(ErrInvalidConfig, "wrn depth must be 6n+4 and >= 10, got %d", c.Depth)
		}
		if c.Width < 1 {
			return errors.Wrapf(ErrInvalidConfig, "wrn width must be >= 1, got %d", c.Width)
		}
	case "dense":
		if c.Hidden < 1 {
			return errors.Wrapf(ErrInvalidConfig, "hidden must be >= 1, got %d", c.Hidden)
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown model %q", c.Model)
	}

	switch c.Optimizer {
	case "sgd", "adam":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown optimizer %q", c.Optimizer)
	}

	switch c.Device {
	case "cpu", "webgpu":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown device %q", c.Device)
	}
	return nil
}

// StepsPerEpoch is the number of optimizer steps one pass over trainSize examples takes.
func (c Config) StepsPerEpoch(trainSize int) int {
	return max(trainSize/c.BatchSize, 1)
}
