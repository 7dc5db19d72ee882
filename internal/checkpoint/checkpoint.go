// Package checkpoint persists training state under a run's output directory.
//
// Layout:
//
//	<out>/weights/weights_<epoch>.born   periodic snapshots
//	<out>/weights/final_weights.born     end of run
//	<out>/metrics/metrics_evo.json       per-epoch metric history
//
// Weight files use Born's .born format. Optimizer buffers are stored in the
// same file under an "optimizer." prefix, and the training position goes in
// the header metadata, so one file is enough to resume.
package checkpoint

import (
	"encoding/hex"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/optim"
)

const (
	weightsDir      = "weights"
	metricsDir      = "metrics"
	optimizerPrefix = "optimizer."
	modelType       = "MIMO"
)

// Metadata keys written to the .born header.
const (
	keyEpoch     = "epoch"
	keyStep      = "step"
	keyRunID     = "run_id"
	keyKind      = "kind"
	keyOptimizer = "optimizer"
	keySampler   = "sampler"
)

// ErrMetadata is returned when a weights file lacks the training position.
var ErrMetadata = errors.New("checkpoint metadata")

// State is the training position stored alongside the weights.
type State struct {
	Epoch     int // completed epochs
	Step      int // global optimizer steps
	RunID     string
	Kind      string // model kind, e.g. "wrn-28-10"
	Optimizer string
	Sampler   []byte // view generator state; nil when not recorded
}

// WeightsPath returns the periodic checkpoint path for a completed-epoch count.
func WeightsPath(out string, epoch int) string {
	return filepath.Join(out, weightsDir, fmt.Sprintf("weights_%d.born", epoch))
}

// FinalPath returns the end-of-run weights path.
func FinalPath(out string) string {
	return filepath.Join(out, weightsDir, "final_weights.born")
}

// MetricsDir returns the directory holding the history and its plots.
func MetricsDir(out string) string {
	return filepath.Join(out, metricsDir)
}

// HistoryPath returns the metric history path.
func HistoryPath(out string) string {
	return filepath.Join(MetricsDir(out), "metrics_evo.json")
}

// bundle presents a model and its optimizer as one module to nn.Save/nn.Load.
type bundle[B tensor.Backend] struct {
	nn.Module[B]
	opt optim.Optimizer
}

func (b bundle[B]) StateDict() map[string]*tensor.RawTensor {
	state := maps.Clone(b.Module.StateDict())
	if b.opt != nil {
		for name, raw := range b.opt.StateDict() {
			state[optimizerPrefix+name] = raw
		}
	}
	return state
}

func (b bundle[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	weights := make(map[string]*tensor.RawTensor, len(state))
	buffers := make(map[string]*tensor.RawTensor)
	for name, raw := range state {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			buffers[rest] = raw
			continue
		}
		weights[name] = raw
	}
	if err := b.Module.LoadStateDict(weights); err != nil {
		return errors.Wrap(err, "model state")
	}
	if b.opt == nil {
		return nil
	}
	return errors.Wrap(b.opt.LoadStateDict(buffers), "optimizer state")
}

// Save writes the model, the optimizer buffers (opt may be nil) and st to
// path, creating parent directories. It returns the file size in bytes.
func Save[B tensor.Backend](path string, m nn.Module[B], opt optim.Optimizer, st State) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errors.Wrap(err, "create checkpoint dir")
	}
	meta := map[string]string{
		keyEpoch:     strconv.Itoa(st.Epoch),
		keyStep:      strconv.Itoa(st.Step),
		keyRunID:     st.RunID,
		keyKind:      st.Kind,
		keyOptimizer: st.Optimizer,
	}
	if st.Sampler != nil {
		meta[keySampler] = hex.EncodeToString(st.Sampler)
	}
	if err := nn.Save[B](bundle[B]{Module: m, opt: opt}, path, modelType, meta); err != nil {
		return 0, errors.Wrapf(err, "save %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrap(err, "stat checkpoint")
	}
	return info.Size(), nil
}

// Load restores m and opt (which may be nil) from path in place and
// returns the stored training position.
func Load[B tensor.Backend](path string, backend B, m nn.Module[B], opt optim.Optimizer) (State, error) {
	header, err := nn.Load[B](path, backend, bundle[B]{Module: m, opt: opt})
	if err != nil {
		return State{}, errors.Wrapf(err, "load %s", path)
	}

	st := State{
		RunID:     header.Metadata[keyRunID],
		Kind:      header.Metadata[keyKind],
		Optimizer: header.Metadata[keyOptimizer],
	}
	if st.Epoch, err = atoi(header.Metadata, keyEpoch); err != nil {
		return State{}, err
	}
	if st.Step, err = atoi(header.Metadata, keyStep); err != nil {
		return State{}, err
	}
	if v, ok := header.Metadata[keySampler]; ok {
		if st.Sampler, err = hex.DecodeString(v); err != nil {
			return State{}, errors.Wrapf(ErrMetadata, "%s=%q", keySampler, v)
		}
	}
	return st, nil
}

func atoi(meta map[string]string, key string) (int, error) {
	v, ok := meta[key]
	if !ok {
		return 0, errors.Wrapf(ErrMetadata, "missing %q", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(ErrMetadata, "%s=%q", key, v)
	}
	return n, nil
}
