// Package train drives MIMO training: per-batch view composition, the
// tape-recorded forward and backward pass, the regularised update, metric
// bookkeeping and the epoch loop with checkpoints.
//
// A Trainer is not safe for concurrent use.
package train

import (
	"math/rand/v2"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/tensor"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/batch"
	"github.com/born-ml/mimo/internal/config"
	"github.com/born-ml/mimo/internal/loss"
	"github.com/born-ml/mimo/internal/metrics"
	"github.com/born-ml/mimo/internal/model"
	"github.com/born-ml/mimo/internal/optim"
)

var (
	// ErrShapeMismatch reports logits or a composed batch that do not match the model.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrNonFinite reports a NaN or infinite loss. The update is skipped.
	ErrNonFinite = errors.New("non-finite loss")
)

// Backend is an engine backend that records operations on a gradient tape.
type Backend interface {
	tensor.Backend
	Tape() *autodiff.GradientTape
}

// Option configures a Trainer.
type Option func(*options)

type options struct {
	log       logr.Logger
	runID     string
	optimizer optim.Optimizer
	schedule  optim.Schedule
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRunID fixes the run identifier. The default is a fresh UUID.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithOptimizer replaces the optimizer built from the config.
func WithOptimizer(opt optim.Optimizer) Option {
	return func(o *options) { o.optimizer = opt }
}

// WithSchedule replaces the warmup-piecewise schedule built from the config.
func WithSchedule(s optim.Schedule) Option {
	return func(o *options) { o.schedule = s }
}

// StepResult is the outcome of one train or eval step.
type StepResult struct {
	NLL     float64 // summed over members, averaged over rows
	Penalty float64 // zero for eval steps
	Loss    float64 // NLL + Penalty
	LR      float64 // rate used by the update; zero for eval steps
	Rows    int
}

// Trainer owns the optimisation state of one run.
type Trainer[B Backend] struct {
	cfg       config.Config
	backend   B
	model     model.Model[B]
	optimizer optim.Optimizer
	schedule  optim.Schedule
	objective *loss.Objective[B]
	composer  batch.Composer
	sampler   *rand.PCG // state behind rng, saved in checkpoints
	rng       *rand.Rand
	log       logr.Logger
	runID     string

	trainMetrics *metrics.Split
	testMetrics  *metrics.Split
	history      *metrics.History

	step  int // global optimizer steps
	epoch int // completed epochs

	skipPasses int // stream passes to fast-forward before the next Run
}

// New prepares a Trainer for m. stepsPerEpoch converts the global step into
// the fractional epoch the learning-rate schedule is defined on.
func New[B Backend](cfg config.Config, m model.Model[B], stepsPerEpoch int, backend B, opts ...Option) (*Trainer[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m.Ensemble() != cfg.Ensemble {
		return nil, errors.Wrapf(ErrShapeMismatch, "model has %d members, config %d", m.Ensemble(), cfg.Ensemble)
	}

	o := options{log: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if o.optimizer == nil {
		o.optimizer = newOptimizer(cfg, m, backend)
	}
	if o.schedule == nil {
		o.schedule = optim.WarmUpPiecewiseConstant{
			StepsPerEpoch: stepsPerEpoch,
			BaseLR:        cfg.BaseLR,
			DecayRatio:    cfg.LRDecayRatio,
			DecayEpochs:   cfg.LRDecayEpochs,
			WarmupEpochs:  cfg.WarmupEpochs,
		}
	}

	sampler := rand.NewPCG(cfg.Seed, 0x7669657773)
	return &Trainer[B]{
		cfg:          cfg,
		backend:      backend,
		model:        m,
		optimizer:    o.optimizer,
		schedule:     o.schedule,
		objective:    loss.New(cfg.L2, backend),
		composer:     batch.NewComposer(m.NumClasses()),
		sampler:      sampler,
		rng:          rand.New(sampler),
		log:          o.log,
		runID:        o.runID,
		trainMetrics: metrics.NewTrainSplit(cfg.ECEBins),
		testMetrics:  metrics.NewTestSplit(cfg.ECEBins),
		history:      &metrics.History{RunID: o.runID},
	}, nil
}

func newOptimizer[B Backend](cfg config.Config, m model.Model[B], backend B) optim.Optimizer {
	if cfg.Optimizer == "adam" {
		return optim.NewAdam(m.Parameters(), optim.AdamConfig{LR: float32(cfg.BaseLR)}, backend)
	}
	return optim.NewSGD(m.Parameters(), optim.SGDConfig{
		LR:       float32(cfg.BaseLR),
		Momentum: float32(cfg.Momentum),
		Nesterov: cfg.Nesterov,
	}, backend)
}

// Model returns the trained model.
func (t *Trainer[B]) Model() model.Model[B] { return t.model }

// Optimizer returns the optimizer.
func (t *Trainer[B]) Optimizer() optim.Optimizer { return t.optimizer }

// RunID returns the run identifier written to checkpoints and the history.
func (t *Trainer[B]) RunID() string { return t.runID }

// Step returns the number of optimizer steps taken.
func (t *Trainer[B]) Step() int { return t.step }

// Epoch returns the number of completed epochs.
func (t *Trainer[B]) Epoch() int { return t.epoch }

// TrainMetrics returns the live train trackers.
func (t *Trainer[B]) TrainMetrics() *metrics.Split { return t.trainMetrics }

// TestMetrics returns the live test trackers.
func (t *Trainer[B]) TestMetrics() *metrics.Split { return t.testMetrics }

// History returns the per-epoch record so far.
func (t *Trainer[B]) History() *metrics.History { return t.history }
