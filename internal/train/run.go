package train

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/batch"
	"github.com/born-ml/mimo/internal/checkpoint"
	"github.com/born-ml/mimo/internal/dataset"
	"github.com/born-ml/mimo/internal/metrics"
	"github.com/born-ml/mimo/internal/report"
)

// TrainEpoch runs one pass over stream. Each batch gets fresh views, so the
// pairing of examples to members differs from step to step.
func (t *Trainer[B]) TrainEpoch(ctx context.Context, stream dataset.Stream) error {
	for b, err := range stream.Batches() {
		if err != nil {
			return errors.Wrap(err, "train stream")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		views, err := batch.ViewIndices(t.rng, b.Len(), t.model.Ensemble(),
			t.cfg.BatchRepetitions, t.cfg.InputRepetitionProbability)
		if err != nil {
			return err
		}
		c, err := t.composer.Compose(b, views)
		if err != nil {
			return err
		}
		if _, err := t.TrainStep(c); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs EvalStep over every batch of stream.
func (t *Trainer[B]) Evaluate(ctx context.Context, stream dataset.Stream) error {
	for b, err := range stream.Batches() {
		if err != nil {
			return errors.Wrap(err, "test stream")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.EvalStep(b); err != nil {
			return err
		}
	}
	return nil
}

// Run trains from the current epoch up to the configured count.
//
// After each epoch the train and test metrics are snapshotted into the
// history, which is rewritten to disk, and reset. Every CheckpointEvery
// completed epochs a weights file is written. At the end the final weights
// and, when enabled, the metric plots are written under the output
// directory. A cancelled ctx abandons the current epoch and skips the
// final writes.
func (t *Trainer[B]) Run(ctx context.Context, train, test dataset.Stream) (*metrics.History, error) {
	t.log.Info("starting training",
		"run", t.runID,
		"model", report.Summary(t.model.Kind(), t.model.Ensemble(), t.model.NumClasses(), t.model.NumParameters()),
		"epochs", t.cfg.Epochs,
		"fromEpoch", t.epoch,
		"trainExamples", train.Len(),
		"testExamples", test.Len())

	if t.skipPasses > 0 {
		for _, s := range []dataset.Stream{train, test} {
			if seeker, ok := s.(dataset.Seeker); ok {
				seeker.SkipPasses(t.skipPasses)
			}
		}
		t.skipPasses = 0
	}

	for t.epoch < t.cfg.Epochs {
		if err := t.TrainEpoch(ctx, train); err != nil {
			return t.history, errors.Wrapf(err, "epoch %d", t.epoch+1)
		}
		trainSnap := t.trainMetrics.Snapshot()
		t.trainMetrics.Reset()

		if err := t.Evaluate(ctx, test); err != nil {
			return t.history, errors.Wrapf(err, "epoch %d evaluation", t.epoch+1)
		}
		testSnap := t.testMetrics.Snapshot()
		t.testMetrics.Reset()

		t.epoch++
		t.history.Append(trainSnap, testSnap)
		t.log.Info("epoch done", append([]any{"epoch", t.epoch, "step", t.step},
			append(keysAndValues(trainSnap), keysAndValues(testSnap)...)...)...)
		if err := checkpoint.SaveHistory(checkpoint.HistoryPath(t.cfg.OutputDir), t.history); err != nil {
			return t.history, err
		}

		if every := t.cfg.CheckpointEvery; every > 0 && t.epoch%every == 0 {
			if err := t.save(checkpoint.WeightsPath(t.cfg.OutputDir, t.epoch)); err != nil {
				return t.history, err
			}
		}
	}

	if err := t.save(checkpoint.FinalPath(t.cfg.OutputDir)); err != nil {
		return t.history, err
	}
	if t.cfg.Plot {
		paths, err := report.Plot(checkpoint.MetricsDir(t.cfg.OutputDir), t.history)
		if err != nil {
			return t.history, err
		}
		t.log.V(1).Info("plots written", "files", paths)
	}
	return t.history, nil
}

// Resume restores weights, optimizer buffers, the training position and the
// view generator from a checkpoint written by Run. The run keeps the
// checkpoint's ID, and the history recorded next to it is picked up when it
// belongs to that run.
//
// The next Run fast-forwards streams implementing dataset.Seeker by the
// completed epochs, so example order matches an uninterrupted run. Dropout
// masks come from the model's own generator and are not restored.
func (t *Trainer[B]) Resume(path string) error {
	st, err := checkpoint.Load[B](path, t.backend, t.model, t.optimizer)
	if err != nil {
		return err
	}
	if st.Kind != "" && st.Kind != t.model.Kind() {
		return errors.Wrapf(ErrShapeMismatch, "checkpoint holds %s, model is %s", st.Kind, t.model.Kind())
	}
	t.epoch, t.step = st.Epoch, st.Step
	t.skipPasses = st.Epoch
	if st.Sampler != nil {
		if err := t.sampler.UnmarshalBinary(st.Sampler); err != nil {
			return errors.Wrap(err, "restore view generator")
		}
	}
	if st.RunID != "" {
		t.runID = st.RunID
	}

	t.history = &metrics.History{RunID: t.runID}
	if h, err := checkpoint.LoadHistory(checkpoint.HistoryPath(t.cfg.OutputDir)); err == nil && h.RunID == t.runID {
		h.Train = h.Train[:min(len(h.Train), t.epoch)]
		h.Test = h.Test[:min(len(h.Test), t.epoch)]
		t.history = h
	}
	t.log.Info("resumed", "path", path, "epoch", t.epoch, "step", t.step, "run", t.runID)
	return nil
}

func (t *Trainer[B]) save(path string) error {
	sampler, err := t.sampler.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "view generator state")
	}
	size, err := checkpoint.Save[B](path, t.model, t.optimizer, checkpoint.State{
		Epoch:     t.epoch,
		Step:      t.step,
		RunID:     t.runID,
		Kind:      t.model.Kind(),
		Optimizer: t.cfg.Optimizer,
		Sampler:   sampler,
	})
	if err != nil {
		return err
	}
	t.log.Info("checkpoint written", "path", path, "size", report.Bytes(size))
	return nil
}

func keysAndValues(s metrics.Snapshot) []any {
	kv := make([]any, 0, 2*len(s))
	for _, name := range s.Names() {
		kv = append(kv, name, s[name])
	}
	return kv
}
