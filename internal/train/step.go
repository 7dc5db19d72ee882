package train

import (
	"slices"

	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/batch"
	"github.com/born-ml/mimo/internal/loss"
)

// TrainStep runs one regularised update on a composed batch and feeds the
// train metrics.
//
// The forward pass is recorded on the backend's tape, backpropagated with a
// seed of M, and the analytic L2 gradient is added before the optimizer
// step. A non-finite loss returns ErrNonFinite with the weights untouched.
func (t *Trainer[B]) TrainStep(c *batch.Composed) (StepResult, error) {
	x, err := t.input(c)
	if err != nil {
		return StepResult{}, err
	}
	t.model.SetTraining(true)

	tape := t.backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	logits := t.model.Forward(x)
	if err := checkLogits(logits, c); err != nil {
		return StepResult{}, err
	}
	_, nll, err := t.objective.NLL(logits, c.Labels)
	if err != nil {
		return StepResult{}, err
	}
	penalty, total := t.objective.Total(nll, t.model)
	if !loss.Finite(total) {
		return StepResult{}, errors.Wrapf(ErrNonFinite, "step %d: nll %v, penalty %v", t.step, nll, penalty)
	}

	seed, err := t.objective.Seed(c.Ensemble)
	if err != nil {
		return StepResult{}, err
	}
	grads := tape.Backward(seed, t.backend)
	tape.StopRecording()
	if err := t.objective.AddPenaltyGrad(t.model, grads); err != nil {
		return StepResult{}, err
	}

	lr := t.schedule.LR(t.step)
	t.optimizer.SetLR(float32(lr))
	t.optimizer.Step(grads)
	t.step++

	probs := loss.Softmax(logits.Raw().AsFloat32(), c.Classes)
	if err := t.trainMetrics.UpdatePredictions(c.Labels, probs); err != nil {
		return StepResult{}, errors.Wrap(err, "train metrics")
	}
	t.trainMetrics.NLL.Add(nll)
	t.trainMetrics.Loss.Add(total)

	if t.cfg.LogEvery > 0 && t.step%t.cfg.LogEvery == 0 {
		t.log.V(1).Info("step", "step", t.step, "loss", total, "nll", nll, "lr", lr)
	}
	return StepResult{NLL: nll, Penalty: penalty, Loss: total, LR: lr, Rows: c.Rows}, nil
}

// Objective returns the total loss on c in training mode without updating
// the weights or the metrics. Batch-norm running statistics still move.
func (t *Trainer[B]) Objective(c *batch.Composed) (float64, error) {
	x, err := t.input(c)
	if err != nil {
		return 0, err
	}
	t.model.SetTraining(true)

	var total float64
	err = t.withoutRecording(func() error {
		logits := t.model.Forward(x)
		if err := checkLogits(logits, c); err != nil {
			return err
		}
		_, nll, err := t.objective.NLL(logits, c.Labels)
		if err != nil {
			return err
		}
		_, total = t.objective.Total(nll, t.model)
		return nil
	})
	return total, err
}

// EvalStep scores b with every member seeing every example and feeds the
// test metrics. Weights are not changed.
func (t *Trainer[B]) EvalStep(b batch.Batch) (StepResult, error) {
	c, err := t.composer.ComposeEval(b, t.model.Ensemble())
	if err != nil {
		return StepResult{}, err
	}
	x, err := t.input(c)
	if err != nil {
		return StepResult{}, err
	}
	t.model.SetTraining(false)

	var res StepResult
	err = t.withoutRecording(func() error {
		logits := t.model.Forward(x)
		if err := checkLogits(logits, c); err != nil {
			return err
		}
		_, nll, err := t.objective.NLL(logits, c.Labels)
		if err != nil {
			return err
		}
		if !loss.Finite(nll) {
			return errors.Wrapf(ErrNonFinite, "eval nll %v", nll)
		}

		probs := loss.Softmax(logits.Raw().AsFloat32(), c.Classes)
		if err := t.testMetrics.UpdatePredictions(c.Labels, probs); err != nil {
			return errors.Wrap(err, "test metrics")
		}
		t.testMetrics.NLL.Add(nll)
		res = StepResult{NLL: nll, Loss: nll, Rows: c.Rows}
		return nil
	})
	return res, err
}

// input checks c against the model and uploads its images.
func (t *Trainer[B]) input(c *batch.Composed) (*tensor.Tensor[float32, B], error) {
	if c.Ensemble != t.model.Ensemble() || c.Classes != t.model.NumClasses() {
		return nil, errors.Wrapf(ErrShapeMismatch, "batch has %d members x %d classes, model %d x %d",
			c.Ensemble, c.Classes, t.model.Ensemble(), t.model.NumClasses())
	}
	if !slices.Equal(c.Dims, t.model.InputDims()) {
		return nil, errors.Wrapf(ErrShapeMismatch, "examples %v, model expects %v", c.Dims, t.model.InputDims())
	}
	if c.Rows == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "empty batch")
	}
	x, err := tensor.FromSlice(c.Images, tensor.Shape(c.Shape()), t.backend)
	return x, errors.Wrap(err, "upload batch")
}

func (t *Trainer[B]) withoutRecording(f func() error) error {
	tape := t.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()
	return f()
}

func checkLogits[B tensor.Backend](logits *tensor.Tensor[float32, B], c *batch.Composed) error {
	want := tensor.Shape{c.Rows, c.Ensemble, c.Classes}
	if !logits.Shape().Equal(want) {
		return errors.Wrapf(ErrShapeMismatch, "logits %v, want %v", logits.Shape(), want)
	}
	return nil
}
