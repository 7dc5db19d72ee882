package main

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/born-ml/mimo/internal/config"
	"github.com/born-ml/mimo/internal/dataset"
	"github.com/born-ml/mimo/internal/model"
	"github.com/born-ml/mimo/internal/report"
	"github.com/born-ml/mimo/internal/train"
)

// trainWith runs a full training session on backend.
func trainWith[B train.Backend](ctx context.Context, cfg config.Config, backend B, resume string, logger logr.Logger) error {
	ds, err := dataset.Load(cfg)
	if err != nil {
		return err
	}
	logger.Info("Dataset loaded", "name", ds.Name,
		"train", ds.TrainSize, "test", ds.TestSize, "classes", ds.NumClasses, "shape", ds.InputShape)

	m, err := model.Build(cfg, ds.InputShape, ds.NumClasses, backend)
	if err != nil {
		return err
	}
	logger.Info("Model built", "summary", report.Summary(m.Kind(), m.Ensemble(), m.NumClasses(), m.NumParameters()))

	tr, err := train.New(cfg, m, cfg.StepsPerEpoch(ds.TrainSize), backend, train.WithLogger(logger))
	if err != nil {
		return err
	}
	if resume != "" {
		if err := tr.Resume(resume); err != nil {
			return err
		}
	}

	h, err := tr.Run(ctx, ds.Train, ds.Test)
	if err != nil {
		return err
	}
	if n := h.Epochs(); n > 0 {
		logger.Info("Training finished", "run", h.RunID, "epochs", n,
			"test/accuracy", h.Test[n-1]["test/accuracy"], "test/ece", h.Test[n-1]["test/ece"])
	}
	return nil
}
