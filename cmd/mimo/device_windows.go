//go:build windows

package main

import (
	"context"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/backend/webgpu"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/config"
)

func trainOnDevice(ctx context.Context, cfg config.Config, resume string, logger logr.Logger) error {
	if cfg.Device != "webgpu" {
		return trainWith(ctx, cfg, autodiff.New(cpu.New()), resume, logger)
	}
	if !webgpu.IsAvailable() {
		return errors.New("webgpu requested but no adapter is available")
	}
	gpu, err := webgpu.New()
	if err != nil {
		return errors.Wrap(err, "create webgpu backend")
	}
	defer gpu.Release()
	logger.Info("Using WebGPU backend")
	return trainWith(ctx, cfg, autodiff.New(gpu), resume, logger)
}
