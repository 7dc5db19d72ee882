//go:build !windows

package main

import (
	"context"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/born-ml/mimo/internal/config"
)

func trainOnDevice(ctx context.Context, cfg config.Config, resume string, logger logr.Logger) error {
	if cfg.Device == "webgpu" {
		return errors.New("the webgpu device is only available in windows builds")
	}
	return trainWith(ctx, cfg, autodiff.New(cpu.New()), resume, logger)
}
