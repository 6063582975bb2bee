//go:build nonvml
// +build nonvml

package telemetry

import (
	"context"
	"errors"
)

// nvmlSource stub for builds without NVML (CI, non-NVIDIA hosts).
// The provider falls through to the nvidia-smi source.
type nvmlSource struct {
	logger Logger
}

func newNVMLSource(logger Logger) Source {
	return &nvmlSource{logger: logger}
}

func (s *nvmlSource) Name() string { return "nvml" }

func (s *nvmlSource) Available() bool { return false }

func (s *nvmlSource) Count(ctx context.Context) (int, error) {
	return 0, errors.New("nvml support not compiled in")
}

func (s *nvmlSource) Status(ctx context.Context, gpuID int) (*GPUStatus, error) {
	return nil, errors.New("nvml support not compiled in")
}
