// Package telemetry provides per-GPU hardware telemetry abstractions.
// It implements the Provider Pattern with a primary native source (NVML)
// and a secondary subprocess source (nvidia-smi), so telemetry degrades
// gracefully when one backend is unavailable.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrHardwareQuery indicates that no telemetry source could answer a query.
// Callers can match it with errors.Is.
var ErrHardwareQuery = errors.New("hardware query failed")

// Source is a single telemetry backend for one GPU vendor interface.
type Source interface {
	// Name returns the source's name (e.g., "nvml", "nvidia-smi")
	Name() string

	// Available checks if the source can answer queries on this system.
	// This should be a lightweight check (e.g., command existence).
	Available() bool

	// Count returns the number of physical GPUs visible to this source.
	Count(ctx context.Context) (int, error)

	// Status returns a fresh snapshot for one GPU.
	Status(ctx context.Context, gpuID int) (*GPUStatus, error)
}

// ProcessLister is implemented by sources that can enumerate the compute
// processes resident on a GPU. The secondary source fills this in when the
// primary cannot.
type ProcessLister interface {
	Processes(ctx context.Context, gpuID int) ([]GPUProcess, error)
}

// Logger interface for telemetry package logging.
// This avoids a direct dependency on internal/logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Warnf(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}

// Config contains configuration for the telemetry provider.
type Config struct {
	// SMIPath is the nvidia-smi binary to shell out to (default "nvidia-smi")
	SMIPath string
	// QueryTimeout bounds a single subprocess query
	QueryTimeout time.Duration
	// Logger for logging (optional)
	Logger Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SMIPath:      "nvidia-smi",
		QueryTimeout: 5 * time.Second,
	}
}

// Provider answers GPU telemetry queries, preferring the primary source and
// falling back to the secondary for failed queries or missing fields.
type Provider struct {
	primary   Source
	secondary Source
	logger    Logger

	countMu sync.Mutex
	count   int
}

// NewProvider creates a provider with the standard source pair:
// NVML primary, nvidia-smi secondary.
func NewProvider(cfg *Config) *Provider {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	smiPath := cfg.SMIPath
	if smiPath == "" {
		smiPath = "nvidia-smi"
	}
	timeout := cfg.QueryTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Provider{
		primary:   newNVMLSource(logger),
		secondary: newSMISource(smiPath, timeout, logger),
		logger:    logger,
	}
}

// NewProviderWithSources creates a provider over explicit sources.
// Used for injecting test doubles.
func NewProviderWithSources(primary, secondary Source, logger Logger) *Provider {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Provider{primary: primary, secondary: secondary, logger: logger}
}

// Count returns the number of physical GPUs. The first successful answer is
// cached: the physical population does not change at runtime. Safe for
// concurrent use.
func (p *Provider) Count(ctx context.Context) (int, error) {
	p.countMu.Lock()
	defer p.countMu.Unlock()

	if p.count > 0 {
		return p.count, nil
	}

	for _, src := range p.sources() {
		if !src.Available() {
			continue
		}
		n, err := src.Count(ctx)
		if err != nil {
			p.logger.Debugf("GPU count via %s failed: %v", src.Name(), err)
			continue
		}
		p.count = n
		return n, nil
	}

	return 0, fmt.Errorf("%w: no telemetry source available", ErrHardwareQuery)
}

// Status returns a fresh snapshot for one GPU. The primary source is queried
// first; on failure or an incomplete answer the secondary fills in. If both
// sources fail the error wraps ErrHardwareQuery.
func (p *Provider) Status(ctx context.Context, gpuID int) (*GPUStatus, error) {
	var lastErr error

	for _, src := range p.sources() {
		if !src.Available() {
			continue
		}

		status, err := src.Status(ctx, gpuID)
		if err != nil {
			p.logger.Warnf("GPU %d status via %s failed: %v", gpuID, src.Name(), err)
			lastErr = err
			continue
		}
		if status.MemoryTotal <= 0 {
			// Incomplete answer, try the next source
			p.logger.Debugf("GPU %d status via %s incomplete", gpuID, src.Name())
			lastErr = fmt.Errorf("incomplete status from %s", src.Name())
			continue
		}

		p.fillProcesses(ctx, status, src)
		return status, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w for gpu %d: %v", ErrHardwareQuery, gpuID, lastErr)
	}
	return nil, fmt.Errorf("%w for gpu %d: no telemetry source available", ErrHardwareQuery, gpuID)
}

// AllStatuses returns snapshots for GPUs 0..N-1 in physical order. A single
// GPU's failure never aborts the sweep: that GPU's entry is omitted and the
// failure logged.
func (p *Provider) AllStatuses(ctx context.Context) ([]GPUStatus, error) {
	count, err := p.Count(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]GPUStatus, 0, count)
	for i := 0; i < count; i++ {
		status, err := p.Status(ctx, i)
		if err != nil {
			p.logger.Errorf("Skipping GPU %d in status sweep: %v", i, err)
			continue
		}
		statuses = append(statuses, *status)
	}

	return statuses, nil
}

// fillProcesses backfills the process list from the secondary source when the
// answering source could not provide one.
func (p *Provider) fillProcesses(ctx context.Context, status *GPUStatus, answered Source) {
	if len(status.Processes) > 0 || answered == p.secondary {
		return
	}
	lister, ok := p.secondary.(ProcessLister)
	if !ok || !p.secondary.Available() {
		return
	}
	procs, err := lister.Processes(ctx, status.GPUID)
	if err != nil {
		p.logger.Debugf("GPU %d process list failed: %v", status.GPUID, err)
		return
	}
	status.Processes = procs
}

func (p *Provider) sources() []Source {
	out := make([]Source, 0, 2)
	if p.primary != nil {
		out = append(out, p.primary)
	}
	if p.secondary != nil {
		out = append(out, p.secondary)
	}
	return out
}
