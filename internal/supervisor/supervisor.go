// Package supervisor runs the periodic oversight loop: evict expired
// allocations, sweep telemetry for critical conditions, trigger the
// emergency protocol, and publish a digest of cluster state.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warden-project/warden/internal/allocator"
	"github.com/warden-project/warden/internal/emergency"
	"github.com/warden-project/warden/internal/hostmetrics"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/telemetry"
)

// TelemetrySource supplies GPU snapshots for each sweep.
type TelemetrySource interface {
	AllStatuses(ctx context.Context) ([]telemetry.GPUStatus, error)
}

// HostSource supplies host snapshots for each sweep.
type HostSource interface {
	Status(ctx context.Context) (*hostmetrics.SystemStatus, error)
}

// Publisher receives the digest and alert events. Implemented by the
// WebSocket hub.
type Publisher interface {
	Emit(eventType string, data interface{})
}

// GPUSummary is the per-GPU slice of a digest.
type GPUSummary struct {
	GPUID              int     `json:"gpu_id"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	Utilization        float64 `json:"utilization"`
	Temperature        float64 `json:"temperature"`
}

// Digest is the periodic cluster state summary.
type Digest struct {
	Timestamp         time.Time       `json:"timestamp"`
	CPUUsage          float64         `json:"cpu_usage"`
	SystemMemoryUsage float64         `json:"system_memory_usage"`
	GPUSummary        []GPUSummary    `json:"gpu_summary"`
	EmergencyStatus   emergency.State `json:"emergency_status"`
	ActiveAllocations int             `json:"active_allocations"`
}

// Supervisor drives the oversight loop.
type Supervisor struct {
	interval time.Duration
	gpus     TelemetrySource
	host     HostSource
	alloc    *allocator.Allocator
	protocol *emergency.Protocol
	pub      Publisher

	mu      sync.Mutex
	latest  *Digest
	running bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a supervisor. interval defaults to 5 seconds.
func New(interval time.Duration, gpus TelemetrySource, host HostSource, alloc *allocator.Allocator, protocol *emergency.Protocol, pub Publisher) *Supervisor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Supervisor{
		interval: interval,
		gpus:     gpus,
		host:     host,
		alloc:    alloc,
		protocol: protocol,
		pub:      pub,
	}
}

// Start launches the loop. The first sweep runs immediately.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
	logger.Info("supervisor started")
}

// Stop terminates the loop and waits for it to exit.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	logger.Info("supervisor stopped")
}

// Running reports whether the oversight loop is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LatestDigest returns the digest from the most recent sweep, or nil if
// no sweep has completed yet.
func (s *Supervisor) LatestDigest() *Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	cp := *s.latest
	cp.GPUSummary = append([]GPUSummary(nil), s.latest.GPUSummary...)
	return &cp
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one oversight pass. Individual failures are logged and the
// pass continues with what it has; a failing backend must not stop the
// loop.
func (s *Supervisor) sweep(ctx context.Context) {
	now := time.Now()

	if evicted := s.alloc.EvictExpired(ctx, now); len(evicted) > 0 {
		logger.Infof("evicted %d expired allocations", len(evicted))
		for _, a := range evicted {
			s.pub.Emit("deallocation", map[string]string{
				"allocation_id": a.ID,
				"component":     a.Component,
				"reason":        "expired",
			})
		}
	}

	statuses, err := s.gpus.AllStatuses(ctx)
	if err != nil {
		logger.GetLogger().WithError(err).Warnf("telemetry sweep failed")
		statuses = nil
	}
	sys, err := s.host.Status(ctx)
	if err != nil {
		logger.GetLogger().WithError(err).Warnf("host metrics sweep failed")
		sys = nil
	}

	s.publishAlerts(statuses)

	if len(statuses) > 0 || sys != nil {
		result := emergency.CheckConditions(statuses, sys)
		if result.Detected && !s.protocol.Active() {
			// Initiate blocks through the cooldown; run it off the loop
			go func() {
				if err := s.protocol.Initiate(ctx, result); err != nil && !errors.Is(err, emergency.ErrAlreadyActive) {
					logger.GetLogger().WithError(err).Errorf("emergency protocol failed")
				}
			}()
		}
	}

	digest := s.buildDigest(now, statuses, sys)
	s.mu.Lock()
	s.latest = &digest
	s.mu.Unlock()

	s.pub.Emit("digest", digest)
}

// publishAlerts broadcasts WARNING and CRITICAL health findings.
func (s *Supervisor) publishAlerts(statuses []telemetry.GPUStatus) {
	for i := range statuses {
		report := telemetry.CheckHealth(&statuses[i])
		if report.Healthy {
			continue
		}
		s.pub.Emit("alert", report)
	}
}

func (s *Supervisor) buildDigest(now time.Time, statuses []telemetry.GPUStatus, sys *hostmetrics.SystemStatus) Digest {
	digest := Digest{
		Timestamp:         now,
		GPUSummary:        make([]GPUSummary, 0, len(statuses)),
		EmergencyStatus:   s.protocol.State(),
		ActiveAllocations: s.alloc.Count(),
	}
	if sys != nil {
		digest.CPUUsage = sys.CPUUsage
		digest.SystemMemoryUsage = sys.MemoryUsage
	}
	for _, st := range statuses {
		digest.GPUSummary = append(digest.GPUSummary, GPUSummary{
			GPUID:              st.GPUID,
			MemoryUsagePercent: st.MemoryUsagePercent(),
			Utilization:        st.Utilization,
			Temperature:        st.Temperature,
		})
	}
	return digest
}
