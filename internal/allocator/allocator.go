// Package allocator arbitrates resource allocation requests against live
// telemetry and configured safety limits. All admission decisions are
// serialized, and granted-but-unobserved reservations are tracked so
// concurrent requests cannot oversubscribe a GPU between telemetry polls.
package allocator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/hostmetrics"
	"github.com/warden-project/warden/internal/journal"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/telemetry"
)

// TelemetrySource supplies live GPU state for admission checks.
type TelemetrySource interface {
	Count(ctx context.Context) (int, error)
	AllStatuses(ctx context.Context) ([]telemetry.GPUStatus, error)
}

// HostSource supplies live host state for admission checks.
type HostSource interface {
	Status(ctx context.Context) (*hostmetrics.SystemStatus, error)
}

// Allocator is the safety-limit-arbitrated resource ledger.
type Allocator struct {
	mu     sync.Mutex
	limits config.SafetyConfig
	gpus   TelemetrySource
	host   HostSource
	jrnl   journal.Store

	allocations map[string]*Allocation
	// Reservations granted since the last telemetry observation, tracked
	// separately because the driver has not reported them used yet.
	reservedVRAM   map[int]float64 // gpu id -> GB
	reservedHostGB float64

	hold bool
}

// New creates an allocator enforcing the given safety limits.
func New(limits config.SafetyConfig, gpus TelemetrySource, host HostSource, jrnl journal.Store) *Allocator {
	return &Allocator{
		limits:       limits,
		gpus:         gpus,
		host:         host,
		jrnl:         jrnl,
		allocations:  make(map[string]*Allocation),
		reservedVRAM: make(map[int]float64),
	}
}

// Allocate checks the request against live telemetry and the safety
// limits, and grants it if every limit holds. Admission is serialized.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*Allocation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hold {
		return nil, ErrEmergencyHold
	}

	if len(req.GPUIDs) > 0 {
		if err := a.checkGPULimits(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := a.checkHostLimits(ctx, req); err != nil {
		return nil, err
	}

	alloc := &Allocation{
		ID:             uuid.New().String(),
		Component:      req.Component,
		GPUIDs:         append([]int(nil), req.GPUIDs...),
		MemoryGB:       req.MemoryGB,
		CPUCores:       req.CPUCores,
		SystemMemoryGB: req.SystemMemoryGB,
		Priority:       req.Priority,
		Status:         StatusAllocated,
		CreatedAt:      time.Now(),
	}
	if req.TTLSeconds > 0 {
		exp := alloc.CreatedAt.Add(time.Duration(req.TTLSeconds) * time.Second)
		alloc.ExpiresAt = &exp
	}

	a.allocations[alloc.ID] = alloc
	for _, id := range alloc.GPUIDs {
		a.reservedVRAM[id] += alloc.MemoryGB
	}
	a.reservedHostGB += alloc.SystemMemoryGB

	a.record(ctx, journal.Record{
		Time:         alloc.CreatedAt,
		Kind:         journal.KindAllocated,
		AllocationID: alloc.ID,
		Component:    alloc.Component,
		Detail:       fmt.Sprintf("gpus=%v memory_gb=%.1f priority=%s", alloc.GPUIDs, alloc.MemoryGB, alloc.Priority),
	})

	logger.GetLogger().WithField("allocation_id", alloc.ID).
		WithField("component", alloc.Component).
		Infof("allocation granted: gpus=%v memory=%.1fGB priority=%s", alloc.GPUIDs, alloc.MemoryGB, alloc.Priority)

	cp := copyAllocation(alloc)
	return &cp, nil
}

// checkGPULimits verifies memory headroom, temperature and power draw on
// every requested GPU. Called with the lock held.
func (a *Allocator) checkGPULimits(ctx context.Context, req Request) error {
	count, err := a.gpus.Count(ctx)
	if err != nil {
		return fmt.Errorf("admission check: %w", err)
	}
	for _, id := range req.GPUIDs {
		if id >= count {
			// Out-of-range ids are a safety rejection, same as the
			// other per-GPU limit failures.
			return &SafetyError{
				Limit:  "gpu_range",
				Reason: fmt.Sprintf("GPU %d does not exist (have %d)", id, count),
			}
		}
	}

	statuses, err := a.gpus.AllStatuses(ctx)
	if err != nil {
		return fmt.Errorf("admission check: %w", err)
	}
	byID := make(map[int]telemetry.GPUStatus, len(statuses))
	var totalPower float64
	for _, st := range statuses {
		byID[st.GPUID] = st
		totalPower += st.PowerDraw
	}

	if a.limits.MaxTotalPower > 0 && totalPower > a.limits.MaxTotalPower {
		return &SafetyError{
			Limit:  "max_total_power",
			Reason: fmt.Sprintf("cluster draws %.0fW, limit %.0fW", totalPower, a.limits.MaxTotalPower),
		}
	}

	for _, id := range req.GPUIDs {
		st, ok := byID[id]
		if !ok {
			return &SafetyError{
				Limit:  "telemetry",
				Reason: fmt.Sprintf("GPU %d is not reporting status", id),
			}
		}
		if st.Temperature > a.limits.MaxGPUTemperature {
			return &SafetyError{
				Limit:  "max_gpu_temperature",
				Reason: fmt.Sprintf("GPU %d at %.0f°C, limit %.0f°C", id, st.Temperature, a.limits.MaxGPUTemperature),
			}
		}
		if a.limits.MaxPowerPerGPU > 0 && st.PowerDraw > a.limits.MaxPowerPerGPU {
			return &SafetyError{
				Limit:  "max_power_per_gpu",
				Reason: fmt.Sprintf("GPU %d draws %.0fW, limit %.0fW", id, st.PowerDraw, a.limits.MaxPowerPerGPU),
			}
		}
		if req.MemoryGB > 0 {
			headroom := a.vramHeadroomGB(st) - a.reservedVRAM[id]
			if req.MemoryGB > headroom {
				return &SafetyError{
					Limit:  "max_gpu_memory_percent",
					Reason: fmt.Sprintf("GPU %d has %.1fGB headroom, requested %.1fGB", id, headroom, req.MemoryGB),
				}
			}
		}
	}
	return nil
}

// vramHeadroomGB returns how much VRAM can still be granted on a GPU: the
// lesser of what the driver reports free and what the configured usage
// cap permits.
func (a *Allocator) vramHeadroomGB(st telemetry.GPUStatus) float64 {
	freeGB := st.MemoryFree / 1024
	capGB := st.MemoryTotal * a.limits.MaxGPUMemoryPercent / 100 / 1024
	usedGB := st.MemoryUsed / 1024
	underCap := capGB - usedGB
	if underCap < freeGB {
		return underCap
	}
	return freeGB
}

// checkHostLimits verifies the projected host memory usage stays under
// the configured cap. Called with the lock held.
func (a *Allocator) checkHostLimits(ctx context.Context, req Request) error {
	if req.SystemMemoryGB <= 0 {
		return nil
	}

	sys, err := a.host.Status(ctx)
	if err != nil {
		return fmt.Errorf("admission check: %w", err)
	}
	if sys.MemoryTotalGB <= 0 {
		return &SafetyError{Limit: "telemetry", Reason: "host memory total unknown"}
	}

	projected := sys.MemoryUsage + (req.SystemMemoryGB+a.reservedHostGB)/sys.MemoryTotalGB*100
	if projected > a.limits.MaxSystemMemoryPercent {
		return &SafetyError{
			Limit:  "max_system_memory_percent",
			Reason: fmt.Sprintf("projected host memory %.1f%%, limit %.1f%%", projected, a.limits.MaxSystemMemoryPercent),
		}
	}
	return nil
}

// Deallocate releases an allocation. It is idempotent: releasing an
// unknown or already-released id returns false without error.
func (a *Allocator) Deallocate(ctx context.Context, id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseLocked(ctx, id, journal.KindDeallocated, "")
}

// Shed releases an allocation as part of emergency load shedding.
func (a *Allocator) Shed(ctx context.Context, id, reason string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseLocked(ctx, id, journal.KindShed, reason)
}

func (a *Allocator) releaseLocked(ctx context.Context, id string, kind journal.Kind, detail string) bool {
	alloc, ok := a.allocations[id]
	if !ok {
		return false
	}

	delete(a.allocations, id)
	for _, gpuID := range alloc.GPUIDs {
		a.reservedVRAM[gpuID] -= alloc.MemoryGB
		if a.reservedVRAM[gpuID] <= 0 {
			delete(a.reservedVRAM, gpuID)
		}
	}
	a.reservedHostGB -= alloc.SystemMemoryGB
	if a.reservedHostGB < 0 {
		a.reservedHostGB = 0
	}
	alloc.Status = StatusDeallocated

	a.record(ctx, journal.Record{
		Time:         time.Now(),
		Kind:         kind,
		AllocationID: alloc.ID,
		Component:    alloc.Component,
		Detail:       detail,
	})

	logger.GetLogger().WithField("allocation_id", id).
		Infof("allocation released (%s)", kind)
	return true
}

// Get returns a copy of the allocation with the given id.
func (a *Allocator) Get(id string) (*Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	alloc, ok := a.allocations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyAllocation(alloc)
	return &cp, nil
}

// List returns copies of all active allocations, oldest first.
func (a *Allocator) List() []Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Allocation, 0, len(a.allocations))
	for _, alloc := range a.allocations {
		out = append(out, copyAllocation(alloc))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of active allocations.
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocations)
}

// EvictExpired releases every allocation whose TTL has elapsed and
// returns the evicted copies.
func (a *Allocator) EvictExpired(ctx context.Context, now time.Time) []Allocation {
	a.mu.Lock()
	defer a.mu.Unlock()

	var evicted []Allocation
	for id, alloc := range a.allocations {
		if alloc.Expired(now) {
			evicted = append(evicted, copyAllocation(alloc))
			a.releaseLocked(ctx, id, journal.KindExpired, "ttl elapsed")
		}
	}
	return evicted
}

// Hold refuses new allocations until Release is called. Used by the
// emergency protocol.
func (a *Allocator) Hold() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hold = true
}

// Release lifts an emergency hold.
func (a *Allocator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hold = false
}

// record appends to the journal; journal failures are logged, never
// propagated, so bookkeeping cannot block resource management.
func (a *Allocator) record(ctx context.Context, rec journal.Record) {
	if a.jrnl == nil {
		return
	}
	if err := a.jrnl.Append(ctx, rec); err != nil {
		logger.GetLogger().WithError(err).Warnf("journal append failed")
	}
}

func copyAllocation(a *Allocation) Allocation {
	cp := *a
	cp.GPUIDs = append([]int(nil), a.GPUIDs...)
	if a.ExpiresAt != nil {
		exp := *a.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return cp
}
