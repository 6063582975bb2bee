package allocator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/hostmetrics"
	"github.com/warden-project/warden/internal/journal"
	"github.com/warden-project/warden/internal/telemetry"
)

// healthyGPU returns an 80GB GPU with 8GB used, cool and well under its
// power limit. Headroom under the default 90% cap is 64GB.
func healthyGPU(id int) telemetry.GPUStatus {
	return telemetry.GPUStatus{
		GPUID:       id,
		MemoryUsed:  8192,
		MemoryTotal: 81920,
		MemoryFree:  73728,
		Utilization: 30,
		Temperature: 55,
		PowerDraw:   200,
	}
}

func newTestAllocator(t *testing.T, limits config.SafetyConfig) (*Allocator, *telemetry.MockSource, *hostmetrics.MockProvider, *journal.MemoryStore) {
	t.Helper()

	src := telemetry.NewMockSource("mock", healthyGPU(0), healthyGPU(1))
	gpus := telemetry.NewProviderWithSources(src, nil, nil)
	host := hostmetrics.NewMockProvider(hostmetrics.SystemStatus{
		CPUUsage:          20,
		MemoryUsage:       40,
		MemoryTotalGB:     512,
		MemoryAvailableGB: 300,
	})
	jrnl := journal.NewMemoryStore(100)

	return New(limits, gpus, host, jrnl), src, host, jrnl
}

func defaultLimits() config.SafetyConfig {
	return config.DefaultConfig().Safety
}

func TestAllocateGrant(t *testing.T) {
	a, _, _, jrnl := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	alloc, err := a.Allocate(ctx, Request{
		Component:      "inference",
		GPUIDs:         []int{0, 1},
		MemoryGB:       24,
		CPUCores:       8,
		SystemMemoryGB: 32,
		Priority:       PriorityHigh,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, alloc.ID)
	assert.Equal(t, StatusAllocated, alloc.Status)
	assert.Equal(t, []int{0, 1}, alloc.GPUIDs)
	assert.Nil(t, alloc.ExpiresAt)
	assert.Equal(t, 1, a.Count())

	recs, err := jrnl.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, journal.KindAllocated, recs[0].Kind)
	assert.Equal(t, alloc.ID, recs[0].AllocationID)
}

func TestAllocateDefaultsPriority(t *testing.T) {
	a, _, _, _ := newTestAllocator(t, defaultLimits())

	alloc, err := a.Allocate(context.Background(), Request{
		Component: "embedding",
		GPUIDs:    []int{0},
		MemoryGB:  4,
	})
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, alloc.Priority)
}

func TestAllocateValidation(t *testing.T) {
	a, _, _, _ := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"empty component", Request{GPUIDs: []int{0}, MemoryGB: 1}},
		{"negative memory", Request{Component: "x", GPUIDs: []int{0}, MemoryGB: -1}},
		{"memory without gpus", Request{Component: "x", MemoryGB: 4}},
		{"duplicate gpu", Request{Component: "x", GPUIDs: []int{0, 0}, MemoryGB: 1}},
		{"negative gpu id", Request{Component: "x", GPUIDs: []int{-1}, MemoryGB: 1}},
		{"bad priority", Request{Component: "x", GPUIDs: []int{0}, MemoryGB: 1, Priority: "urgent"}},
		{"negative ttl", Request{Component: "x", GPUIDs: []int{0}, MemoryGB: 1, TTLSeconds: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Allocate(ctx, tt.req)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
	assert.Equal(t, 0, a.Count())
}

func TestAllocateUnknownGPU(t *testing.T) {
	a, _, _, _ := newTestAllocator(t, defaultLimits())

	// Ids beyond the physical population are a safety rejection, not a
	// malformed request.
	_, err := a.Allocate(context.Background(), Request{
		Component: "inference",
		GPUIDs:    []int{7},
		MemoryGB:  1,
	})
	var serr *SafetyError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "gpu_range", serr.Limit)
	assert.Equal(t, 0, a.Count())
}

func TestAllocateMemoryLimit(t *testing.T) {
	a, _, _, _ := newTestAllocator(t, defaultLimits())

	// Headroom is 64GB: 90% of 80GB minus 8GB already used.
	_, err := a.Allocate(context.Background(), Request{
		Component: "training",
		GPUIDs:    []int{0},
		MemoryGB:  65,
	})
	var serr *SafetyError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "max_gpu_memory_percent", serr.Limit)
}

func TestAllocateThermalLimit(t *testing.T) {
	a, src, _, _ := newTestAllocator(t, defaultLimits())

	hot := healthyGPU(1)
	hot.Temperature = 85
	src.SetStatus(hot)

	_, err := a.Allocate(context.Background(), Request{
		Component: "training",
		GPUIDs:    []int{1},
		MemoryGB:  8,
	})
	var serr *SafetyError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "max_gpu_temperature", serr.Limit)

	// The cool GPU still admits
	_, err = a.Allocate(context.Background(), Request{
		Component: "training",
		GPUIDs:    []int{0},
		MemoryGB:  8,
	})
	assert.NoError(t, err)
}

// TestAllocateAtExactLimits verifies the limits are exclusive: a GPU
// sitting exactly on the thermal or power limit still admits.
func TestAllocateAtExactLimits(t *testing.T) {
	limits := defaultLimits()
	a, src, _, _ := newTestAllocator(t, limits)

	boundary := healthyGPU(0)
	boundary.Temperature = limits.MaxGPUTemperature
	boundary.PowerDraw = limits.MaxPowerPerGPU
	src.SetStatus(boundary)

	_, err := a.Allocate(context.Background(), Request{
		Component: "training",
		GPUIDs:    []int{0},
		MemoryGB:  8,
	})
	assert.NoError(t, err)
}

func TestAllocatePowerLimits(t *testing.T) {
	a, src, _, _ := newTestAllocator(t, defaultLimits())

	drawing := healthyGPU(0)
	drawing.PowerDraw = 460
	src.SetStatus(drawing)

	_, err := a.Allocate(context.Background(), Request{
		Component: "training",
		GPUIDs:    []int{0},
		MemoryGB:  8,
	})
	var serr *SafetyError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "max_power_per_gpu", serr.Limit)

	limits := defaultLimits()
	limits.MaxTotalPower = 350
	a2, _, _, _ := newTestAllocator(t, limits)
	_, err = a2.Allocate(context.Background(), Request{
		Component: "training",
		GPUIDs:    []int{1},
		MemoryGB:  8,
	})
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "max_total_power", serr.Limit)
}

func TestAllocateHostMemoryLimit(t *testing.T) {
	a, _, host, _ := newTestAllocator(t, defaultLimits())

	// 40% used of 512GB; requesting 256GB projects to 90%, over the 85% cap.
	_, err := a.Allocate(context.Background(), Request{
		Component:      "cache",
		SystemMemoryGB: 256,
	})
	var serr *SafetyError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "max_system_memory_percent", serr.Limit)

	host.SetStatus(hostmetrics.SystemStatus{MemoryUsage: 10, MemoryTotalGB: 512})
	_, err = a.Allocate(context.Background(), Request{
		Component:      "cache",
		SystemMemoryGB: 256,
	})
	assert.NoError(t, err)
}

func TestReservationsCloseAdmissionRace(t *testing.T) {
	a, _, _, _ := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	// Telemetry never changes between these calls; only the reservation
	// ledger prevents oversubscription of the 64GB headroom.
	first, err := a.Allocate(ctx, Request{Component: "a", GPUIDs: []int{0}, MemoryGB: 40})
	require.NoError(t, err)

	_, err = a.Allocate(ctx, Request{Component: "b", GPUIDs: []int{0}, MemoryGB: 40})
	var serr *SafetyError
	require.ErrorAs(t, err, &serr)

	// Releasing the first frees the reservation.
	assert.True(t, a.Deallocate(ctx, first.ID))
	_, err = a.Allocate(ctx, Request{Component: "b", GPUIDs: []int{0}, MemoryGB: 40})
	assert.NoError(t, err)
}

func TestConcurrentAdmission(t *testing.T) {
	a, _, _, _ := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	// 64GB headroom on GPU 0, ten concurrent 10GB requests: exactly six
	// can be admitted.
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Allocate(ctx, Request{Component: "w", GPUIDs: []int{0}, MemoryGB: 10})
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, granted)
	assert.Equal(t, 6, a.Count())
}

func TestDeallocateIdempotent(t *testing.T) {
	a, _, _, jrnl := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	alloc, err := a.Allocate(ctx, Request{Component: "x", GPUIDs: []int{0}, MemoryGB: 4})
	require.NoError(t, err)

	assert.True(t, a.Deallocate(ctx, alloc.ID))
	assert.False(t, a.Deallocate(ctx, alloc.ID))
	assert.False(t, a.Deallocate(ctx, "no-such-id"))

	recs, err := jrnl.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, journal.KindDeallocated, recs[0].Kind)
}

func TestGetAndList(t *testing.T) {
	a, _, _, _ := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	_, err := a.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := a.Allocate(ctx, Request{Component: "one", GPUIDs: []int{0}, MemoryGB: 4})
	require.NoError(t, err)
	second, err := a.Allocate(ctx, Request{Component: "two", GPUIDs: []int{1}, MemoryGB: 4})
	require.NoError(t, err)

	got, err := a.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Component)

	// Mutating the returned copy must not touch the ledger
	got.GPUIDs[0] = 99
	again, err := a.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, again.GPUIDs)

	list := a.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestEvictExpired(t *testing.T) {
	a, _, _, jrnl := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	expiring, err := a.Allocate(ctx, Request{Component: "short", GPUIDs: []int{0}, MemoryGB: 4, TTLSeconds: 1})
	require.NoError(t, err)
	require.NotNil(t, expiring.ExpiresAt)
	_, err = a.Allocate(ctx, Request{Component: "long", GPUIDs: []int{1}, MemoryGB: 4})
	require.NoError(t, err)

	evicted := a.EvictExpired(ctx, time.Now().Add(2*time.Second))
	require.Len(t, evicted, 1)
	assert.Equal(t, expiring.ID, evicted[0].ID)
	assert.Equal(t, 1, a.Count())

	recs, err := jrnl.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, journal.KindExpired, recs[0].Kind)
}

func TestEmergencyHold(t *testing.T) {
	a, _, _, _ := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	a.Hold()
	_, err := a.Allocate(ctx, Request{Component: "x", GPUIDs: []int{0}, MemoryGB: 4})
	assert.True(t, errors.Is(err, ErrEmergencyHold))

	a.Release()
	_, err = a.Allocate(ctx, Request{Component: "x", GPUIDs: []int{0}, MemoryGB: 4})
	assert.NoError(t, err)
}

func TestShedJournalsKind(t *testing.T) {
	a, _, _, jrnl := newTestAllocator(t, defaultLimits())
	ctx := context.Background()

	alloc, err := a.Allocate(ctx, Request{Component: "x", GPUIDs: []int{0}, MemoryGB: 4, Priority: PriorityLow})
	require.NoError(t, err)

	assert.True(t, a.Shed(ctx, alloc.ID, "gpu_critical on GPU 0"))

	recs, err := jrnl.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, journal.KindShed, recs[0].Kind)
	assert.Equal(t, "gpu_critical on GPU 0", recs[0].Detail)
}
