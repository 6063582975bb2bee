package telemetry

import (
	"context"
	"fmt"
	"sync"
)

// MockSource is a deterministic in-memory Source for tests and dry runs.
// Statuses can be mutated between polls to simulate thermal or memory
// extremes without hardware.
type MockSource struct {
	mu       sync.Mutex
	name     string
	statuses map[int]GPUStatus
	failing  map[int]bool
	down     bool
}

// NewMockSource creates a mock source seeded with the given snapshots.
func NewMockSource(name string, statuses ...GPUStatus) *MockSource {
	m := &MockSource{
		name:     name,
		statuses: make(map[int]GPUStatus),
		failing:  make(map[int]bool),
	}
	for _, st := range statuses {
		m.statuses[st.GPUID] = st
	}
	return m
}

func (m *MockSource) Name() string { return m.name }

func (m *MockSource) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.down
}

func (m *MockSource) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, fmt.Errorf("mock source %s is down", m.name)
	}
	return len(m.statuses), nil
}

func (m *MockSource) Status(ctx context.Context, gpuID int) (*GPUStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.down {
		return nil, fmt.Errorf("mock source %s is down", m.name)
	}
	if m.failing[gpuID] {
		return nil, fmt.Errorf("mock query failure for gpu %d", gpuID)
	}
	status, ok := m.statuses[gpuID]
	if !ok {
		return nil, fmt.Errorf("mock has no gpu %d", gpuID)
	}

	copied := status
	copied.Processes = append([]GPUProcess(nil), status.Processes...)
	return &copied, nil
}

// SetStatus replaces the snapshot for one GPU.
func (m *MockSource) SetStatus(status GPUStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.GPUID] = status
}

// FailGPU makes queries for one GPU fail.
func (m *MockSource) FailGPU(gpuID int, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[gpuID] = fail
}

// SetDown takes the whole source offline.
func (m *MockSource) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Compile-time interface check
var _ Source = (*MockSource)(nil)
