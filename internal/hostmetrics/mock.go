package hostmetrics

import (
	"context"
	"sync"
)

// MockProvider is a deterministic Provider for tests.
type MockProvider struct {
	mu     sync.Mutex
	status SystemStatus
	err    error
}

// NewMockProvider creates a mock provider returning the given snapshot.
func NewMockProvider(status SystemStatus) *MockProvider {
	return &MockProvider{status: status}
}

func (m *MockProvider) Status(ctx context.Context) (*SystemStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	copied := m.status
	return &copied, nil
}

// SetStatus replaces the snapshot.
func (m *MockProvider) SetStatus(status SystemStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// SetError makes Status fail.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Compile-time interface check
var _ Provider = (*MockProvider)(nil)
