// Package workload tracks the OS processes that components run under
// their allocations, so the emergency protocol has a real target when it
// escalates. Components register their PIDs after being granted an
// allocation; the guardian never spawns workloads itself.
package workload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/warden-project/warden/internal/logger"
)

// ErrNotFound is returned when a component has no registered workload.
var ErrNotFound = errors.New("workload not found")

// Workload is a registered component process.
type Workload struct {
	Component    string    `json:"component"`
	AllocationID string    `json:"allocation_id"`
	PID          int       `json:"pid"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Manager maintains the component -> process registry.
type Manager struct {
	mu        sync.RWMutex
	workloads map[string]*Workload
	grace     time.Duration
}

// NewManager creates a workload manager. grace bounds how long a
// terminated process gets to exit before it is killed.
func NewManager(grace time.Duration) *Manager {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Manager{
		workloads: make(map[string]*Workload),
		grace:     grace,
	}
}

// Register records the process a component runs under its allocation.
// Re-registering a component replaces its previous entry.
func (m *Manager) Register(component, allocationID string, pid int) error {
	if component == "" {
		return fmt.Errorf("component must not be empty")
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.workloads[component] = &Workload{
		Component:    component,
		AllocationID: allocationID,
		PID:          pid,
		RegisteredAt: time.Now(),
	}
	logger.GetLogger().WithField("component", component).
		Infof("workload registered: pid=%d allocation=%s", pid, allocationID)
	return nil
}

// Deregister removes a component's entry. Returns false if none existed.
func (m *Manager) Deregister(component string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workloads[component]; !ok {
		return false
	}
	delete(m.workloads, component)
	return true
}

// Lookup returns a copy of the component's workload entry.
func (m *Manager) Lookup(component string) (*Workload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workloads[component]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// List returns copies of all registered workloads, sorted by component.
func (m *Manager) List() []Workload {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Workload, 0, len(m.workloads))
	for _, w := range m.workloads {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Component < out[j].Component
	})
	return out
}

// forAllocation returns the workloads registered under an allocation.
func (m *Manager) forAllocation(allocationID string) []Workload {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Workload
	for _, w := range m.workloads {
		if w.AllocationID == allocationID {
			out = append(out, *w)
		}
	}
	return out
}

// Alive reports whether the workload's process is still running.
func (m *Manager) Alive(w Workload) bool {
	// Signal 0 probes for existence without delivering anything
	return syscall.Kill(w.PID, syscall.Signal(0)) == nil
}

// Terminate stops a component's process: SIGTERM first, then SIGKILL if
// it has not exited within the grace period. The registry entry is
// removed either way.
func (m *Manager) Terminate(ctx context.Context, component string) error {
	w, err := m.Lookup(component)
	if err != nil {
		return err
	}
	defer m.Deregister(component)

	return m.stopProcess(ctx, *w)
}

// TerminateAllocation stops every workload registered under an
// allocation. Used by the emergency protocol when shedding alone did not
// clear a critical condition.
func (m *Manager) TerminateAllocation(ctx context.Context, allocationID string) error {
	var firstErr error
	for _, w := range m.forAllocation(allocationID) {
		if err := m.stopProcess(ctx, w); err != nil && firstErr == nil {
			firstErr = err
		}
		m.Deregister(w.Component)
	}
	return firstErr
}

func (m *Manager) stopProcess(ctx context.Context, w Workload) error {
	log := logger.GetLogger().WithField("component", w.Component).WithField("pid", w.PID)

	// Try graceful shutdown first
	if err := syscall.Kill(w.PID, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			// Already gone
			return nil
		}
		return fmt.Errorf("failed to signal pid %d: %w", w.PID, err)
	}
	log.Infof("sent SIGTERM")

	deadline := time.NewTimer(m.grace)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if !m.Alive(w) {
				log.Infof("process exited gracefully")
				return nil
			}
		case <-deadline.C:
			// Timeout, force kill
			if err := syscall.Kill(w.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				return fmt.Errorf("failed to kill pid %d: %w", w.PID, err)
			}
			log.Warnf("grace period elapsed, sent SIGKILL")
			return nil
		}
	}
}
