package allocator

import (
	"fmt"
	"time"
)

// Priority determines the order in which allocations are shed under
// emergency conditions.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority is one of the known values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ShedsFirst reports whether allocations at this priority are released
// during emergency load shedding.
func (p Priority) ShedsFirst() bool {
	return p == PriorityLow || p == PriorityNormal
}

// Status tracks the lifecycle of an allocation.
type Status string

const (
	StatusAllocated   Status = "allocated"
	StatusDeallocated Status = "deallocated"
)

// Allocation is a granted reservation of cluster resources.
type Allocation struct {
	ID             string     `json:"id"`
	Component      string     `json:"component"`
	GPUIDs         []int      `json:"gpu_ids"`
	MemoryGB       float64    `json:"memory_gb"`
	CPUCores       int        `json:"cpu_cores"`
	SystemMemoryGB float64    `json:"system_memory_gb"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the allocation has a TTL that has elapsed.
func (a *Allocation) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Request describes a resource allocation request.
type Request struct {
	Component      string   `json:"component" binding:"required"`
	GPUIDs         []int    `json:"gpu_ids"`
	MemoryGB       float64  `json:"memory_gb"`
	CPUCores       int      `json:"cpu_cores"`
	SystemMemoryGB float64  `json:"system_memory_gb"`
	Priority       Priority `json:"priority"`
	TTLSeconds     int      `json:"ttl_seconds"`
}

// Validate checks the request for structural problems. Resource
// availability is checked separately at admission time.
func (r *Request) Validate() error {
	if r.Component == "" {
		return &ValidationError{Field: "component", Reason: "must not be empty"}
	}
	if r.MemoryGB < 0 {
		return &ValidationError{Field: "memory_gb", Reason: "must not be negative"}
	}
	if r.SystemMemoryGB < 0 {
		return &ValidationError{Field: "system_memory_gb", Reason: "must not be negative"}
	}
	if r.CPUCores < 0 {
		return &ValidationError{Field: "cpu_cores", Reason: "must not be negative"}
	}
	if r.MemoryGB > 0 && len(r.GPUIDs) == 0 {
		return &ValidationError{Field: "gpu_ids", Reason: "required when memory_gb is set"}
	}
	seen := make(map[int]struct{}, len(r.GPUIDs))
	for _, id := range r.GPUIDs {
		if id < 0 {
			return &ValidationError{Field: "gpu_ids", Reason: fmt.Sprintf("invalid GPU id %d", id)}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "gpu_ids", Reason: fmt.Sprintf("duplicate GPU id %d", id)}
		}
		seen[id] = struct{}{}
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !r.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", r.Priority)}
	}
	if r.TTLSeconds < 0 {
		return &ValidationError{Field: "ttl_seconds", Reason: "must not be negative"}
	}
	return nil
}
