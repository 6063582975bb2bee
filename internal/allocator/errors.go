package allocator

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an allocation id is unknown.
var ErrNotFound = errors.New("allocation not found")

// ErrEmergencyHold is returned when new allocations are refused because
// the emergency protocol is active.
var ErrEmergencyHold = errors.New("allocations held: emergency protocol active")

// ValidationError reports a structurally invalid request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// SafetyError reports a request rejected by the safety limits.
type SafetyError struct {
	Limit  string
	Reason string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("safety limit %s: %s", e.Limit, e.Reason)
}
