// Package emergency implements the load-shedding and escalation protocol
// that runs when telemetry reports critical conditions. The protocol is
// single-shot: once triggered it stays active, holding new allocations,
// until an operator explicitly resets it.
package emergency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/warden-project/warden/internal/allocator"
	"github.com/warden-project/warden/internal/hostmetrics"
	"github.com/warden-project/warden/internal/journal"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/telemetry"
)

// ErrAlreadyActive is returned when Initiate is called while a previous
// emergency has not been reset.
var ErrAlreadyActive = errors.New("emergency protocol already active")

// TelemetrySource supplies GPU snapshots for the post-shed re-check.
type TelemetrySource interface {
	AllStatuses(ctx context.Context) ([]telemetry.GPUStatus, error)
}

// HostSource supplies host snapshots for the post-shed re-check.
type HostSource interface {
	Status(ctx context.Context) (*hostmetrics.SystemStatus, error)
}

// Terminator stops the processes running under an allocation. Implemented
// by the workload manager.
type Terminator interface {
	TerminateAllocation(ctx context.Context, allocationID string) error
}

// Notifier publishes emergency events to interested listeners (the
// WebSocket hub). Optional.
type Notifier interface {
	Notify(eventType string, data interface{})
}

// State is a snapshot of the protocol for status reporting.
type State struct {
	Active      bool        `json:"active"`
	TriggeredAt *time.Time  `json:"triggered_at,omitempty"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Escalated   bool        `json:"escalated"`
}

// Protocol coordinates load shedding and escalation.
type Protocol struct {
	mu          sync.Mutex
	active      bool
	escalated   bool
	triggeredAt time.Time
	conditions  []Condition

	cooldown time.Duration
	alloc    *allocator.Allocator
	gpus     TelemetrySource
	host     HostSource
	term     Terminator
	jrnl     journal.Store
	notifier Notifier
}

// NewProtocol creates an emergency protocol. cooldown is the wait between
// shedding and the re-check that decides on escalation.
func NewProtocol(cooldown time.Duration, alloc *allocator.Allocator, gpus TelemetrySource, host HostSource, term Terminator, jrnl journal.Store, notifier Notifier) *Protocol {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Protocol{
		cooldown: cooldown,
		alloc:    alloc,
		gpus:     gpus,
		host:     host,
		term:     term,
		jrnl:     jrnl,
		notifier: notifier,
	}
}

// Active reports whether the protocol has been triggered and not reset.
func (p *Protocol) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// State returns a snapshot of the protocol.
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := State{Active: p.active, Escalated: p.escalated}
	if p.active {
		at := p.triggeredAt
		st.TriggeredAt = &at
		st.Conditions = append([]Condition(nil), p.conditions...)
	}
	return st
}

// Initiate runs the emergency protocol for the given findings: hold new
// allocations, shed low and normal priority workloads, wait out the
// cooldown, re-check, and escalate to process termination if the critical
// conditions persist. The cooldown wait honors ctx cancellation.
func (p *Protocol) Initiate(ctx context.Context, result CheckResult) error {
	p.mu.Lock()
	if p.active {
		p.mu.Unlock()
		return ErrAlreadyActive
	}
	p.active = true
	p.escalated = false
	p.triggeredAt = time.Now()
	p.conditions = append([]Condition(nil), result.Conditions...)
	p.mu.Unlock()

	log := logger.GetLogger()
	log.Criticalf("emergency protocol triggered: %s", result.Summary())

	p.alloc.Hold()
	p.record(ctx, journal.KindEmergency, "", "", result.Summary())
	p.notify("emergency", result)

	shed := p.shedLowPriority(ctx)
	log.Warnf("emergency shed released %d allocations", shed)

	// Give the shed workloads time to actually free their resources
	// before deciding whether to escalate.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cooldown):
	}

	recheck := p.recheck(ctx)
	if !recheck.Detected {
		log.Infof("critical conditions cleared after shedding; awaiting operator reset")
		p.record(ctx, journal.KindEmergency, "", "", "conditions cleared after shed")
		return nil
	}

	log.Criticalf("critical conditions persist after shedding: %s; escalating", recheck.Summary())
	p.escalate(ctx, recheck)
	return nil
}

// shedLowPriority releases every allocation whose priority sheds first.
func (p *Protocol) shedLowPriority(ctx context.Context) int {
	shed := 0
	for _, alloc := range p.alloc.List() {
		if !alloc.Priority.ShedsFirst() {
			continue
		}
		if p.alloc.Shed(ctx, alloc.ID, "emergency load shed") {
			shed++
			if p.term != nil {
				if err := p.term.TerminateAllocation(ctx, alloc.ID); err != nil {
					logger.GetLogger().WithError(err).
						Warnf("failed to stop shed workload for allocation %s", alloc.ID)
				}
			}
		}
	}
	return shed
}

// recheck re-evaluates conditions on fresh telemetry. Telemetry failures
// are treated as persisting conditions: flying blind is no reason to
// stand down.
func (p *Protocol) recheck(ctx context.Context) CheckResult {
	statuses, err := p.gpus.AllStatuses(ctx)
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("emergency re-check telemetry failed")
		return CheckResult{Detected: true, Conditions: p.conditionsCopy()}
	}
	sys, err := p.host.Status(ctx)
	if err != nil {
		logger.GetLogger().WithError(err).Errorf("emergency re-check host metrics failed")
		sys = nil
	}
	return CheckConditions(statuses, sys)
}

// escalate terminates every remaining allocation's workloads and releases
// the allocations.
func (p *Protocol) escalate(ctx context.Context, result CheckResult) {
	p.mu.Lock()
	p.escalated = true
	p.conditions = append([]Condition(nil), result.Conditions...)
	p.mu.Unlock()

	p.notify("emergency_escalation", result)

	for _, alloc := range p.alloc.List() {
		if p.term != nil {
			if err := p.term.TerminateAllocation(ctx, alloc.ID); err != nil {
				logger.GetLogger().WithError(err).
					Errorf("escalation failed to stop workloads for allocation %s", alloc.ID)
			}
		}
		p.alloc.Shed(ctx, alloc.ID, "emergency escalation")
		p.record(ctx, journal.KindEscalation, alloc.ID, alloc.Component, result.Summary())
	}
}

// Reset stands the protocol down and lifts the allocation hold. Only an
// explicit operator action resets an emergency.
func (p *Protocol) Reset(ctx context.Context) error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil
	}
	p.active = false
	p.escalated = false
	p.conditions = nil
	p.mu.Unlock()

	p.alloc.Release()
	p.record(ctx, journal.KindEmergency, "", "", "emergency reset by operator")
	p.notify("emergency_reset", nil)
	logger.GetLogger().Warnf("emergency protocol reset")
	return nil
}

func (p *Protocol) conditionsCopy() []Condition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Condition(nil), p.conditions...)
}

func (p *Protocol) record(ctx context.Context, kind journal.Kind, allocationID, component, detail string) {
	if p.jrnl == nil {
		return
	}
	rec := journal.Record{
		Time:         time.Now(),
		Kind:         kind,
		AllocationID: allocationID,
		Component:    component,
		Detail:       detail,
	}
	if err := p.jrnl.Append(ctx, rec); err != nil {
		logger.GetLogger().WithError(err).Warnf("journal append failed")
	}
}

func (p *Protocol) notify(eventType string, data interface{}) {
	if p.notifier != nil {
		p.notifier.Notify(eventType, data)
	}
}
