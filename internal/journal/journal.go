// Package journal records the lifecycle of allocations and emergency
// actions so operators can reconstruct what the guardian did and why.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/warden-project/warden/internal/config"
)

// Kind classifies a journal record.
type Kind string

const (
	KindAllocated   Kind = "allocated"
	KindDeallocated Kind = "deallocated"
	KindExpired     Kind = "expired"
	KindShed        Kind = "shed"
	KindEmergency   Kind = "emergency"
	KindEscalation  Kind = "escalation"
)

// Record is a single journal entry.
type Record struct {
	ID           int64     `json:"id,omitempty"`
	Time         time.Time `json:"time"`
	Kind         Kind      `json:"kind"`
	AllocationID string    `json:"allocation_id,omitempty"`
	Component    string    `json:"component,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Store persists journal records.
type Store interface {
	// Append stores a record. The record's ID is assigned by the store.
	Append(ctx context.Context, rec Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	// Close releases any resources held by the store.
	Close() error
}

// New creates a store from configuration.
func New(cfg *config.JournalConfig) (Store, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(cfg.Retain), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path, cfg.Retain)
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Type)
	}
}
