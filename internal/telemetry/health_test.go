package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCheckHealthHealthy tests that a nominal GPU produces no alerts
func TestCheckHealthHealthy(t *testing.T) {
	report := CheckHealth(&GPUStatus{
		GPUID:       0,
		MemoryUsed:  40960,
		MemoryTotal: 81920,
		MemoryFree:  40960,
		Utilization: 55,
		Temperature: 60,
	})

	assert.True(t, report.Healthy)
	assert.Empty(t, report.Alerts)
	assert.InDelta(t, 50.0, report.MemoryUsagePercent, 0.01)
}

// TestCheckHealthThresholds tests the alert threshold ladder
func TestCheckHealthThresholds(t *testing.T) {
	tests := []struct {
		name       string
		status     GPUStatus
		wantLevels []AlertLevel
	}{
		{
			name:       "memory warning above 90%",
			status:     GPUStatus{GPUID: 1, MemoryUsed: 92, MemoryTotal: 100, Temperature: 50},
			wantLevels: []AlertLevel{AlertWarning},
		},
		{
			name:       "memory critical above 95%",
			status:     GPUStatus{GPUID: 1, MemoryUsed: 97, MemoryTotal: 100, Temperature: 50},
			wantLevels: []AlertLevel{AlertCritical},
		},
		{
			name:       "temperature warning above 80C",
			status:     GPUStatus{GPUID: 2, MemoryUsed: 10, MemoryTotal: 100, Temperature: 81},
			wantLevels: []AlertLevel{AlertWarning},
		},
		{
			name:       "temperature critical above 85C",
			status:     GPUStatus{GPUID: 2, MemoryUsed: 10, MemoryTotal: 100, Temperature: 90},
			wantLevels: []AlertLevel{AlertCritical},
		},
		{
			name:       "utilization warning above 98%",
			status:     GPUStatus{GPUID: 3, MemoryUsed: 10, MemoryTotal: 100, Temperature: 50, Utilization: 99},
			wantLevels: []AlertLevel{AlertWarning},
		},
		{
			name:       "memory and temperature both critical",
			status:     GPUStatus{GPUID: 4, MemoryUsed: 99, MemoryTotal: 100, Temperature: 91},
			wantLevels: []AlertLevel{AlertCritical, AlertCritical},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := CheckHealth(&tt.status)

			assert.False(t, report.Healthy)
			assert.Len(t, report.Alerts, len(tt.wantLevels))
			for i, level := range tt.wantLevels {
				assert.Equal(t, level, report.Alerts[i].Level)
			}
		})
	}
}

// TestCheckHealthBoundary tests that values at the threshold do not alert
func TestCheckHealthBoundary(t *testing.T) {
	report := CheckHealth(&GPUStatus{
		GPUID:       0,
		MemoryUsed:  90,
		MemoryTotal: 100,
		Temperature: 80,
		Utilization: 98,
	})

	assert.True(t, report.Healthy)
}

// TestCheckHealthZeroTotal tests division safety on a degraded snapshot
func TestCheckHealthZeroTotal(t *testing.T) {
	report := CheckHealth(&GPUStatus{GPUID: 0})

	assert.True(t, report.Healthy)
	assert.Zero(t, report.MemoryUsagePercent)
}
