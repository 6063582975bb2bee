package emergency

import (
	"fmt"

	"github.com/warden-project/warden/internal/hostmetrics"
	"github.com/warden-project/warden/internal/telemetry"
)

// ConditionType classifies what tripped the emergency protocol.
type ConditionType string

const (
	ConditionGPUCritical          ConditionType = "gpu_critical"
	ConditionSystemMemoryCritical ConditionType = "system_memory_critical"
)

// Host memory above this percentage is an emergency on its own.
const systemMemoryCriticalPercent = 95.0

// Condition is a single critical finding.
type Condition struct {
	Type    ConditionType `json:"type"`
	GPUID   *int          `json:"gpu_id,omitempty"`
	Message string        `json:"message"`
}

// CheckResult is the outcome of one emergency sweep.
type CheckResult struct {
	Detected   bool        `json:"detected"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// CheckConditions evaluates telemetry snapshots for emergency conditions.
// Pure function: any GPU with a CRITICAL health alert, or host memory
// above the critical threshold, constitutes an emergency.
func CheckConditions(gpus []telemetry.GPUStatus, sys *hostmetrics.SystemStatus) CheckResult {
	var result CheckResult

	for i := range gpus {
		report := telemetry.CheckHealth(&gpus[i])
		for _, alert := range report.Alerts {
			if alert.Level != telemetry.AlertCritical {
				continue
			}
			id := gpus[i].GPUID
			result.Conditions = append(result.Conditions, Condition{
				Type:    ConditionGPUCritical,
				GPUID:   &id,
				Message: alert.Message,
			})
		}
	}

	if sys != nil && sys.MemoryUsage > systemMemoryCriticalPercent {
		result.Conditions = append(result.Conditions, Condition{
			Type:    ConditionSystemMemoryCritical,
			Message: fmt.Sprintf("host memory at %.1f%%, critical threshold %.0f%%", sys.MemoryUsage, systemMemoryCriticalPercent),
		})
	}

	result.Detected = len(result.Conditions) > 0
	return result
}

// Summary renders the conditions as a single journal-friendly line.
func (r CheckResult) Summary() string {
	if !r.Detected {
		return "no critical conditions"
	}
	s := ""
	for i, c := range r.Conditions {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("%s: %s", c.Type, c.Message)
	}
	return s
}
