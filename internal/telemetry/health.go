package telemetry

import "fmt"

// AlertLevel classifies a health alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert health thresholds. Memory and temperature escalate from WARNING to
// CRITICAL; utilization only ever warns.
const (
	memoryWarningPercent  = 90
	memoryCriticalPercent = 95
	tempWarningCelsius    = 80
	tempCriticalCelsius   = 85
	utilWarningPercent    = 98
)

// Alert is a single health finding for a GPU.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Message string     `json:"message"`
}

// HealthReport is the result of evaluating one GPU snapshot against the
// alert thresholds.
type HealthReport struct {
	GPUID              int     `json:"gpuId"`
	Healthy            bool    `json:"healthy"`
	Alerts             []Alert `json:"alerts"`
	MemoryUsagePercent float64 `json:"memoryUsagePercent"`
}

// CheckHealth evaluates a snapshot against the alert thresholds.
// Pure function, no I/O.
func CheckHealth(status *GPUStatus) *HealthReport {
	var alerts []Alert

	memoryPercent := status.MemoryUsagePercent()
	switch {
	case memoryPercent > memoryCriticalPercent:
		alerts = append(alerts, Alert{
			Level:   AlertCritical,
			Message: fmt.Sprintf("GPU %d memory usage at %.1f%%", status.GPUID, memoryPercent),
		})
	case memoryPercent > memoryWarningPercent:
		alerts = append(alerts, Alert{
			Level:   AlertWarning,
			Message: fmt.Sprintf("GPU %d memory usage at %.1f%%", status.GPUID, memoryPercent),
		})
	}

	switch {
	case status.Temperature > tempCriticalCelsius:
		alerts = append(alerts, Alert{
			Level:   AlertCritical,
			Message: fmt.Sprintf("GPU %d temperature at %.0f°C", status.GPUID, status.Temperature),
		})
	case status.Temperature > tempWarningCelsius:
		alerts = append(alerts, Alert{
			Level:   AlertWarning,
			Message: fmt.Sprintf("GPU %d temperature at %.0f°C", status.GPUID, status.Temperature),
		})
	}

	if status.Utilization > utilWarningPercent {
		alerts = append(alerts, Alert{
			Level:   AlertWarning,
			Message: fmt.Sprintf("GPU %d utilization at %.1f%%", status.GPUID, status.Utilization),
		})
	}

	return &HealthReport{
		GPUID:              status.GPUID,
		Healthy:            len(alerts) == 0,
		Alerts:             alerts,
		MemoryUsagePercent: memoryPercent,
	}
}
