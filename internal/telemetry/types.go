package telemetry

// GPUStatus is a point-in-time snapshot of a single GPU.
// Snapshots are value objects: they are recomputed on every poll and
// never updated in place.
type GPUStatus struct {
	GPUID       int          `json:"gpuId"`
	MemoryUsed  float64      `json:"memoryUsed"`  // MB
	MemoryTotal float64      `json:"memoryTotal"` // MB
	MemoryFree  float64      `json:"memoryFree"`  // MB
	Utilization float64      `json:"utilization"` // percentage 0-100
	Temperature float64      `json:"temperature"` // celsius
	PowerDraw   float64      `json:"powerDraw"`   // watts
	Processes   []GPUProcess `json:"processes"`
}

// MemoryUsagePercent returns used memory as a percentage of total.
func (s *GPUStatus) MemoryUsagePercent() float64 {
	if s.MemoryTotal <= 0 {
		return 0
	}
	return s.MemoryUsed / s.MemoryTotal * 100
}

// MemoryFreeGB returns free memory in gigabytes.
func (s *GPUStatus) MemoryFreeGB() float64 {
	return s.MemoryFree / 1024
}

// GPUProcess describes a compute process resident on a GPU.
type GPUProcess struct {
	PID      int32   `json:"pid"`
	Name     string  `json:"name"`
	MemoryMB float64 `json:"memoryMb"`
}
