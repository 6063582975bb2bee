// Package hostmetrics provides host-wide metrics collection
// 这个包提供主机级指标采集的实现
package hostmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// SystemStatus is a point-in-time snapshot of the host.
// Like GPU snapshots it is a value object: recomputed, never updated.
type SystemStatus struct {
	CPUUsage          float64         `json:"cpuUsage"`          // percent
	MemoryUsage       float64         `json:"memoryUsage"`       // percent
	MemoryTotalGB     float64         `json:"memoryTotalGb"`     // GB
	MemoryAvailableGB float64         `json:"memoryAvailableGb"` // GB
	DiskUsage         float64         `json:"diskUsage"`         // percent
	NetworkIO         NetworkCounters `json:"networkIo"`
	UptimeSeconds     float64         `json:"uptimeSeconds"`
}

// NetworkCounters are cumulative host-wide network counters.
type NetworkCounters struct {
	BytesSent   uint64 `json:"bytesSent"`
	BytesRecv   uint64 `json:"bytesRecv"`
	PacketsSent uint64 `json:"packetsSent"`
	PacketsRecv uint64 `json:"packetsRecv"`
}

// Provider answers host metrics queries. Injectable for tests.
type Provider interface {
	// Status collects a fresh snapshot. The CPU percentage requires a
	// bounded blocking sample window: treat this call as blocking, not
	// instantaneous.
	Status(ctx context.Context) (*SystemStatus, error)
}

// Sampler is the gopsutil-backed Provider.
type Sampler struct {
	// sampleWindow bounds the blocking CPU percentage sample
	sampleWindow time.Duration
	diskPath     string
}

// NewSampler creates a sampler. A zero window defaults to one second,
// matching the interval the original sampling used.
func NewSampler(sampleWindow time.Duration) *Sampler {
	if sampleWindow <= 0 {
		sampleWindow = time.Second
	}
	return &Sampler{sampleWindow: sampleWindow, diskPath: "/"}
}

// Status collects a fresh host snapshot. Blocks for the CPU sample window.
func (s *Sampler) Status(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{}

	// CPU 采样会阻塞一个采样窗口
	cpuPercent, err := cpu.PercentWithContext(ctx, s.sampleWindow, false)
	if err != nil {
		return nil, fmt.Errorf("cpu sample failed: %w", err)
	}
	if len(cpuPercent) > 0 {
		status.CPUUsage = cpuPercent[0]
	}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory query failed: %w", err)
	}
	status.MemoryUsage = vmStat.UsedPercent
	status.MemoryTotalGB = float64(vmStat.Total) / (1 << 30)
	status.MemoryAvailableGB = float64(vmStat.Available) / (1 << 30)

	// 磁盘和网络失败不致命，保留零值继续
	if diskStat, err := disk.UsageWithContext(ctx, s.diskPath); err == nil {
		status.DiskUsage = diskStat.UsedPercent
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		status.NetworkIO = NetworkCounters{
			BytesSent:   counters[0].BytesSent,
			BytesRecv:   counters[0].BytesRecv,
			PacketsSent: counters[0].PacketsSent,
			PacketsRecv: counters[0].PacketsRecv,
		}
	}

	if bootTime, err := host.BootTimeWithContext(ctx); err == nil {
		status.UptimeSeconds = time.Since(time.Unix(int64(bootTime), 0)).Seconds()
	}

	return status, nil
}

// Compile-time interface check
var _ Provider = (*Sampler)(nil)
