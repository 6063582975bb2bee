//go:build !nonvml
// +build !nonvml

package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlSource implements Source using the NVIDIA Management Library.
// It is the primary telemetry interface: native calls, no subprocess.
type nvmlSource struct {
	logger Logger

	initOnce sync.Once
	initOK   bool
}

func newNVMLSource(logger Logger) Source {
	return &nvmlSource{logger: logger}
}

func (s *nvmlSource) Name() string {
	return "nvml"
}

func (s *nvmlSource) Available() bool {
	s.initOnce.Do(func() {
		if ret := nvml.Init(); ret != nvml.SUCCESS {
			s.logger.Debugf("NVML init failed: %s", nvml.ErrorString(ret))
			return
		}
		s.initOK = true
	})
	return s.initOK
}

func (s *nvmlSource) Count(ctx context.Context) (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("nvml device count: %s", nvml.ErrorString(ret))
	}
	return count, nil
}

func (s *nvmlSource) Status(ctx context.Context, gpuID int) (*GPUStatus, error) {
	device, ret := nvml.DeviceGetHandleByIndex(gpuID)
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml handle for gpu %d: %s", gpuID, nvml.ErrorString(ret))
	}

	memInfo, ret := device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml memory info for gpu %d: %s", gpuID, nvml.ErrorString(ret))
	}

	status := &GPUStatus{
		GPUID:       gpuID,
		MemoryUsed:  float64(memInfo.Used) / (1024 * 1024),
		MemoryTotal: float64(memInfo.Total) / (1024 * 1024),
		MemoryFree:  float64(memInfo.Free) / (1024 * 1024),
	}

	if util, ret := device.GetUtilizationRates(); ret == nvml.SUCCESS {
		status.Utilization = float64(util.Gpu)
	}
	if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		status.Temperature = float64(temp)
	}
	if power, ret := device.GetPowerUsage(); ret == nvml.SUCCESS {
		status.PowerDraw = float64(power) / 1000 // milliwatts to watts
	}

	if procs, ret := device.GetComputeRunningProcesses(); ret == nvml.SUCCESS {
		for _, proc := range procs {
			status.Processes = append(status.Processes, GPUProcess{
				PID:      int32(proc.Pid),
				Name:     processName(int32(proc.Pid)),
				MemoryMB: float64(proc.UsedGpuMemory) / (1024 * 1024),
			})
		}
	}

	return status, nil
}

// processName resolves a PID's command name from procfs. NVML reports pids
// without names; best-effort, empty on failure.
func processName(pid int32) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
