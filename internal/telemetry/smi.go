package telemetry

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// smiSource implements Source by shelling out to nvidia-smi.
// It is the secondary telemetry interface and also serves the per-GPU
// process listing the primary cannot name.
type smiSource struct {
	path    string
	timeout time.Duration
	logger  Logger
}

func newSMISource(path string, timeout time.Duration, logger Logger) *smiSource {
	return &smiSource{path: path, timeout: timeout, logger: logger}
}

func (s *smiSource) Name() string {
	return "nvidia-smi"
}

func (s *smiSource) Available() bool {
	_, err := exec.LookPath(s.path)
	return err == nil
}

func (s *smiSource) Count(ctx context.Context) (int, error) {
	output, err := s.query(ctx, "--query-gpu=index", "--format=csv,noheader,nounits")
	if err != nil {
		return 0, err
	}

	count := 0
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

func (s *smiSource) Status(ctx context.Context, gpuID int) (*GPUStatus, error) {
	output, err := s.query(ctx,
		"--query-gpu=index,memory.used,memory.total,memory.free,utilization.gpu,temperature.gpu,power.draw",
		"--format=csv,noheader,nounits",
		fmt.Sprintf("--id=%d", gpuID))
	if err != nil {
		return nil, err
	}

	status, err := parseStatusLine(output)
	if err != nil {
		return nil, err
	}

	procs, err := s.Processes(ctx, gpuID)
	if err != nil {
		s.logger.Debugf("GPU %d process query failed: %v", gpuID, err)
	} else {
		status.Processes = procs
	}

	return status, nil
}

// Processes lists compute processes resident on a GPU.
func (s *smiSource) Processes(ctx context.Context, gpuID int) ([]GPUProcess, error) {
	output, err := s.query(ctx,
		"--query-compute-apps=pid,process_name,used_memory",
		"--format=csv,noheader,nounits",
		fmt.Sprintf("--id=%d", gpuID))
	if err != nil {
		return nil, err
	}
	return parseProcessLines(output), nil
}

func (s *smiSource) query(ctx context.Context, args ...string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.path, args...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", s.path, err)
	}
	return string(output), nil
}

// parseStatusLine parses one row of the status query CSV.
func parseStatusLine(output string) (*GPUStatus, error) {
	fields := strings.Split(strings.TrimSpace(output), ",")
	if len(fields) < 7 {
		return nil, fmt.Errorf("unexpected nvidia-smi output: %q", output)
	}

	index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, fmt.Errorf("unexpected nvidia-smi index field: %q", fields[0])
	}

	status := &GPUStatus{GPUID: index}
	status.MemoryUsed, _ = strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	status.MemoryTotal, _ = strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	status.MemoryFree, _ = strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	status.Utilization, _ = strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	status.Temperature, _ = strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)
	status.PowerDraw, _ = strconv.ParseFloat(strings.TrimSpace(fields[6]), 64)

	return status, nil
}

// parseProcessLines parses the compute-apps query CSV. Blank output means no
// resident processes.
func parseProcessLines(output string) []GPUProcess {
	var procs []GPUProcess

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			continue
		}

		pid, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil {
			continue
		}
		memory, _ := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)

		procs = append(procs, GPUProcess{
			PID:      int32(pid),
			Name:     strings.TrimSpace(fields[1]),
			MemoryMB: memory,
		})
	}

	return procs
}
