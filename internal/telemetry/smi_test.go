package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseStatusLine tests parsing a nvidia-smi status row
func TestParseStatusLine(t *testing.T) {
	output := "0, 12288, 81920, 69632, 87, 63, 312.45\n"

	status, err := parseStatusLine(output)
	require.NoError(t, err)

	assert.Equal(t, 0, status.GPUID)
	assert.InDelta(t, 12288.0, status.MemoryUsed, 0.01)
	assert.InDelta(t, 81920.0, status.MemoryTotal, 0.01)
	assert.InDelta(t, 69632.0, status.MemoryFree, 0.01)
	assert.InDelta(t, 87.0, status.Utilization, 0.01)
	assert.InDelta(t, 63.0, status.Temperature, 0.01)
	assert.InDelta(t, 312.45, status.PowerDraw, 0.01)
}

// TestParseStatusLineMalformed tests rejection of short or garbage rows
func TestParseStatusLineMalformed(t *testing.T) {
	_, err := parseStatusLine("0, 12288, 81920\n")
	assert.Error(t, err)

	_, err = parseStatusLine("not-a-number, 1, 2, 3, 4, 5, 6\n")
	assert.Error(t, err)
}

// TestParseProcessLines tests parsing the compute-apps query
func TestParseProcessLines(t *testing.T) {
	output := "41923, /opt/vllm/bin/python, 24576\n" +
		"52001, tts-worker, 8192\n" +
		"\n" +
		"garbage-line\n"

	procs := parseProcessLines(output)
	require.Len(t, procs, 2)

	assert.Equal(t, int32(41923), procs[0].PID)
	assert.Equal(t, "/opt/vllm/bin/python", procs[0].Name)
	assert.InDelta(t, 24576.0, procs[0].MemoryMB, 0.01)
	assert.Equal(t, "tts-worker", procs[1].Name)
}

// TestParseProcessLinesEmpty tests that idle GPUs produce no processes
func TestParseProcessLinesEmpty(t *testing.T) {
	assert.Empty(t, parseProcessLines(""))
	assert.Empty(t, parseProcessLines("\n\n"))
}
