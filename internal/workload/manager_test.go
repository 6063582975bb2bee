package workload

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLookupDeregister(t *testing.T) {
	m := NewManager(time.Second)

	require.NoError(t, m.Register("inference", "alloc-1", 12345))

	w, err := m.Lookup("inference")
	require.NoError(t, err)
	assert.Equal(t, 12345, w.PID)
	assert.Equal(t, "alloc-1", w.AllocationID)

	_, err = m.Lookup("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.True(t, m.Deregister("inference"))
	assert.False(t, m.Deregister("inference"))
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager(time.Second)

	assert.Error(t, m.Register("", "a", 1))
	assert.Error(t, m.Register("x", "a", 0))
	assert.Error(t, m.Register("x", "a", -5))
}

func TestListSorted(t *testing.T) {
	m := NewManager(time.Second)
	require.NoError(t, m.Register("zeta", "a1", 10))
	require.NoError(t, m.Register("alpha", "a2", 11))

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Component)
	assert.Equal(t, "zeta", list[1].Component)
}

func TestTerminateGraceful(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()
	go cmd.Wait() // reap so liveness probing sees the exit

	m := NewManager(5 * time.Second)
	require.NoError(t, m.Register("job", "alloc-1", cmd.Process.Pid))

	start := time.Now()
	require.NoError(t, m.Terminate(context.Background(), "job"))
	// sleep dies on SIGTERM, well inside the grace period
	assert.Less(t, time.Since(start), 3*time.Second)

	_, err := m.Lookup("job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminateAlreadyExited(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	m := NewManager(time.Second)
	require.NoError(t, m.Register("gone", "alloc-1", cmd.Process.Pid))

	assert.NoError(t, m.Terminate(context.Background(), "gone"))
}

func TestTerminateAllocation(t *testing.T) {
	first := exec.Command("sleep", "30")
	require.NoError(t, first.Start())
	defer first.Process.Kill()
	go first.Wait()
	second := exec.Command("sleep", "30")
	require.NoError(t, second.Start())
	defer second.Process.Kill()
	go second.Wait()

	m := NewManager(5 * time.Second)
	require.NoError(t, m.Register("worker-a", "alloc-x", first.Process.Pid))
	require.NoError(t, m.Register("worker-b", "alloc-x", second.Process.Pid))
	require.NoError(t, m.Register("other", "alloc-y", 99999999))

	require.NoError(t, m.TerminateAllocation(context.Background(), "alloc-x"))

	assert.Len(t, m.List(), 1)
	w, err := m.Lookup("other")
	require.NoError(t, err)
	assert.Equal(t, "alloc-y", w.AllocationID)
}
