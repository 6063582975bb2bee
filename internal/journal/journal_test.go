package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-project/warden/internal/config"
)

func TestMemoryStoreAppendRecent(t *testing.T) {
	s := NewMemoryStore(10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Append(ctx, Record{
			Time:         time.Now(),
			Kind:         KindAllocated,
			AllocationID: "a1",
			Component:    "inference",
		})
		require.NoError(t, err)
	}

	recs, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	// Newest first
	assert.Greater(t, recs[0].ID, recs[1].ID)
}

func TestMemoryStoreRetention(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(ctx, Record{Time: time.Now(), Kind: KindShed}))
	}

	recs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	// Oldest entries were dropped
	assert.EqualValues(t, 10, recs[0].ID)
}

func TestSQLiteStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := NewSQLiteStore(path, 100)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, s.Append(ctx, Record{
		Time:         now,
		Kind:         KindEmergency,
		AllocationID: "",
		Component:    "",
		Detail:       "gpu_critical on GPU 2",
	}))
	require.NoError(t, s.Append(ctx, Record{
		Time:         now.Add(time.Second),
		Kind:         KindEscalation,
		AllocationID: "a7",
		Component:    "training",
	}))

	recs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, KindEscalation, recs[0].Kind)
	assert.Equal(t, "a7", recs[0].AllocationID)
	assert.Equal(t, KindEmergency, recs[1].Kind)
	assert.Equal(t, "gpu_critical on GPU 2", recs[1].Detail)
	assert.True(t, recs[1].Time.Equal(now))
}

func TestSQLiteStorePrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := NewSQLiteStore(path, 5)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.Append(ctx, Record{Time: time.Now(), Kind: KindDeallocated}))
	}

	recs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestNewFromConfig(t *testing.T) {
	s, err := New(&config.JournalConfig{Type: "memory", Retain: 10})
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)

	_, err = New(&config.JournalConfig{Type: "bogus"})
	assert.Error(t, err)
}
