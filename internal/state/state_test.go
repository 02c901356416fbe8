package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sync_state.json")
}

func TestWindow_FirstRunUsesLookback(t *testing.T) {
	tracker := NewTracker(statePath(t))
	end := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	start, gotEnd := tracker.Window(14, end)
	assert.Equal(t, end.AddDate(0, 0, -14), start)
	assert.Equal(t, end, gotEnd)
}

func TestWindow_WatermarkMinusOneMillisecond(t *testing.T) {
	path := statePath(t)
	tracker := NewTracker(path)
	watermark := time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)
	require.NoError(t, tracker.Commit(watermark))

	end := watermark.AddDate(0, 0, 1)
	start, _ := tracker.Window(14, end)
	assert.Equal(t, watermark.Add(-time.Millisecond), start,
		"start must back off 1ms to cover the exclusive lower bound")
}

func TestCommit_PersistsAcrossTrackers(t *testing.T) {
	path := statePath(t)
	watermark := time.Date(2025, 6, 10, 8, 30, 0, 0, time.UTC)
	require.NoError(t, NewTracker(path).Commit(watermark))

	reloaded := NewTracker(path)
	require.NotNil(t, reloaded.LastSyncedAt())
	assert.True(t, reloaded.LastSyncedAt().Equal(watermark))
}

func TestCommit_NeverMovesBackwards(t *testing.T) {
	path := statePath(t)
	tracker := NewTracker(path)
	later := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	earlier := later.AddDate(0, 0, -3)

	require.NoError(t, tracker.Commit(later))
	require.NoError(t, tracker.Commit(earlier))

	assert.True(t, tracker.LastSyncedAt().Equal(later))
	assert.True(t, NewTracker(path).LastSyncedAt().Equal(later))
}

func TestCommit_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "sync_state.json")
	require.NoError(t, NewTracker(path).Commit(time.Now()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestNewTracker_MalformedFileDegradesToEmpty(t *testing.T) {
	path := statePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	tracker := NewTracker(path)
	assert.Nil(t, tracker.LastSyncedAt())
}

func TestReset(t *testing.T) {
	path := statePath(t)
	tracker := NewTracker(path)
	require.NoError(t, tracker.Commit(time.Now()))
	require.NoError(t, tracker.Reset())

	assert.Nil(t, tracker.LastSyncedAt())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Resetting an absent watermark is fine.
	assert.NoError(t, tracker.Reset())
}
