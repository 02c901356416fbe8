// Package state owns the sync watermark: the single timestamp marking the
// upper bound of previously-ingested history.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"fjacquet/bank-sync/internal/syncerror"
)

// boundaryAdjustment compensates for the source API's exclusive lower bound.
// Without it, a transaction landing exactly on the watermark instant would be
// silently skipped on the next run.
const boundaryAdjustment = time.Millisecond

// SyncState is the persisted watermark. LastSyncedAt is nil before the first
// successful run. Monotonically non-decreasing across successful runs; never
// advanced on a failed or dry run.
type SyncState struct {
	LastSyncedAt *time.Time `json:"last_synced_at"`
}

// Tracker reads and conditionally advances the watermark file. The file is a
// single JSON scalar written atomically via rename; there is no other
// persistent state.
type Tracker struct {
	path  string
	state SyncState
}

// NewTracker loads the watermark from path. A missing, unreadable or
// malformed file yields an empty state so a damaged watermark degrades to a
// lookback fetch instead of aborting the run.
func NewTracker(path string) *Tracker {
	tracker := &Tracker{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return tracker
	}
	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return tracker
	}
	if state.LastSyncedAt != nil {
		utc := state.LastSyncedAt.UTC()
		state.LastSyncedAt = &utc
	}
	tracker.state = state
	return tracker
}

// LastSyncedAt returns the current watermark, or nil on first run.
func (t *Tracker) LastSyncedAt() *time.Time {
	return t.state.LastSyncedAt
}

// Window resolves the fetch window ending at end. With a prior watermark the
// start is the watermark minus 1ms; otherwise it falls back to end minus
// lookbackDays.
func (t *Tracker) Window(lookbackDays int, end time.Time) (time.Time, time.Time) {
	end = end.UTC()
	if t.state.LastSyncedAt != nil {
		return t.state.LastSyncedAt.Add(-boundaryAdjustment), end
	}
	return end.AddDate(0, 0, -lookbackDays), end
}

// Commit advances the watermark to newWatermark and persists it atomically.
// Only the orchestrator calls this, and only after every ledger write has
// succeeded. The watermark never moves backwards.
func (t *Tracker) Commit(newWatermark time.Time) error {
	newWatermark = newWatermark.UTC()
	if t.state.LastSyncedAt != nil && newWatermark.Before(*t.state.LastSyncedAt) {
		newWatermark = *t.state.LastSyncedAt
	}
	t.state.LastSyncedAt = &newWatermark
	return t.write()
}

// Reset deletes the watermark so the next run performs a full lookback fetch.
func (t *Tracker) Reset() error {
	t.state = SyncState{}
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return &syncerror.StateError{Path: t.path, Err: err}
	}
	return nil
}

func (t *Tracker) write() error {
	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return &syncerror.StateError{Path: t.path, Err: err}
	}

	dir := filepath.Dir(t.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &syncerror.StateError{Path: t.path, Err: err}
		}
	}

	tmp, err := os.CreateTemp(dir, ".sync_state-*")
	if err != nil {
		return &syncerror.StateError{Path: t.path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &syncerror.StateError{Path: t.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &syncerror.StateError{Path: t.path, Err: err}
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		_ = os.Remove(tmpName)
		return &syncerror.StateError{Path: t.path, Err: err}
	}
	return nil
}
