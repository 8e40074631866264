package sessiondir

import (
	"encoding/json"
	"math"
	"strings"
)

// normalizeSnapshot turns whatever the store returned into a valid snapshot.
// Malformed envelopes become empty; bad entries are dropped; the directory
// list is re-deduplicated, sorted and capped so corrupted state heals on load.
func normalizeSnapshot(raw json.RawMessage, keyFn func(string) string) Snapshot {
	snap := emptySnapshot()
	if len(raw) == 0 {
		return snap
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return snap
	}

	if ts, ok := parseTimestamp(envelope["lastSyncedUpdatedAt"]); ok {
		snap.LastSyncedUpdatedAt = ts
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(envelope["directories"], &entries); err != nil {
		return snap
	}

	dirs := make([]CachedDirectory, 0, len(entries))
	for _, entry := range entries {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
			continue
		}

		var worktree string
		if err := json.Unmarshal(fields["worktree"], &worktree); err != nil {
			continue
		}
		worktree = strings.TrimSpace(worktree)
		if !isValidWorktree(worktree) {
			continue
		}

		lastUpdated, ok := parseTimestamp(fields["lastUpdated"])
		if !ok {
			continue
		}

		dirs = append(dirs, CachedDirectory{Worktree: worktree, LastUpdated: lastUpdated})
	}

	snap.Directories = normalizeDirectories(dirs, keyFn)
	return snap
}

// parseTimestamp accepts any finite, non-negative JSON number below 2^63.
// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
func parseTimestamp(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
