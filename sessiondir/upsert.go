package sessiondir

import (
	"path/filepath"
	"sort"
	"strings"
)

// isValidWorktree rejects blank paths and the filesystem root
func isValidWorktree(worktree string) bool {
	if worktree == "" {
		return false
	}
	return worktree != "/" && worktree != string(filepath.Separator)
}

// identityKey is the comparison key for a worktree. Stored values keep
// their original casing.
func (c *Cache) identityKey(worktree string) string {
	if c.foldCase {
		return strings.ToLower(worktree)
	}
	return worktree
}

// upsertLocked inserts worktree or moves its timestamp forward.
// Returns false when nothing changed. Caller holds c.mu.
func (c *Cache) upsertLocked(worktree string, lastUpdated int64) bool {
	worktree = strings.TrimSpace(worktree)
	if !isValidWorktree(worktree) {
		return false
	}

	key := c.identityKey(worktree)
	dirs := c.snapshot.Directories

	found := false
	for i := range dirs {
		if c.identityKey(dirs[i].Worktree) != key {
			continue
		}
		if dirs[i].LastUpdated >= lastUpdated {
			return false
		}
		dirs[i].LastUpdated = lastUpdated
		found = true
		break
	}
	if !found {
		dirs = append(dirs, CachedDirectory{Worktree: worktree, LastUpdated: lastUpdated})
	}

	c.snapshot.Directories = normalizeDirectories(dirs, c.identityKey)
	return true
}

// normalizeDirectories keeps the newest entry per identity key, sorts by
// recency and truncates to MaxCachedDirectories.
func normalizeDirectories(dirs []CachedDirectory, keyFn func(string) string) []CachedDirectory {
	byKey := make(map[string]int, len(dirs))
	out := make([]CachedDirectory, 0, len(dirs))

	for _, d := range dirs {
		key := keyFn(d.Worktree)
		if idx, ok := byKey[key]; ok {
			if d.LastUpdated > out[idx].LastUpdated {
				out[idx] = d
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastUpdated != out[j].LastUpdated {
			return out[i].LastUpdated > out[j].LastUpdated
		}
		return out[i].Worktree < out[j].Worktree
	})

	if len(out) > MaxCachedDirectories {
		out = out[:MaxCachedDirectories]
	}
	return out
}
