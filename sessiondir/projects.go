package sessiondir

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"

	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
)

const projectIDPrefix = "dir_"

// projectID is stable across restarts for the same worktree path
func projectID(worktree string) string {
	sum := sha1.Sum([]byte(worktree))
	return projectIDPrefix + hex.EncodeToString(sum[:])[:16]
}

// Projects exposes the cached directories as pseudo-projects, most recent first.
func (c *Cache) Projects() []Project {
	dirs := c.Directories()
	projects := make([]Project, 0, len(dirs))
	for _, d := range dirs {
		projects = append(projects, Project{
			ID:          projectID(d.Worktree),
			Worktree:    d.Worktree,
			Name:        d.Worktree,
			LastUpdated: d.LastUpdated,
		})
	}
	return projects
}

// MergeProjects combines real opencode projects with cached pseudo-projects.
// A cached entry whose worktree matches a remote project only contributes its
// timestamp when newer; the rest are appended. Output is most recent first.
func (c *Cache) MergeProjects(remote []opencode.Project, cached []Project) []Project {
	merged := make([]Project, 0, len(remote)+len(cached))
	byKey := make(map[string]int, len(remote))

	for _, p := range remote {
		if p.Worktree == "" {
			continue
		}
		key := c.identityKey(p.Worktree)
		if _, ok := byKey[key]; ok {
			continue
		}
		byKey[key] = len(merged)
		merged = append(merged, Project{
			ID:          p.ID,
			Worktree:    p.Worktree,
			Name:        p.Worktree,
			LastUpdated: p.Time.Updated,
		})
	}

	for _, p := range cached {
		key := c.identityKey(p.Worktree)
		if idx, ok := byKey[key]; ok {
			if p.LastUpdated > merged[idx].LastUpdated {
				merged[idx].LastUpdated = p.LastUpdated
			}
			continue
		}
		byKey[key] = len(merged)
		merged = append(merged, p)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].LastUpdated > merged[j].LastUpdated
	})
	return merged
}
