package sessiondir

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
)

// storageRootsFromPathInfo maps the server's reported paths to at most two
// candidate data directories. A state directory ending in state/opencode has
// its data in the sibling share/opencode; home falls back to the XDG default.
func storageRootsFromPathInfo(info opencode.PathInfo) []string {
	var roots []string
	add := func(p string) {
		if p == "" {
			return
		}
		p = filepath.Clean(p)
		for _, r := range roots {
			if r == p {
				return
			}
		}
		roots = append(roots, p)
	}

	if state := strings.TrimSpace(info.State); state != "" {
		clean := filepath.Clean(state)
		suffix := filepath.Join("state", "opencode")
		if strings.HasSuffix(clean, string(filepath.Separator)+suffix) {
			add(filepath.Join(strings.TrimSuffix(clean, suffix), "share", "opencode"))
		}
	}

	if home := strings.TrimSpace(info.Home); home != "" {
		add(filepath.Join(home, ".local", "share", "opencode"))
	}

	return roots
}

// StorageRoots returns the candidate opencode data directories. The result
// is resolved once; a failed lookup resolves to no roots.
func (c *Cache) StorageRoots(ctx context.Context) []string {
	c.mu.Lock()
	if c.rootsResolved {
		roots := append([]string(nil), c.roots...)
		c.mu.Unlock()
		return roots
	}
	c.mu.Unlock()

	roots := c.discoverRoots(ctx)

	c.mu.Lock()
	c.roots = roots
	c.rootsResolved = true
	c.mu.Unlock()

	return append([]string(nil), roots...)
}

func (c *Cache) discoverRoots(ctx context.Context) []string {
	if len(c.fixedRoots) > 0 {
		return append([]string(nil), c.fixedRoots...)
	}

	provider, ok := c.client.(PathInfoProvider)
	if !ok {
		log.Debug().Msg("opencode client cannot report paths, skipping storage fallbacks")
		return nil
	}

	info, err := provider.PathInfo(ctx)
	if err != nil {
		if errors.Is(err, opencode.ErrUnsupported) {
			log.Debug().Msg("opencode server has no path endpoint, skipping storage fallbacks")
		} else {
			log.Warn().Err(err).Msg("failed to query opencode paths")
		}
		return nil
	}

	return storageRootsFromPathInfo(info)
}
