package sessiondir

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
)

const (
	// CacheVersion is the only persisted envelope version
	CacheVersion = 1

	// MaxCachedDirectories bounds the recent-directory list
	MaxCachedDirectories = 10

	// listPageSize is requested on every session list call
	listPageSize = 1000

	// syncSafetyWindow is subtracted from the watermark so updates that
	// land near the boundary (clock skew, late writes) are fetched again
	syncSafetyWindow = 60 * time.Second

	// syncCooldown throttles non-forced syncs
	syncCooldown = 60 * time.Second

	// fallbackLimit caps rows read from the database and files scanned on disk
	fallbackLimit = 200
)

// CachedDirectory is one recently active worktree
type CachedDirectory struct {
	Worktree    string `json:"worktree"`
	LastUpdated int64  `json:"lastUpdated"`
}

// Snapshot is the persisted cache envelope
type Snapshot struct {
	Version             int               `json:"version"`
	LastSyncedUpdatedAt int64             `json:"lastSyncedUpdatedAt"`
	Directories         []CachedDirectory `json:"directories"`
}

// Project is a read-only project record. Cached directories are exposed as
// projects with a synthetic "dir_" identifier.
type Project struct {
	ID          string `json:"id"`
	Worktree    string `json:"worktree"`
	Name        string `json:"name"`
	LastUpdated int64  `json:"lastUpdated"`
}

// Stats summarizes cache state for health reporting
type Stats struct {
	Loaded          bool  `json:"loaded"`
	Directories     int   `json:"directories"`
	Watermark       int64 `json:"watermark"`
	LastSyncAttempt int64 `json:"lastSyncAttempt"`
}

// Store persists the cache as an opaque JSON blob
type Store interface {
	GetSessionDirectoryCache(ctx context.Context) (json.RawMessage, error)
	SetSessionDirectoryCache(ctx context.Context, snapshot any) error
}

// SessionLister lists sessions from the opencode server
type SessionLister interface {
	ListSessions(ctx context.Context, params opencode.ListSessionsParams) ([]opencode.Session, error)
}

// PathInfoProvider is an optional capability of a SessionLister. Servers
// that lack the endpoint return opencode.ErrUnsupported.
type PathInfoProvider interface {
	PathInfo(ctx context.Context) (opencode.PathInfo, error)
}

// KeyMode controls how worktree paths are compared
type KeyMode int

const (
	// KeyModePlatform folds case on darwin and windows only
	KeyModePlatform KeyMode = iota
	// KeyModeFold always compares case-insensitively
	KeyModeFold
	// KeyModeExact always compares byte-for-byte
	KeyModeExact
)

// SyncOptions controls a Sync call
type SyncOptions struct {
	// Force skips the cooldown and propagates remote errors
	Force bool
}

// record is one directory observation from any ingestion source
type record struct {
	worktree string
	updated  int64
}
