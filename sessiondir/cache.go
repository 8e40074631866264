// Package sessiondir keeps a small persisted list of recently active
// worktree directories, fed by the opencode session API and, during warmup,
// by opencode's own database and session files on disk.
package sessiondir

import (
	"context"
	"database/sql"
	"runtime"
	"sync"
	"time"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
	"golang.org/x/sync/singleflight"
)

// Options configures a Cache
type Options struct {
	Store  Store
	Client SessionLister

	// Now defaults to time.Now
	Now func() time.Time

	KeyMode KeyMode

	// Notify, when set, receives a copy of the directory list after every change
	Notify func([]CachedDirectory)

	// SyncFailed, when set, is called with every failed remote sync
	SyncFailed func(err error, forced bool)

	// StorageRoots overrides discovery through the path endpoint
	StorageRoots []string

	// OpenDB opens opencode's database read-only; defaults to modernc sqlite
	OpenDB func(path string) (*sql.DB, error)
}

// Cache is the in-memory directory cache. Construct one per process with New.
type Cache struct {
	store    Store
	client   SessionLister
	now      func() time.Time
	foldCase bool
	notify   func([]CachedDirectory)
	failed   func(error, bool)
	openDB   func(path string) (*sql.DB, error)

	fixedRoots []string

	mu                sync.Mutex
	loaded            bool
	snapshot          Snapshot
	lastSyncAttemptMs int64
	roots             []string
	rootsResolved     bool
	revision          uint64

	// emitMu orders change notifications; emitted is the newest revision sent
	emitMu  sync.Mutex
	emitted uint64

	flight singleflight.Group
	queue  *writeQueue
}

// New creates a cache. Nothing is read from the store until first use.
func New(opts Options) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	openDB := opts.OpenDB
	if openDB == nil {
		openDB = openReadOnlyDB
	}

	c := &Cache{
		store:      opts.Store,
		client:     opts.Client,
		now:        now,
		foldCase:   foldsCase(opts.KeyMode),
		notify:     opts.Notify,
		failed:     opts.SyncFailed,
		openDB:     openDB,
		fixedRoots: opts.StorageRoots,
		snapshot:   emptySnapshot(),
	}
	c.queue = newWriteQueue(c.write)
	return c
}

func foldsCase(mode KeyMode) bool {
	switch mode {
	case KeyModeFold:
		return true
	case KeyModeExact:
		return false
	default:
		return runtime.GOOS == "darwin" || runtime.GOOS == "windows"
	}
}

func emptySnapshot() Snapshot {
	return Snapshot{Version: CacheVersion, Directories: []CachedDirectory{}}
}

// ensureLoaded reads and normalizes the persisted snapshot once.
func (c *Cache) ensureLoaded(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoadedLocked(ctx)
}

func (c *Cache) ensureLoadedLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true

	if c.store == nil {
		return
	}

	raw, err := c.store.GetSessionDirectoryCache(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read session directory cache, starting empty")
		return
	}

	c.snapshot = normalizeSnapshot(raw, c.identityKey)
	log.Debug().
		Int("directories", len(c.snapshot.Directories)).
		Int64("watermark", c.snapshot.LastSyncedUpdatedAt).
		Msg("session directory cache loaded")
}

// Directories returns a copy of the cached directories, most recent first.
func (c *Cache) Directories() []CachedDirectory {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoadedLocked(context.Background())
	return copyDirectories(c.snapshot.Directories)
}

// Snapshot returns a deep copy of the full cache state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoadedLocked(context.Background())
	return c.snapshotLocked()
}

// Stats reports cache state without forcing a load.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Loaded:          c.loaded,
		Directories:     len(c.snapshot.Directories),
		Watermark:       c.snapshot.LastSyncedUpdatedAt,
		LastSyncAttempt: c.lastSyncAttemptMs,
	}
}

// UpsertDirectory records activity in worktree. A zero lastUpdated means now.
// Blank and root paths are ignored.
func (c *Cache) UpsertDirectory(worktree string, lastUpdated int64) {
	if lastUpdated == 0 {
		lastUpdated = c.nowMs()
	}

	c.mu.Lock()
	c.ensureLoadedLocked(context.Background())
	if !c.upsertLocked(worktree, lastUpdated) {
		c.mu.Unlock()
		return
	}
	rev, dirs := c.commitLocked()
	c.mu.Unlock()

	c.emit(rev, dirs)
}

// ingest upserts a batch and advances the watermark to the newest timestamp
// seen. At most one write is enqueued for the whole batch.
func (c *Cache) ingest(records []record, source string) bool {
	if len(records) == 0 {
		return false
	}

	c.mu.Lock()
	c.ensureLoadedLocked(context.Background())

	changed := false
	var maxSeen int64
	for _, r := range records {
		if c.upsertLocked(r.worktree, r.updated) {
			changed = true
		}
		if r.updated > maxSeen {
			maxSeen = r.updated
		}
	}
	if maxSeen > c.snapshot.LastSyncedUpdatedAt {
		c.snapshot.LastSyncedUpdatedAt = maxSeen
		changed = true
	}

	if !changed {
		c.mu.Unlock()
		return false
	}
	rev, dirs := c.commitLocked()
	watermark := c.snapshot.LastSyncedUpdatedAt
	c.mu.Unlock()

	log.Debug().
		Str("source", source).
		Int("records", len(records)).
		Int64("watermark", watermark).
		Msg("session directories updated")

	c.emit(rev, dirs)
	return true
}

// commitLocked enqueues the current snapshot for persistence while the lock
// is held, so queue order matches mutation order. The returned revision
// orders the change notification.
func (c *Cache) commitLocked() (uint64, []CachedDirectory) {
	c.queue.enqueue(c.snapshotLocked())
	c.revision++
	return c.revision, copyDirectories(c.snapshot.Directories)
}

// emit runs the notify hook outside c.mu. A revision older than one already
// sent is dropped, so the last list a subscriber sees is the current one.
func (c *Cache) emit(rev uint64, dirs []CachedDirectory) {
	if c.notify == nil {
		return
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if rev <= c.emitted {
		return
	}
	c.emitted = rev
	c.notify(dirs)
}

func (c *Cache) snapshotLocked() Snapshot {
	return Snapshot{
		Version:             CacheVersion,
		LastSyncedUpdatedAt: c.snapshot.LastSyncedUpdatedAt,
		Directories:         copyDirectories(c.snapshot.Directories),
	}
}

func (c *Cache) write(ctx context.Context, snapshot Snapshot) error {
	if c.store == nil {
		return nil
	}
	return c.store.SetSessionDirectoryCache(ctx, snapshot)
}

// Flush blocks until every write enqueued so far has been attempted.
func (c *Cache) Flush(ctx context.Context) error {
	return c.queue.flush(ctx)
}

// Close drains pending writes and stops the persistence worker.
func (c *Cache) Close(ctx context.Context) error {
	return c.queue.close(ctx)
}

// ResetForTests restores the pristine, not-yet-loaded state.
func (c *Cache) ResetForTests() {
	_ = c.queue.flush(context.Background())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.snapshot = emptySnapshot()
	c.lastSyncAttemptMs = 0
	c.roots = nil
	c.rootsResolved = false
}

func (c *Cache) nowMs() int64 {
	return c.now().UnixMilli()
}

func copyDirectories(dirs []CachedDirectory) []CachedDirectory {
	out := make([]CachedDirectory, len(dirs))
	copy(out, dirs)
	return out
}
