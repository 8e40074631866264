package sessiondir

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
)

type dbRow struct {
	directory any
	updated   any
}

// writeOpencodeDB creates <root>/opencode.db with a minimal session table
func writeOpencodeDB(t *testing.T, root string, rows []dbRow) {
	t.Helper()
	require.NoError(t, os.MkdirAll(root, 0o755))

	conn, err := sql.Open("sqlite", sqliteFileDSN(filepath.Join(root, databaseFileName), "rwc"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(`CREATE TABLE session (id TEXT PRIMARY KEY, directory TEXT, time_updated INTEGER)`)
	require.NoError(t, err)
	for i, r := range rows {
		_, err := conn.Exec(`INSERT INTO session (id, directory, time_updated) VALUES (?, ?, ?)`,
			fmt.Sprintf("ses_%d", i), r.directory, r.updated)
		require.NoError(t, err)
	}
}

// writeSessionFile creates <root>/storage/session/<project>/<name> with the given mtime
func writeSessionFile(t *testing.T, root, project, name, body string, mtime time.Time) string {
	t.Helper()
	dir := filepath.Join(root, "storage", "session", project)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func fallbackFixture(t *testing.T, roots ...string) *fixture {
	return newFixture(t, func(o *Options) { o.StorageRoots = roots })
}

func TestIngestFromDatabase(t *testing.T) {
	root := t.TempDir()
	writeOpencodeDB(t, root, []dbRow{
		{directory: "/repo-a", updated: int64(100)},
		{directory: "/repo-a", updated: int64(300)},
		{directory: "/repo-b", updated: int64(200)},
		{directory: "", updated: int64(900)},
		{directory: nil, updated: int64(900)},
		{directory: "/no-time", updated: nil},
	})
	f := fallbackFixture(t, root)

	changed := f.cache.ingestFromDatabase(context.Background(), []string{root})
	require.True(t, changed)

	now := f.clock.Now().UnixMilli()
	assert.Equal(t, []CachedDirectory{
		{Worktree: "/no-time", LastUpdated: now},
		{Worktree: "/repo-a", LastUpdated: 300},
		{Worktree: "/repo-b", LastUpdated: 200},
	}, f.cache.Directories())
	assert.Equal(t, now, f.cache.Stats().Watermark)
}

func TestIngestFromDatabase_StopsAtFirstReadableRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	first := t.TempDir()
	second := t.TempDir()
	writeOpencodeDB(t, first, []dbRow{{directory: "/from-first", updated: int64(100)}})
	writeOpencodeDB(t, second, []dbRow{{directory: "/from-second", updated: int64(200)}})
	f := fallbackFixture(t)

	f.cache.ingestFromDatabase(context.Background(), []string{missing, first, second})

	assert.Equal(t, []string{"/from-first"}, worktrees(f.cache.Directories()))
}

func TestIngestFromDatabase_SkipsUnreadableDatabase(t *testing.T) {
	corrupt := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(corrupt, databaseFileName), []byte("definitely not sqlite"), 0o644))
	good := t.TempDir()
	writeOpencodeDB(t, good, []dbRow{{directory: "/repo-a", updated: int64(100)}})
	f := fallbackFixture(t)

	f.cache.ingestFromDatabase(context.Background(), []string{corrupt, good})

	assert.Equal(t, []string{"/repo-a"}, worktrees(f.cache.Directories()))
}

func TestSqliteFileDSN(t *testing.T) {
	assert.Equal(t, "file:///data/opencode.db?mode=ro", sqliteFileDSN("/data/opencode.db", "ro"))
	assert.Equal(t, "file:///data/a%3Fb%23c%20d/opencode.db?mode=ro", sqliteFileDSN("/data/a?b#c d/opencode.db", "ro"))
}

func TestIngestFromDatabase_PathNeedsEscaping(t *testing.T) {
	root := filepath.Join(t.TempDir(), "odd ?name#1")
	writeOpencodeDB(t, root, []dbRow{{directory: "/repo-a", updated: 100}})
	f := fallbackFixture(t)

	require.True(t, f.cache.ingestFromDatabase(context.Background(), []string{root}))
	assert.Equal(t, []string{"/repo-a"}, worktrees(f.cache.Directories()))
}

func TestIngestFromDatabase_RespectsRowLimit(t *testing.T) {
	root := t.TempDir()
	var rows []dbRow
	for i := 0; i < fallbackLimit+50; i++ {
		rows = append(rows, dbRow{directory: fmt.Sprintf("/repo-%03d", i), updated: int64(i + 1)})
	}
	writeOpencodeDB(t, root, rows)

	var opened string
	f := newFixture(t, func(o *Options) {
		o.OpenDB = func(path string) (*sql.DB, error) {
			opened = path
			return openReadOnlyDB(path)
		}
	})

	records, err := f.cache.readDatabase(context.Background(), filepath.Join(root, databaseFileName))
	require.NoError(t, err)
	assert.Len(t, records, fallbackLimit)
	assert.Equal(t, int64(fallbackLimit+50), records[0].updated)
	assert.Equal(t, filepath.Join(root, databaseFileName), opened)
}

func TestIngestFromStorageFiles(t *testing.T) {
	root := t.TempDir()
	base := time.UnixMilli(1_700_000_000_000)
	writeSessionFile(t, root, "proj1", "ses_1.json", `{"directory":"/repo-a","time":{"updated":1700000000500}}`, base)
	writeSessionFile(t, root, "proj1", "ses_2.json", `{"directory":"/repo-b"}`, base.Add(time.Second))
	writeSessionFile(t, root, "proj2", "ses_3.json", `{not json`, base.Add(2*time.Second))
	writeSessionFile(t, root, "proj2", "ses_4.json", `{"title":"no directory"}`, base.Add(3*time.Second))
	writeSessionFile(t, root, "proj2", "notes.txt", `{"directory":"/ignored"}`, base.Add(4*time.Second))
	f := fallbackFixture(t)

	changed := f.cache.ingestFromStorageFiles(context.Background(), []string{root})
	require.True(t, changed)

	assert.Equal(t, []CachedDirectory{
		{Worktree: "/repo-b", LastUpdated: base.Add(time.Second).UnixMilli()},
		{Worktree: "/repo-a", LastUpdated: 1700000000500},
	}, f.cache.Directories())
}

func TestIngestFromStorageFiles_ScansNewestFilesOnly(t *testing.T) {
	root := t.TempDir()
	base := time.UnixMilli(1_600_000_000_000)
	writeSessionFile(t, root, "old", "ses_old.json", `{"directory":"/too-old"}`, base)
	for i := 0; i < fallbackLimit; i++ {
		writeSessionFile(t, root, "new", fmt.Sprintf("ses_%03d.json", i),
			`{"directory":"/recent","time":{"updated":1700000000000}}`, base.Add(time.Duration(i+1)*time.Minute))
	}
	f := fallbackFixture(t)

	f.cache.ingestFromStorageFiles(context.Background(), []string{root})

	assert.Equal(t, []string{"/recent"}, worktrees(f.cache.Directories()))
}

func TestIngestFromStorageFiles_StopsAtFirstListableRoot(t *testing.T) {
	empty := t.TempDir()
	first := t.TempDir()
	second := t.TempDir()
	now := time.Now()
	writeSessionFile(t, first, "p", "a.json", `{"directory":"/from-first","time":{"updated":1}}`, now)
	writeSessionFile(t, second, "p", "b.json", `{"directory":"/from-second","time":{"updated":2}}`, now)
	f := fallbackFixture(t)

	f.cache.ingestFromStorageFiles(context.Background(), []string{empty, first, second})

	assert.Equal(t, []string{"/from-first"}, worktrees(f.cache.Directories()))
}

func TestWarmup_UsesAllSourcesInOrder(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeOpencodeDB(t, root, []dbRow{{directory: "/from-db", updated: int64(1700000000300)}})
	writeSessionFile(t, root, "p", "s.json", `{"directory":"/from-files","time":{"updated":1700000000400}}`, time.Now())

	client := &pathClient{info: opencode.PathInfo{Home: "/nonexistent"}}
	client.set([]opencode.Session{session("/from-api", 1700000000200)}, nil)
	store := &memStore{}
	c := New(Options{Store: store, Client: client, KeyMode: KeyModeExact, StorageRoots: []string{root}})
	t.Cleanup(func() { _ = c.Close(ctx) })

	require.NoError(t, c.Warmup(ctx))
	require.NoError(t, c.Flush(ctx))

	assert.Equal(t, []string{"/from-files", "/from-db", "/from-api"}, worktrees(c.Directories()))
	assert.Equal(t, int64(1700000000400), c.Stats().Watermark)
	assert.Equal(t, int64(1700000000400), store.persisted(t).LastSyncedUpdatedAt)
}

func TestWarmup_FallbackFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, databaseFileName), []byte("garbage"), 0o644))
	f := fallbackFixture(t, root)
	f.client.set([]opencode.Session{session("/repo-a", 100)}, nil)

	require.NoError(t, f.cache.Warmup(ctx))

	assert.Equal(t, []string{"/repo-a"}, worktrees(f.cache.Directories()))
}

func TestWarmup_PanickingStageDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeSessionFile(t, root, "p", "s.json", `{"directory":"/from-files","time":{"updated":5}}`, time.Now())
	f := newFixture(t, func(o *Options) {
		o.StorageRoots = []string{root}
		o.OpenDB = func(string) (*sql.DB, error) { panic("driver exploded") }
	})
	writeOpencodeDB(t, root, []dbRow{{directory: "/from-db", updated: int64(1)}})

	require.NoError(t, f.cache.Warmup(ctx))

	assert.Equal(t, []string{"/from-files"}, worktrees(f.cache.Directories()))
}

func TestWarmup_SyncFailureStillRunsFallbacks(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeOpencodeDB(t, root, []dbRow{{directory: "/from-db", updated: int64(100)}})
	f := fallbackFixture(t, root)
	f.client.set(nil, assert.AnError)

	err := f.cache.Warmup(ctx)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []string{"/from-db"}, worktrees(f.cache.Directories()))
	assert.Zero(t, f.cache.Stats().LastSyncAttempt)
}
