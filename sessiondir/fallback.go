package sessiondir

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

const (
	databaseFileName = "opencode.db"
	statConcurrency  = 16
)

// sessionStorageDir is where opencode keeps one JSON file per session,
// grouped in per-project subdirectories
var sessionStorageDir = filepath.Join("storage", "session")

const latestDirectoriesQuery = `
	SELECT directory, MAX(time_updated) AS updated
	FROM session
	WHERE directory IS NOT NULL AND directory != ''
	GROUP BY directory
	ORDER BY updated DESC
	LIMIT ?
`

// sqliteFileDSN builds a file: URI for path, escaping characters such as
// '?' and '#' that would otherwise end the filename.
func sqliteFileDSN(path, mode string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p // windows drive letter
	}
	u := url.URL{Scheme: "file", Path: p, RawQuery: url.Values{"mode": {mode}}.Encode()}
	return u.String()
}

func openReadOnlyDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", sqliteFileDSN(path, "ro"))
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Warmup populates the cache from every source: a forced sync, then
// opencode's database, then its session files. Fallback failures are logged
// and never abort warmup. The returned error is the sync error, if any.
func (c *Cache) Warmup(ctx context.Context) error {
	started := time.Now()
	c.ensureLoaded(ctx)

	syncErr := c.Sync(ctx, SyncOptions{Force: true})
	if syncErr != nil {
		log.Warn().Err(syncErr).Msg("warmup sync failed, continuing with local sources")
	}

	var roots []string
	c.runStage("roots", func() { roots = c.StorageRoots(ctx) })
	c.runStage("database", func() { c.ingestFromDatabase(ctx, roots) })
	c.runStage("storage", func() { c.ingestFromStorageFiles(ctx, roots) })

	log.Info().
		Int("directories", len(c.Directories())).
		Int("roots", len(roots)).
		Dur("took", time.Since(started)).
		Msg("session directory cache warmed up")

	return syncErr
}

// runStage isolates one warmup stage so a panic in it is logged and skipped
func (c *Cache) runStage(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("stage", name).Interface("panic", r).Msg("warmup stage failed")
		}
	}()
	fn()
}

// ingestFromDatabase reads the newest directories from the first root with
// a readable opencode.db.
func (c *Cache) ingestFromDatabase(ctx context.Context, roots []string) bool {
	for _, root := range roots {
		path := filepath.Join(root, databaseFileName)
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			continue
		}

		records, err := c.readDatabase(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to read opencode database")
			continue
		}

		changed := c.ingest(records, "database")
		log.Debug().
			Str("path", path).
			Int("rows", len(records)).
			Bool("changed", changed).
			Msg("ingested opencode database")
		return changed
	}
	return false
}

func (c *Cache) readDatabase(ctx context.Context, path string) ([]record, error) {
	conn, err := c.openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, latestDirectoriesQuery, fallbackLimit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	now := c.nowMs()
	var records []record
	for rows.Next() {
		var dir sql.NullString
		var updated sql.NullInt64
		if err := rows.Scan(&dir, &updated); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		worktree := strings.TrimSpace(dir.String)
		if !dir.Valid || worktree == "" {
			continue
		}
		ts := updated.Int64
		if !updated.Valid || ts <= 0 {
			ts = now
		}
		records = append(records, record{worktree: worktree, updated: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return records, nil
}

// storedSession is the part of an on-disk session file we read
type storedSession struct {
	Directory string `json:"directory"`
	Time      struct {
		Updated int64 `json:"updated"`
	} `json:"time"`
}

type sessionFile struct {
	path    string
	modTime time.Time
}

// ingestFromStorageFiles scans the first listable session storage directory,
// newest files first.
func (c *Cache) ingestFromStorageFiles(ctx context.Context, roots []string) bool {
	for _, root := range roots {
		dir := filepath.Join(root, sessionStorageDir)
		paths, err := listSessionFiles(dir)
		if err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("session storage not readable")
			continue
		}

		files := statSessionFiles(ctx, paths)
		sort.SliceStable(files, func(i, j int) bool {
			return files[i].modTime.After(files[j].modTime)
		})
		if len(files) > fallbackLimit {
			files = files[:fallbackLimit]
		}

		records := make([]record, 0, len(files))
		for _, f := range files {
			if r, ok := readSessionFile(f.path, f.modTime); ok {
				records = append(records, r)
			}
		}

		changed := c.ingest(records, "storage")
		log.Debug().
			Str("dir", dir).
			Int("files", len(files)).
			Int("records", len(records)).
			Bool("changed", changed).
			Msg("ingested session storage")
		return changed
	}
	return false
}

// listSessionFiles returns JSON files directly in dir and in its immediate
// subdirectories. Only a failure to list dir itself is an error.
func listSessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		if !entry.IsDir() {
			if isSessionFile(entry.Name()) {
				paths = append(paths, full)
			}
			continue
		}

		children, err := os.ReadDir(full)
		if err != nil {
			continue
		}
		for _, child := range children {
			if !child.IsDir() && isSessionFile(child.Name()) {
				paths = append(paths, filepath.Join(full, child.Name()))
			}
		}
	}
	return paths, nil
}

func isSessionFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}

// statSessionFiles stats paths in parallel, dropping any that fail
func statSessionFiles(ctx context.Context, paths []string) []sessionFile {
	results := make([]sessionFile, len(paths))
	ok := make([]bool, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			info, err := os.Stat(p)
			if err != nil {
				return nil
			}
			results[i] = sessionFile{path: p, modTime: info.ModTime()}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	files := make([]sessionFile, 0, len(paths))
	for i := range results {
		if ok[i] {
			files = append(files, results[i])
		}
	}
	return files
}

// readSessionFile parses one session file. Unreadable or malformed files
// and files without a directory are skipped.
func readSessionFile(path string, modTime time.Time) (record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record{}, false
	}

	var s storedSession
	if err := json.Unmarshal(data, &s); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("skipping malformed session file")
		return record{}, false
	}

	worktree := strings.TrimSpace(s.Directory)
	if worktree == "" {
		return record{}, false
	}

	updated := s.Time.Updated
	if updated <= 0 {
		updated = modTime.UnixMilli()
	}
	return record{worktree: worktree, updated: updated}, true
}
