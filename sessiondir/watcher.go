package sessiondir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

var errNoStorageDir = errors.New("sessiondir: no session storage directory found")

// StorageWatcher follows opencode's session files and feeds changes into the
// cache as they happen, between syncs.
type StorageWatcher struct {
	cache    *Cache
	roots    []string
	onChange func()

	watcher   *fsnotify.Watcher
	debouncer *debouncer
	dir       string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStorageWatcher creates a watcher over the first root with a session
// storage directory. onChange, if set, runs after every ingested file.
func NewStorageWatcher(cache *Cache, roots []string, onChange func()) *StorageWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &StorageWatcher{
		cache:    cache,
		roots:    roots,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}
	w.debouncer = newDebouncer(defaultDebounceDelay, w.ingestFile)
	return w
}

// Start begins watching. A missing storage directory is reported as an
// error so the caller can log it; the cache works fine without the watcher.
func (w *StorageWatcher) Start() error {
	for _, root := range w.roots {
		dir := filepath.Join(root, sessionStorageDir)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			w.dir = dir
			break
		}
	}
	if w.dir == "" {
		return errNoStorageDir
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	// Watch each project subdirectory
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		watcher.Close()
		return err
	}
	watched := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectDir := filepath.Join(w.dir, entry.Name())
		if err := watcher.Add(projectDir); err != nil {
			log.Debug().Err(err).Str("dir", projectDir).Msg("failed to watch directory")
			continue
		}
		watched++
	}

	// Also watch the storage directory itself for new project directories
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}

	w.wg.Add(1)
	go w.watchLoop()

	log.Info().Str("dir", w.dir).Int("watchedDirs", watched+1).Msg("started session storage watcher")
	return nil
}

// Dir is the directory being watched, empty before a successful Start
func (w *StorageWatcher) Dir() string {
	return w.dir
}

// Stop shuts the watcher down and waits for its goroutine.
func (w *StorageWatcher) Stop() {
	w.cancel()
	if pending := w.debouncer.PendingCount(); pending > 0 {
		log.Debug().Int("pending", pending).Msg("session storage watcher stopped with pending changes")
	}
	w.debouncer.Stop()
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
}

func (w *StorageWatcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			log.Debug().Msg("session storage watcher stopping")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("fsnotify error")
		}
	}
}

func (w *StorageWatcher) handleFSEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() && filepath.Dir(event.Name) == w.dir {
			if err := w.watcher.Add(event.Name); err == nil {
				log.Debug().Str("dir", event.Name).Msg("watching new project directory")
			}
			return
		}
	}

	if !isSessionFile(filepath.Base(event.Name)) {
		return
	}

	// Removing a session does not make its directory any less recent
	if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		w.debouncer.Queue(event.Name)
	}
}

func (w *StorageWatcher) ingestFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	r, ok := readSessionFile(path, info.ModTime())
	if !ok {
		return
	}

	if w.cache.ingest([]record{r}, "watcher") {
		log.Debug().Str("worktree", r.worktree).Str("path", path).Msg("session file changed")
		if w.onChange != nil {
			w.onChange()
		}
	}
}
