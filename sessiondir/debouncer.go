package sessiondir

import (
	"sync"
	"sync/atomic"
	"time"
)

// defaultDebounceDelay coalesces the burst of writes opencode makes when it
// rewrites a session file.
const defaultDebounceDelay = 150 * time.Millisecond

// debouncer runs onProcess once per path after delay has passed with no new
// events for that path.
type debouncer struct {
	pending   map[string]*time.Timer
	mu        sync.Mutex
	delay     time.Duration
	onProcess func(path string)
	stopping  atomic.Bool
}

func newDebouncer(delay time.Duration, onProcess func(path string)) *debouncer {
	return &debouncer{
		pending:   make(map[string]*time.Timer),
		delay:     delay,
		onProcess: onProcess,
	}
}

// Queue schedules path, resetting its timer if one is already pending.
// Returns false once the debouncer is stopping.
func (d *debouncer) Queue(path string) bool {
	if d.stopping.Load() {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after acquiring lock (prevents race with Stop)
	if d.stopping.Load() {
		return false
	}

	if timer, ok := d.pending[path]; ok && timer.Reset(d.delay) {
		return true
	}

	// Either new, or the old timer already fired and is being processed
	d.pending[path] = time.AfterFunc(d.delay, func() {
		d.onTimer(path)
	})
	return true
}

func (d *debouncer) onTimer(path string) {
	d.mu.Lock()
	_, ok := d.pending[path]
	if ok {
		delete(d.pending, path)
	}
	d.mu.Unlock()

	if ok && !d.stopping.Load() {
		d.onProcess(path)
	}
}

// Stop cancels pending events. Nothing is processed after Stop returns,
// except a callback that was already running.
func (d *debouncer) Stop() {
	d.stopping.Store(true)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, timer := range d.pending {
		timer.Stop()
	}
	d.pending = make(map[string]*time.Timer)
}

// PendingCount returns the number of pending events (for testing)
func (d *debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
