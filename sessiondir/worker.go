package sessiondir

import (
	"context"
	"sync"
	"time"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

const (
	// DefaultSyncInterval is how often the worker polls opencode
	DefaultSyncInterval = 2 * time.Minute

	// defaultInitialDelay lets warmup finish its forced sync first
	defaultInitialDelay = 5 * time.Second

	// workerSyncTimeout bounds how long Stop may wait on a hung request
	workerSyncTimeout = 2 * time.Minute
)

// Syncer is the part of Cache the worker drives
type Syncer interface {
	Sync(ctx context.Context, opts SyncOptions) error
}

// SyncWorker runs non-forced syncs on a ticker. Each run is still subject
// to the cache's cooldown, so ticks and nudges never hot-loop.
type SyncWorker struct {
	syncer       Syncer
	interval     time.Duration
	initialDelay time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// nudgeChan allows an immediate sync, e.g. after a storage change
	nudgeChan chan struct{}
}

// NewSyncWorker creates a worker. A non-positive interval uses DefaultSyncInterval.
func NewSyncWorker(syncer Syncer, interval time.Duration) *SyncWorker {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &SyncWorker{
		syncer:       syncer,
		interval:     interval,
		initialDelay: defaultInitialDelay,
		stopChan:     make(chan struct{}),
		nudgeChan:    make(chan struct{}, 1), // buffered so nudge never blocks
	}
}

// Start begins the sync loop.
func (w *SyncWorker) Start() {
	w.wg.Add(1)
	go w.loop()
	log.Info().Dur("interval", w.interval).Msg("session sync worker started")
}

// Stop signals the worker to exit and waits for it to finish.
func (w *SyncWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	log.Info().Msg("session sync worker stopped")
}

// Nudge asks the worker to run a sync cycle as soon as possible.
// Non-blocking: if a nudge is already pending it is a no-op.
func (w *SyncWorker) Nudge() {
	select {
	case w.nudgeChan <- struct{}{}:
	default:
		// already nudged
	}
}

func (w *SyncWorker) loop() {
	defer w.wg.Done()

	// A nudge cuts the initial delay short
	select {
	case <-time.After(w.initialDelay):
	case <-w.nudgeChan:
	case <-w.stopChan:
		return
	}

	w.runOnce()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runOnce()
		case <-w.nudgeChan:
			w.runOnce()
		case <-w.stopChan:
			return
		}
	}
}

func (w *SyncWorker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), workerSyncTimeout)
	defer cancel()

	// Stop must not wait out a slow request
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := w.syncer.Sync(ctx, SyncOptions{}); err != nil {
		log.Debug().Err(err).Msg("session sync worker: sync returned early")
	}
}
