package sessiondir

import (
	"context"
	"errors"
	"sync"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

var errQueueClosed = errors.New("sessiondir: persistence queue closed")

// writeJob is either a snapshot to persist or a barrier used by flush
type writeJob struct {
	snapshot Snapshot
	barrier  chan struct{}
}

// writeQueue runs store writes one at a time in enqueue order. The backing
// store does a full read-modify-write, so overlapping writes would lose updates.
type writeQueue struct {
	write func(ctx context.Context, snapshot Snapshot) error

	mu      sync.Mutex
	pending []writeJob
	closed  bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newWriteQueue(write func(ctx context.Context, snapshot Snapshot) error) *writeQueue {
	q := &writeQueue{
		write: write,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// enqueue never blocks. Writes after close are dropped.
func (q *writeQueue) enqueue(snapshot Snapshot) {
	q.push(writeJob{snapshot: snapshot})
}

func (q *writeQueue) push(job writeJob) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
		// already signalled
	}
	return true
}

// flush waits until every job enqueued before the call has run
func (q *writeQueue) flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !q.push(writeJob{barrier: barrier}) {
		return errQueueClosed
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close drains what is already queued, then stops the worker
func (q *writeQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		log.Warn().Msg("session directory cache flush timed out")
		return ctx.Err()
	}
}

func (q *writeQueue) loop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.wake:
			q.drain()
		case <-q.done:
			q.drain()
			return
		}
	}
}

func (q *writeQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if job.barrier != nil {
			close(job.barrier)
			continue
		}

		// A failed write must not stall later ones
		if err := q.write(context.Background(), job.snapshot); err != nil {
			log.Error().
				Err(err).
				Int("directories", len(job.snapshot.Directories)).
				Msg("failed to persist session directory cache")
		}
	}
}
