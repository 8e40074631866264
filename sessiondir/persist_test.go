package sessiondir

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteQueue_RunsOneAtATimeInOrder(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var order []int64
	var running, maxRunning atomic.Int32

	q := newWriteQueue(func(ctx context.Context, s Snapshot) error {
		n := running.Add(1)
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)

		mu.Lock()
		order = append(order, s.LastSyncedUpdatedAt)
		mu.Unlock()
		return nil
	})
	t.Cleanup(func() { _ = q.close(ctx) })

	for i := int64(1); i <= 20; i++ {
		q.enqueue(Snapshot{LastSyncedUpdatedAt: i})
	}
	require.NoError(t, q.flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, int64(i+1), v)
	}
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestWriteQueue_ContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	var attempts atomic.Int32

	q := newWriteQueue(func(ctx context.Context, s Snapshot) error {
		attempts.Add(1)
		if s.LastSyncedUpdatedAt == 2 {
			return errors.New("write failed")
		}
		return nil
	})
	t.Cleanup(func() { _ = q.close(ctx) })

	q.enqueue(Snapshot{LastSyncedUpdatedAt: 1})
	q.enqueue(Snapshot{LastSyncedUpdatedAt: 2})
	q.enqueue(Snapshot{LastSyncedUpdatedAt: 3})
	require.NoError(t, q.flush(ctx))

	assert.Equal(t, int32(3), attempts.Load())
}

func TestWriteQueue_CloseDrainsPending(t *testing.T) {
	var attempts atomic.Int32
	q := newWriteQueue(func(ctx context.Context, s Snapshot) error {
		time.Sleep(time.Millisecond)
		attempts.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		q.enqueue(Snapshot{})
	}
	require.NoError(t, q.close(context.Background()))
	assert.Equal(t, int32(5), attempts.Load())

	// Closed queues drop writes and refuse flushes
	q.enqueue(Snapshot{})
	assert.ErrorIs(t, q.flush(context.Background()), errQueueClosed)
	assert.NoError(t, q.close(context.Background()))
	assert.Equal(t, int32(5), attempts.Load())
}

func TestWriteQueue_FlushHonoursContext(t *testing.T) {
	release := make(chan struct{})
	q := newWriteQueue(func(ctx context.Context, s Snapshot) error {
		<-release
		return nil
	})
	t.Cleanup(func() {
		close(release)
		_ = q.close(context.Background())
	})

	q.enqueue(Snapshot{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.flush(ctx), context.DeadlineExceeded)
}
