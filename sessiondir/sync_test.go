package sessiondir

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
)

func TestBuildListParams(t *testing.T) {
	tests := []struct {
		name      string
		watermark int64
		wantStart *int64
	}{
		{name: "never synced", watermark: 0, wantStart: nil},
		{name: "negative treated as never synced", watermark: -5, wantStart: nil},
		{name: "safety window", watermark: 1700000000200, wantStart: ptr(int64(1699999940200))},
		{name: "clamped at zero", watermark: 1000, wantStart: ptr(int64(0))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := buildListParams(tt.watermark)
			assert.Equal(t, 1000, params.Limit)
			assert.Equal(t, tt.wantStart, params.Start)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestSync_CooldownSkipsSecondCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	assert.Equal(t, 1, f.client.callCount())

	f.clock.Advance(30 * time.Second)
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	assert.Equal(t, 1, f.client.callCount())

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	assert.Equal(t, 2, f.client.callCount())
}

func TestSync_ForcedIgnoresCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{Force: true}))
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{Force: true}))

	assert.Equal(t, 3, f.client.callCount())
}

func TestSync_ConcurrentCallsShareOneRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.started = make(chan struct{}, 4)
	f.client.gate = make(chan struct{})
	f.client.set([]opencode.Session{session("/repo-a", 100)}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = f.cache.Sync(ctx, SyncOptions{})
	}()
	<-f.client.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = f.cache.Sync(ctx, SyncOptions{})
	}()

	// Give the second caller time to attach to the in-flight request
	time.Sleep(20 * time.Millisecond)
	close(f.client.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, f.client.callCount())
	assert.Equal(t, []string{"/repo-a"}, worktrees(f.cache.Directories()))
}

func TestSync_ForcedErrorPropagatesAndClearsCooldown(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	f := newFixture(t)
	f.client.set(nil, boom)

	err := f.cache.Sync(ctx, SyncOptions{Force: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.cache.Stats().LastSyncAttempt)

	// Not blocked by the failed attempt
	f.client.set(nil, nil)
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	assert.Equal(t, 2, f.client.callCount())
}

func TestSync_ForcedJoinerOfFailedBackgroundSyncClearsCooldown(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")
	f := newFixture(t)
	f.client.started = make(chan struct{}, 4)
	f.client.gate = make(chan struct{})
	f.client.set(nil, boom)

	var wg sync.WaitGroup
	var backgroundErr, forcedErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		backgroundErr = f.cache.Sync(ctx, SyncOptions{})
	}()
	<-f.client.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		forcedErr = f.cache.Sync(ctx, SyncOptions{Force: true})
	}()

	time.Sleep(20 * time.Millisecond)
	close(f.client.gate)
	wg.Wait()

	assert.NoError(t, backgroundErr)
	assert.ErrorIs(t, forcedErr, boom)
	assert.Equal(t, 1, f.client.callCount())
	assert.Zero(t, f.cache.Stats().LastSyncAttempt)

	// The next background sync is not throttled
	f.client.set(nil, nil)
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	assert.Equal(t, 2, f.client.callCount())
}

func TestSync_BackgroundErrorSwallowedAndCoolsDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.set(nil, errors.New("503"))

	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	assert.Equal(t, f.clock.Now().UnixMilli(), f.cache.Stats().LastSyncAttempt)

	require.NoError(t, f.cache.Sync(ctx, SyncOptions{}))
	assert.Equal(t, 1, f.client.callCount())
}

func TestSync_ReportsFailures(t *testing.T) {
	ctx := context.Background()
	var gotForced []bool
	f := newFixture(t, func(o *Options) {
		o.SyncFailed = func(err error, forced bool) { gotForced = append(gotForced, forced) }
	})
	f.client.set(nil, errors.New("down"))

	_ = f.cache.Sync(ctx, SyncOptions{})
	_ = f.cache.Sync(ctx, SyncOptions{Force: true})

	assert.Equal(t, []bool{false, true}, gotForced)
}

func TestSync_MissingTimestampDefaultsToNow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.set([]opencode.Session{{ID: "ses_1", Directory: "/repo-a"}}, nil)

	require.NoError(t, f.cache.Sync(ctx, SyncOptions{Force: true}))

	now := f.clock.Now().UnixMilli()
	assert.Equal(t, []CachedDirectory{{Worktree: "/repo-a", LastUpdated: now}}, f.cache.Directories())
	assert.Equal(t, now, f.cache.Stats().Watermark)
}

func TestSync_BatchEnqueuesSingleWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.set([]opencode.Session{
		session("/repo-a", 100),
		session("/repo-b", 200),
		session("/repo-c", 300),
		session("/", 400),
		session("", 500),
	}, nil)

	require.NoError(t, f.cache.Sync(ctx, SyncOptions{Force: true}))
	require.NoError(t, f.cache.Flush(ctx))

	assert.Equal(t, 1, f.store.writeCount())
	assert.Equal(t, []string{"/repo-c", "/repo-b", "/repo-a"}, worktrees(f.cache.Directories()))
	// Invalid directories still count toward the watermark
	assert.Equal(t, int64(500), f.cache.Stats().Watermark)
}

func TestSync_UnchangedBatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.set([]opencode.Session{session("/repo-a", 100)}, nil)

	require.NoError(t, f.cache.Sync(ctx, SyncOptions{Force: true}))
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{Force: true}))
	require.NoError(t, f.cache.Flush(ctx))

	assert.Equal(t, 1, f.store.writeCount())
}

func TestSync_WatermarkNeverDecreases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.client.set([]opencode.Session{session("/repo-a", 5000)}, nil)
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{Force: true}))

	f.client.set([]opencode.Session{session("/repo-b", 4990)}, nil)
	require.NoError(t, f.cache.Sync(ctx, SyncOptions{Force: true}))

	assert.Equal(t, int64(5000), f.cache.Stats().Watermark)
	assert.Equal(t, []string{"/repo-a", "/repo-b"}, worktrees(f.cache.Directories()))
}

func TestSync_NoClient(t *testing.T) {
	ctx := context.Background()
	c := New(Options{Store: &memStore{}, KeyMode: KeyModeExact})
	t.Cleanup(func() { _ = c.Close(ctx) })

	assert.ErrorIs(t, c.Sync(ctx, SyncOptions{Force: true}), errNoClient)
	assert.NoError(t, c.Sync(ctx, SyncOptions{}))
}
