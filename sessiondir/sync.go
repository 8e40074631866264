package sessiondir

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
)

const syncFlightKey = "sync"

var errNoClient = errors.New("sessiondir: no opencode client configured")

// buildListParams derives the session list query from the watermark. A zero
// watermark means a full warm-up with no time filter.
func buildListParams(watermark int64) opencode.ListSessionsParams {
	params := opencode.ListSessionsParams{Limit: listPageSize}
	if watermark <= 0 {
		return params
	}
	start := watermark - syncSafetyWindow.Milliseconds()
	if start < 0 {
		start = 0
	}
	params.Start = &start
	return params
}

// Sync pulls sessions updated since the watermark and merges their
// directories into the cache.
//
// Non-forced calls are skipped inside the cooldown and never return remote
// errors. Forced calls bypass the cooldown and return the remote error.
// Concurrent calls share one in-flight request and its result.
func (c *Cache) Sync(ctx context.Context, opts SyncOptions) error {
	if !opts.Force && c.inCooldown() {
		return nil
	}

	// The shared request outlives any single caller's context
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(syncFlightKey, func() (any, error) {
		return nil, c.runSync(flightCtx, opts.Force)
	})

	select {
	case res := <-ch:
		if res.Err != nil && opts.Force {
			// A forced caller may have joined a background flight, which
			// started the cooldown on failure.
			c.mu.Lock()
			c.lastSyncAttemptMs = 0
			c.mu.Unlock()
			return res.Err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) inCooldown() bool {
	c.mu.Lock()
	last := c.lastSyncAttemptMs
	c.mu.Unlock()

	if last == 0 {
		return false
	}
	return c.nowMs()-last < syncCooldown.Milliseconds()
}

func (c *Cache) runSync(ctx context.Context, force bool) error {
	// A flight that finished just before this one started may have put us
	// back in the cooldown.
	if !force && c.inCooldown() {
		return nil
	}

	c.mu.Lock()
	c.ensureLoadedLocked(ctx)
	params := buildListParams(c.snapshot.LastSyncedUpdatedAt)
	c.mu.Unlock()

	sessions, err := c.listSessions(ctx, params)

	c.mu.Lock()
	if err != nil && force {
		c.lastSyncAttemptMs = 0
	} else {
		c.lastSyncAttemptMs = c.nowMs()
	}
	c.mu.Unlock()

	if err != nil {
		event := log.Warn()
		if force {
			event = log.Error()
		}
		event.Err(err).Bool("force", force).Msg("session directory sync failed")
		if c.failed != nil {
			c.failed(err, force)
		}
		return fmt.Errorf("sync session directories: %w", err)
	}

	now := c.nowMs()
	records := make([]record, 0, len(sessions))
	for _, s := range sessions {
		updated := s.Time.Updated
		if updated <= 0 {
			updated = now
		}
		records = append(records, record{worktree: s.Directory, updated: updated})
	}

	changed := c.ingest(records, "sync")
	log.Debug().
		Int("sessions", len(sessions)).
		Bool("changed", changed).
		Bool("force", force).
		Msg("session directory sync complete")
	return nil
}

func (c *Cache) listSessions(ctx context.Context, params opencode.ListSessionsParams) (sessions []opencode.Session, err error) {
	if c.client == nil {
		return nil, errNoClient
	}
	return c.client.ListSessions(ctx, params)
}
