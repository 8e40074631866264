package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
	"github.com/xiaoyuanzhu-com/opencode-bot/sessiondir"
)

// SyncResponse reports cache state after a sync
type SyncResponse struct {
	Directories []sessiondir.CachedDirectory `json:"directories"`
	Stats       sessiondir.Stats             `json:"stats"`
}

// TriggerSync handles POST /api/sync?force=true|false
// Non-forced syncs respect the cooldown and never fail; forced syncs report
// opencode errors as 502.
func (h *Handlers) TriggerSync(c *gin.Context) {
	force := false
	if raw := c.Query("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			RespondValidationError(c, "Invalid query", []ErrorDetail{
				{Field: "force", Message: "force must be a boolean"},
			})
			return
		}
		force = parsed
	}

	cache := h.server.Cache()
	if err := cache.Sync(c.Request.Context(), sessiondir.SyncOptions{Force: force}); err != nil {
		log.Error().Err(err).Msg("forced sync failed")
		RespondBadGateway(c, "Failed to sync with opencode")
		return
	}

	RespondData(c, SyncResponse{
		Directories: cache.Directories(),
		Stats:       cache.Stats(),
	})
}
