package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
	"github.com/xiaoyuanzhu-com/opencode-bot/sessiondir"
)

const healthTimeout = 5 * time.Second

// HealthResponse is the body of GET /api/health
type HealthResponse struct {
	Status      string           `json:"status"`
	Opencode    opencode.Health  `json:"opencode"`
	Cache       sessiondir.Stats `json:"cache"`
	Subscribers int              `json:"subscribers"`
}

// GetHealth handles GET /api/health
// 503 when the opencode server cannot be reached.
func (h *Handlers) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	health, err := h.server.Client().Health(ctx)
	if err != nil {
		RespondServiceUnavailable(c, "opencode server unreachable", []ErrorDetail{
			{Field: "opencode", Message: err.Error()},
		})
		return
	}

	RespondData(c, HealthResponse{
		Status:      "ok",
		Opencode:    health,
		Cache:       h.server.Cache().Stats(),
		Subscribers: h.server.Notifications().SubscriberCount(),
	})
}
