package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

const projectsTimeout = 10 * time.Second

// GetProjects handles GET /api/projects
// Returns opencode's projects merged with cached directories. When opencode
// is unreachable the cached directories are returned on their own.
func (h *Handlers) GetProjects(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), projectsTimeout)
	defer cancel()

	cache := h.server.Cache()

	remote, err := h.server.Client().ListProjects(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list opencode projects, using cached directories")
		remote = nil
	}

	RespondList(c, cache.MergeProjects(remote, cache.Projects()))
}
