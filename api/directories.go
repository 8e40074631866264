package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// UpsertDirectoryRequest is the body of POST /api/directories
type UpsertDirectoryRequest struct {
	Worktree    string `json:"worktree"`
	LastUpdated int64  `json:"lastUpdated"`
}

// GetDirectories handles GET /api/directories
func (h *Handlers) GetDirectories(c *gin.Context) {
	RespondList(c, h.server.Cache().Directories())
}

// UpsertDirectory handles POST /api/directories
// Records activity in a worktree; lastUpdated defaults to now.
func (h *Handlers) UpsertDirectory(c *gin.Context) {
	var req UpsertDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Worktree) == "" {
		RespondValidationError(c, "Invalid directory", []ErrorDetail{
			{Field: "worktree", Message: "worktree is required"},
		})
		return
	}
	if req.LastUpdated < 0 {
		RespondValidationError(c, "Invalid directory", []ErrorDetail{
			{Field: "lastUpdated", Message: "lastUpdated must not be negative"},
		})
		return
	}

	cache := h.server.Cache()
	cache.UpsertDirectory(req.Worktree, req.LastUpdated)
	RespondList(c, cache.Directories())
}
