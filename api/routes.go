package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")
	api.Use(RequestID())

	// Health
	api.GET("/health", h.GetHealth)

	// Recent directories
	api.GET("/directories", h.GetDirectories)
	api.POST("/directories", h.UpsertDirectory)

	// Projects (opencode projects merged with cached directories)
	api.GET("/projects", h.GetProjects)

	// Sync with opencode
	api.POST("/sync", h.TriggerSync)

	// Settings
	api.GET("/settings", h.GetSettings)
	api.PUT("/settings", h.UpdateSettings)

	// Notifications (WebSocket)
	api.GET("/notifications/ws", h.NotificationStream)

	// Ignore .well-known requests
	r.GET("/.well-known/*path", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	r.NoRoute(func(c *gin.Context) {
		RespondNotFound(c, "Route not found: "+c.Request.Method+" "+c.Request.URL.Path)
	})
}
