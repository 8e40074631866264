package api

import (
	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/opencode-bot/db"
	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

// editableSettings are the keys clients may change through the API
var editableSettings = map[string]bool{
	db.SettingLogLevel:       true,
	db.SettingCurrentProject: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// GetSettings handles GET /api/settings
func (h *Handlers) GetSettings(c *gin.Context) {
	settings, err := h.server.DB().GetAllSettings(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get settings")
		RespondInternalError(c, "Failed to get settings")
		return
	}

	// The cache blob is internal state
	delete(settings, db.SettingSessionDirectoryCache)
	RespondData(c, settings)
}

// UpdateSettings handles PUT /api/settings
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var updates map[string]string
	if err := c.ShouldBindJSON(&updates); err != nil {
		RespondBadRequest(c, "Invalid request body")
		return
	}

	var details []ErrorDetail
	for key, value := range updates {
		switch {
		case !editableSettings[key]:
			details = append(details, ErrorDetail{Field: key, Message: "setting is not editable"})
		case key == db.SettingLogLevel && !validLogLevels[value]:
			details = append(details, ErrorDetail{Field: key, Message: "must be one of debug, info, warn, error"})
		}
	}
	if len(details) > 0 {
		RespondValidationError(c, "Invalid settings", details)
		return
	}

	// An empty value clears the setting
	if err := h.server.DB().ApplySettings(c.Request.Context(), updates); err != nil {
		log.Error().Err(err).Msg("failed to update settings")
		RespondInternalError(c, "Failed to update settings")
		return
	}

	if level, ok := updates[db.SettingLogLevel]; ok {
		log.SetLevel(level)
		log.Info().Str("level", level).Msg("log level changed")
	}

	h.GetSettings(c)
}
