package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
	"github.com/xiaoyuanzhu-com/opencode-bot/notifications"
)

const (
	notificationPingInterval = 30 * time.Second
	notificationWriteTimeout = 10 * time.Second
)

// NotificationStream handles GET /api/notifications/ws
// Pushes cache change events to the client as JSON text messages.
func (h *Handlers) NotificationStream(c *gin.Context) {
	// Must run before Accept so the request logger leaves the writer alone
	log.MarkHijacked(c)

	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // The bot frontend connects from its own origin
	})
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Abort Gin context to prevent middleware from writing headers on hijacked connection
	c.Abort()

	service := h.server.Notifications()
	events, unsubscribe := service.Subscribe()
	defer unsubscribe()

	// CloseRead discards client messages and cancels ctx when the client goes away
	ctx := conn.CloseRead(c.Request.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdown := h.server.ShutdownContext()

	if err := writeEvent(ctx, conn, notifications.Event{
		Type:      notifications.EventConnected,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return
	}
	log.Debug().Msg("client connected to notification stream")

	ticker := time.NewTicker(notificationPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				if ctx.Err() == nil {
					log.Debug().Err(err).Msg("notification write failed")
				}
				return
			}

		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				log.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}

		case <-shutdown.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case <-ctx.Done():
			log.Debug().Msg("client disconnected from notification stream")
			return
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event notifications.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, notificationWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
