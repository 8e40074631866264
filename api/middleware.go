package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xiaoyuanzhu-com/opencode-bot/log"
)

// HeaderRequestID carries the request id in both directions
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLength bounds client-supplied ids before they reach the logs
const maxRequestIDLength = 128

// RequestID returns a Gin middleware that tags each request with an id,
// reusing a well-formed X-Request-ID from the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		c.Set(log.ContextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}
