package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StreamEvents handles the long-lived GET /sessions/:id/events stream:
// one JSON event per line. The connected event with the current
// snapshot is written first; heartbeats keep idle connections alive.
func StreamEvents(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		sub := hub.Subscribe(sessionID)
		defer sub.Close()

		c.Header("Content-Type", "application/x-ndjson")
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		enc := json.NewEncoder(c.Writer)
		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := enc.Encode(ev); err != nil {
					logger.Debug("stream write failed",
						zap.String("session_id", sessionID.String()),
						zap.Error(err))
					return
				}
				flusher.Flush()
			}
		}
	}
}
