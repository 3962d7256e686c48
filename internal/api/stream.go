package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// stream holds the caller's live connection open as server-sent events.
// A second stream from the same actor replaces this one.
func (h *Handler) stream(c *gin.Context) {
	actor := actorFrom(c)
	registry := h.router.Registry()
	conn := registry.Connect(actor.ID, actor.Role)
	defer registry.Disconnect(conn)

	h.logger.Info("Stream opened",
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)))

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.SSEvent("connected", gin.H{"actor_id": actor.ID, "role": actor.Role})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-conn.Done():
			return false
		case evt := <-conn.Events():
			c.SSEvent(evt.Class, evt)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", time.Now().Unix())
			return true
		}
	})

	h.logger.Info("Stream closed", zap.String("actor_id", actor.ID))
}
