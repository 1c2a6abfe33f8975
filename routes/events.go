package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"document-context-platform/internal/config"
	"document-context-platform/internal/logger"
	"document-context-platform/internal/notifier"
	"document-context-platform/internal/telemetry"
	"document-context-platform/middleware"
	"document-context-platform/models"
)

// StreamEvents serves the long-lived record event stream as newline-
// delimited JSON. Heartbeats are written on a per-connection timer; record
// events come from the owner's shared change feed. Disconnect tears down
// this stream only, and the owner's feed once no streams remain.
func StreamEvents(cfg *config.Config, n *notifier.Notifier, metrics *telemetry.Metrics) gin.HandlerFunc {
	heartbeatEvery := time.Duration(cfg.HeartbeatSecs) * time.Second

	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}

		c.Header("Content-Type", "application/x-ndjson")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)
		flusher.Flush()

		events, detach := n.Subscribe(ownerID)
		defer detach()

		if metrics != nil {
			metrics.StreamOpened()
			defer metrics.StreamClosed()
		}

		heartbeat := time.NewTicker(heartbeatEvery)
		defer heartbeat.Stop()

		enc := json.NewEncoder(c.Writer)
		write := func(ev models.RecordEvent) bool {
			if err := enc.Encode(ev); err != nil {
				return false
			}
			flusher.Flush()
			if metrics != nil {
				metrics.RecordStreamEvent(ev.Type)
			}
			return true
		}

		// Immediate heartbeat so the client observes a live stream before
		// the first data event or timer tick.
		if !write(models.NewHeartbeatEvent()) {
			return
		}

		done := c.Request.Context().Done()
		for {
			select {
			case <-done:
				logger.Debug("event stream client disconnected", "owner_id", ownerID)
				return
			case ev, ok := <-events:
				if !ok {
					// Feed torn down underneath us; keep heartbeating so the
					// client decides liveness by heartbeat loss alone.
					events = nil
					continue
				}
				if !write(ev) {
					return
				}
			case <-heartbeat.C:
				if !write(models.NewHeartbeatEvent()) {
					return
				}
			}
		}
	}
}
