package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ytarchiver/channel-archiver/internal/events"
)

const (
	eventBuffer   = 64
	heartbeatRate = 30 * time.Second
)

// EventsHandler streams bus events to clients as server-sent events.
type EventsHandler struct {
	bus *events.Bus
}

// NewEventsHandler creates a new EventsHandler instance.
func NewEventsHandler(bus *events.Bus) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// Stream handles GET /events. Each event is sent with its type as the SSE
// event name. The stream ends when the client disconnects.
func (h *EventsHandler) Stream(c *gin.Context) {
	sub, unsubscribe := h.bus.Subscribe(eventBuffer)
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatRate)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}
