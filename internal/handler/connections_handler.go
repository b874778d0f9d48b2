package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ytarchiver/channel-archiver/internal/service"
)

// ConnectionsHandler serves the commenter relation graph.
type ConnectionsHandler struct {
	graph Graph
}

// NewConnectionsHandler creates a new ConnectionsHandler instance.
func NewConnectionsHandler(graph Graph) *ConnectionsHandler {
	return &ConnectionsHandler{graph: graph}
}

// Connections handles GET /connections.
func (h *ConnectionsHandler) Connections(c *gin.Context) {
	conns, err := h.graph.Connections(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conns)
}

// MostCommented handles GET /connections/most-commented?limit=.
func (h *ConnectionsHandler) MostCommented(c *gin.Context) {
	conns, err := h.graph.Connections(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	ranks := service.MostCommented(conns)
	if limit := parseLimit(c); len(ranks) > limit {
		ranks = ranks[:limit]
	}

	c.JSON(http.StatusOK, ranks)
}
