// Package router wires the HTTP handlers onto a gin engine.
package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/handler"
	"github.com/ytarchiver/channel-archiver/internal/metrics"
	"github.com/ytarchiver/channel-archiver/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	Health      *handler.HealthHandler
	Channel     *handler.ChannelHandler
	Video       *handler.VideoHandler
	Connections *handler.ConnectionsHandler
	Archive     *handler.ArchiveHandler
	Events      *handler.EventsHandler
}

// Setup configures the middleware stack and all routes on engine. auth may
// be nil to leave the API open. m may be nil to skip the metrics endpoint.
func Setup(engine *gin.Engine, h *Handlers, auth *middleware.APIKeyAuth, m *metrics.Metrics, logger *zap.Logger) {
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(logger))
	engine.Use(m.Middleware())

	// Health and metrics stay outside the API group, no auth needed
	engine.GET("/health/live", h.Health.LivenessProbe)
	engine.GET("/health/ready", h.Health.ReadinessProbe)
	if m != nil {
		engine.GET("/metrics", m.Handler())
	}

	api := engine.Group("/api/v1")
	if auth != nil {
		api.Use(auth.Middleware())
	}

	// Channel routes
	api.GET("/channels", h.Channel.List)
	api.POST("/channels", h.Channel.Add)
	api.GET("/channels/lookup", h.Channel.Lookup)
	api.GET("/channels/parsed", h.Channel.Parsed)
	api.GET("/channels/ids", h.Channel.IDs)
	api.POST("/channels/move", h.Channel.Move)
	api.GET("/channels/:id", h.Channel.Get)
	api.GET("/channels/:id/state", h.Channel.State)

	// Backlog
	api.GET("/queue/next", h.Channel.Next)

	// Video routes
	api.GET("/videos/ids", h.Video.IDs)
	api.GET("/videos/:id", h.Video.Get)

	// Relation graph
	api.GET("/connections", h.Connections.Connections)
	api.GET("/connections/most-commented", h.Connections.MostCommented)

	// Archive-wide
	api.GET("/counts", h.Archive.Counts)
	api.POST("/maintenance/fix", h.Archive.Fix)
	api.POST("/maintenance/refilter", h.Archive.Refilter)

	api.GET("/events", h.Events.Stream)
}
