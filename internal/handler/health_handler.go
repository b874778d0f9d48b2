package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger checks connectivity of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HealthReporter reports the state of a long-lived connection.
type HealthReporter interface {
	IsHealthy() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	database  Pinger
	redis     Pinger
	publisher HealthReporter
}

// NewHealthHandler creates a new HealthHandler instance. redis and publisher
// are optional and skipped when nil.
func NewHealthHandler(database, redis Pinger, publisher HealthReporter) *HealthHandler {
	return &HealthHandler{
		database:  database,
		redis:     redis,
		publisher: publisher,
	}
}

// LivenessProbe checks if the application is running.
func (h *HealthHandler) LivenessProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "UP",
		"time":   time.Now(),
	})
}

// ReadinessProbe checks if the application is ready to serve traffic.
func (h *HealthHandler) ReadinessProbe(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.database.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "DOWN",
			"database": "unhealthy",
			"error":    err.Error(),
			"time":     time.Now(),
		})
		return
	}

	resp := gin.H{
		"status":   "UP",
		"database": "healthy",
		"time":     time.Now(),
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "DOWN",
				"redis":  "unhealthy",
				"error":  err.Error(),
				"time":   time.Now(),
			})
			return
		}
		resp["redis"] = "healthy"
	}

	if h.publisher != nil {
		if !h.publisher.IsHealthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "DOWN",
				"rabbitmq": "unhealthy",
				"time":     time.Now(),
			})
			return
		}
		resp["rabbitmq"] = "healthy"
	}

	c.JSON(http.StatusOK, resp)
}
