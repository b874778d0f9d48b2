// Package handler provides HTTP request handlers for the application.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db"
	dbmodels "github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/models"
	"github.com/ytarchiver/channel-archiver/internal/service"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// Triage is the part of service.Triage the API drives.
type Triage interface {
	Lookup(ctx context.Context, id string) (*service.ChannelInfo, error)
	MoveChannel(ctx context.Context, id string, dest service.Destination) error
	AddChannel(ctx context.Context, id string, dest service.Destination) (*dbmodels.Channel, error)
	Locate(ctx context.Context, id string) (*dbmodels.Channel, error)
	State(ctx context.Context, id string) (dbmodels.State, error)
	Fix(ctx context.Context) (*service.FixReport, error)
	RefilterAll(ctx context.Context) (*service.RefilterReport, error)
}

// Backlog hands out the next queued channel for review.
type Backlog interface {
	Next(ctx context.Context, skip []string) (*dbmodels.Channel, error)
	Len() int
}

// ChannelResolver turns a channel URL or handle into a channel id.
type ChannelResolver interface {
	ResolveChannelID(ctx context.Context, input string) (string, error)
}

// Refresher re-crawls a parsed channel on demand.
type Refresher interface {
	RecrawlChannel(ctx context.Context, ch *dbmodels.Channel) (bool, error)
}

// Graph builds the commenter relation views.
type Graph interface {
	Connections(ctx context.Context) (*service.Connections, error)
}

// ChannelReader lists channels by state.
type ChannelReader interface {
	GetStates(ctx context.Context, ids []string) (map[string]dbmodels.State, error)
	ListIDsByState(ctx context.Context, state dbmodels.State) ([]string, error)
	ListByState(ctx context.Context, state dbmodels.State, limit, offset int) ([]*dbmodels.Channel, error)
	CountByState(ctx context.Context) (map[dbmodels.State]int, error)
}

// VideoReader reads recorded videos.
type VideoReader interface {
	Get(ctx context.Context, id string) (*dbmodels.Video, error)
	ListByChannel(ctx context.Context, channelID string) ([]*dbmodels.Video, error)
	ListIDs(ctx context.Context) ([]string, error)
	Counts(ctx context.Context) (*dbmodels.VideoCounts, error)
}

func parseLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func parseOffset(c *gin.Context) int {
	offset, err := strconv.Atoi(c.Query("offset"))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

func sendError(c *gin.Context, status int, message string) {
	c.JSON(status, models.ErrorResponse{
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}

// respondError maps service and store errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case service.IsValidationError(err), errors.Is(err, service.ErrInvalidDestination):
		status = http.StatusBadRequest
	case db.IsNotFound(err), errors.Is(err, service.ErrQueueEmpty), errors.Is(err, service.ErrChannelUnavailable):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrChannelExists), errors.Is(err, service.ErrInvalidTransition):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logger.Log.Error("Request failed",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		sendError(c, status, "An unexpected error occurred")
		return
	}

	logger.Log.Debug("Request rejected",
		zap.Error(err),
		zap.Int("status", status),
		zap.String("path", c.Request.URL.Path),
	)
	sendError(c, status, err.Error())
}
