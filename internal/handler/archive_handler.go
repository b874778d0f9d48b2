package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/models"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// ArchiveHandler serves archive-wide counts and maintenance commands.
type ArchiveHandler struct {
	triage   Triage
	backlog  Backlog
	channels ChannelReader
	videos   VideoReader
}

// NewArchiveHandler creates a new ArchiveHandler instance.
func NewArchiveHandler(triage Triage, backlog Backlog, channels ChannelReader, videos VideoReader) *ArchiveHandler {
	return &ArchiveHandler{
		triage:   triage,
		backlog:  backlog,
		channels: channels,
		videos:   videos,
	}
}

// Counts handles GET /counts.
func (h *ArchiveHandler) Counts(c *gin.Context) {
	ctx := c.Request.Context()

	vc, err := h.videos.Counts(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	byState, err := h.channels.CountByState(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	total := 0
	for _, n := range byState {
		total += n
	}

	c.JSON(http.StatusOK, models.CountsResponse{
		Videos:     vc.Total,
		Downloaded: vc.Downloaded,
		Channels:   total,
		ByState:    byState,
		Backlog:    h.backlog.Len(),
	})
}

// Fix handles POST /maintenance/fix.
func (h *ArchiveHandler) Fix(c *gin.Context) {
	report, err := h.triage.Fix(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Log.Info("Maintenance fix completed",
		zap.Int("backlogPruned", report.BacklogPruned),
		zap.Int64("orphanRelations", report.OrphanRelations),
		zap.Int64("titlesCollapsed", report.TitlesCollapsed),
	)

	c.JSON(http.StatusOK, report)
}

// Refilter handles POST /maintenance/refilter.
func (h *ArchiveHandler) Refilter(c *gin.Context) {
	start := time.Now()

	report, err := h.triage.RefilterAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Log.Info("Refilter completed",
		zap.Int("checked", report.Checked),
		zap.Int("queued", report.Queued),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", time.Since(start)),
	)

	c.JSON(http.StatusOK, report)
}
