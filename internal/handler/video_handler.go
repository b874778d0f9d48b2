package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ytarchiver/channel-archiver/internal/db"
	dbmodels "github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/models"
	"github.com/ytarchiver/channel-archiver/internal/validation"
)

// VideoHandler serves recorded videos.
type VideoHandler struct {
	videos    VideoReader
	triage    Triage
	validator *validation.Validator
}

// NewVideoHandler creates a new VideoHandler instance.
func NewVideoHandler(videos VideoReader, triage Triage, validator *validation.Validator) *VideoHandler {
	return &VideoHandler{
		videos:    videos,
		triage:    triage,
		validator: validator,
	}
}

// Get handles GET /videos/:id. The channel and its list entry for the video
// are included when the channel is still stored.
func (h *VideoHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.validator.ValidateVideoID(id); err != nil {
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	video, err := h.videos.Get(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := models.VideoInfoResponse{Video: video}

	ch, err := h.triage.Locate(ctx, video.ChannelID)
	switch {
	case err == nil:
		resp.Channel = ch
		resp.BasicVideo = findBasicVideo(ch, id)
	case !db.IsNotFound(err):
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func findBasicVideo(ch *dbmodels.Channel, id string) *dbmodels.BasicVideo {
	for i := range ch.Videos {
		if ch.Videos[i].VideoID == id {
			bv := ch.Videos[i]
			return &bv
		}
	}
	return nil
}

// IDs handles GET /videos/ids.
func (h *VideoHandler) IDs(c *gin.Context) {
	ids, err := h.videos.ListIDs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, ids)
}
