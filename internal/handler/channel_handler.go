package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	dbmodels "github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/models"
	"github.com/ytarchiver/channel-archiver/internal/service"
	"github.com/ytarchiver/channel-archiver/internal/validation"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// ChannelHandler serves channel triage and lookup endpoints.
type ChannelHandler struct {
	triage    Triage
	backlog   Backlog
	resolver  ChannelResolver
	refresher Refresher
	channels  ChannelReader
	videos    VideoReader
	validator *validation.Validator
	refresh   RefreshPolicy
	now       func() time.Time
}

// RefreshPolicy bounds the re-crawl a lookup runs on a parsed channel.
// Channels updated within MinAge are served as stored, and a refresh that
// runs longer than Timeout is abandoned.
type RefreshPolicy struct {
	MinAge  time.Duration
	Timeout time.Duration
}

// DefaultRefreshPolicy is used until WithRefreshPolicy overrides it.
var DefaultRefreshPolicy = RefreshPolicy{MinAge: time.Hour, Timeout: 20 * time.Second}

// NewChannelHandler creates a new ChannelHandler instance. resolver and
// refresher may be nil; lookups then accept channel ids only and never
// refresh parsed channels.
func NewChannelHandler(
	triage Triage,
	backlog Backlog,
	resolver ChannelResolver,
	refresher Refresher,
	channels ChannelReader,
	videos VideoReader,
	validator *validation.Validator,
) *ChannelHandler {
	return &ChannelHandler{
		triage:    triage,
		backlog:   backlog,
		resolver:  resolver,
		refresher: refresher,
		channels:  channels,
		videos:    videos,
		validator: validator,
		refresh:   DefaultRefreshPolicy,
		now:       time.Now,
	}
}

// WithRefreshPolicy replaces the lookup refresh bounds. A zero Timeout keeps
// the default.
func (h *ChannelHandler) WithRefreshPolicy(p RefreshPolicy) *ChannelHandler {
	if p.Timeout <= 0 {
		p.Timeout = DefaultRefreshPolicy.Timeout
	}
	h.refresh = p
	return h
}

// Lookup handles GET /channels/lookup?channel=<id|url>. A parsed channel
// older than the refresh policy's MinAge is re-crawled first so the response
// carries its newest uploads.
func (h *ChannelHandler) Lookup(c *gin.Context) {
	ctx := c.Request.Context()
	input := c.Query("channel")

	id, err := h.resolve(c, input)
	if err != nil {
		respondError(c, err)
		return
	}

	info, err := h.triage.Lookup(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	if info.Exists == dbmodels.StateParsed && h.refresher != nil && h.stale(info.Channel) {
		refreshCtx, cancel := context.WithTimeout(ctx, h.refresh.Timeout)
		_, err := h.refresher.RecrawlChannel(refreshCtx, info.Channel)
		cancel()
		if err != nil {
			logger.Log.Warn("Refresh on lookup failed",
				zap.String("channelId", id),
				zap.Error(err),
			)
		} else if info, err = h.triage.Lookup(ctx, id); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, info)
}

func (h *ChannelHandler) stale(ch *dbmodels.Channel) bool {
	if ch == nil {
		return false
	}
	if ch.UpdateDate == nil {
		return true
	}
	return h.now().Sub(*ch.UpdateDate) >= h.refresh.MinAge
}

func (h *ChannelHandler) resolve(c *gin.Context, input string) (string, error) {
	if h.resolver != nil {
		return h.resolver.ResolveChannelID(c.Request.Context(), input)
	}

	ref, err := validation.ParseChannelRef(input)
	if err != nil {
		return "", &service.ValidationError{Field: "channel", Message: err.Error()}
	}
	if ref.Kind != validation.RefID {
		return "", &service.ValidationError{Field: "channel", Message: "channel URLs need the YouTube API to resolve"}
	}
	return ref.Value, nil
}

// Next handles GET /queue/next?skip=a&skip=b. skip also accepts a
// comma-separated list.
func (h *ChannelHandler) Next(c *gin.Context) {
	ch, err := h.backlog.Next(c.Request.Context(), splitList(c.QueryArray("skip")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Move handles POST /channels/move.
func (h *ChannelHandler) Move(c *gin.Context) {
	var req models.MoveChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	dest, err := service.ParseDestination(req.Destination)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.triage.MoveChannel(c.Request.Context(), req.ChannelID, dest); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true})
}

// Add handles POST /channels.
func (h *ChannelHandler) Add(c *gin.Context) {
	var req models.AddChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	if err := h.validator.ValidateChannelID(req.ChannelID); err != nil {
		sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	dest, err := service.ParseDestination(req.Destination)
	if err != nil {
		respondError(c, err)
		return
	}

	ch, err := h.triage.AddChannel(c.Request.Context(), req.ChannelID, dest)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Log.Info("Channel added",
		zap.String("channelId", ch.ID),
		zap.String("author", ch.Data.Author),
		zap.String("destination", string(dest)),
	)

	c.JSON(http.StatusCreated, ch)
}

// Get handles GET /channels/:id. Videos are ordered by upload date, with
// entries not yet recorded last.
func (h *ChannelHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	ch, err := h.triage.Locate(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	recorded, err := h.videos.ListByChannel(ctx, ch.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	sortByUploadDate(ch.Videos, recorded)

	c.JSON(http.StatusOK, ch)
}

func sortByUploadDate(videos []dbmodels.BasicVideo, recorded []*dbmodels.Video) {
	uploaded := make(map[string]int64, len(recorded))
	for _, v := range recorded {
		if v.Data.UploadDate != nil {
			uploaded[v.ID] = v.Data.UploadDate.Unix()
		}
	}

	sort.SliceStable(videos, func(i, j int) bool {
		a, aok := uploaded[videos[i].VideoID]
		b, bok := uploaded[videos[j].VideoID]
		switch {
		case aok && bok:
			return a < b
		default:
			return aok && !bok
		}
	})
}

// List handles GET /channels?state=parsed&limit=&offset=.
func (h *ChannelHandler) List(c *gin.Context) {
	state := dbmodels.StateParsed
	if s := c.Query("state"); s != "" {
		parsed, err := dbmodels.ParseState(s)
		if err != nil {
			sendError(c, http.StatusBadRequest, err.Error())
			return
		}
		state = parsed
	}

	limit, offset := parseLimit(c), parseOffset(c)

	channels, err := h.channels.ListByState(c.Request.Context(), state, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ChannelListResponse{
		Channels: channels,
		Count:    len(channels),
		Limit:    limit,
		Offset:   offset,
	})
}

// State handles GET /channels/:id/state.
func (h *ChannelHandler) State(c *gin.Context) {
	id := c.Param("id")

	state, err := h.triage.State(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ChannelStateResponse{ChannelID: id, State: state})
}

// Parsed handles GET /channels/parsed?ids=a,b and answers with a map of id
// to whether the channel is parsed.
func (h *ChannelHandler) Parsed(c *gin.Context) {
	ids := splitList(c.QueryArray("ids"))
	if len(ids) == 0 {
		sendError(c, http.StatusBadRequest, "ids is required")
		return
	}

	states, err := h.channels.GetStates(c.Request.Context(), ids)
	if err != nil {
		respondError(c, err)
		return
	}

	parsed := make(map[string]bool, len(ids))
	for _, id := range ids {
		parsed[id] = states[id] == dbmodels.StateParsed
	}

	c.JSON(http.StatusOK, parsed)
}

// IDs handles GET /channels/ids and returns the parsed channel ids.
func (h *ChannelHandler) IDs(c *gin.Context) {
	ids, err := h.channels.ListIDsByState(c.Request.Context(), dbmodels.StateParsed)
	if err != nil {
		respondError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, ids)
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
