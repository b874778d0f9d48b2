// Package youtube implements the channel and video fetchers over the
// YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/service"
	"github.com/ytarchiver/channel-archiver/internal/validation"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// Quota costs per call, in API units.
const (
	costList   = 1
	costSearch = 100
)

// Operation names recorded against the daily quota.
const (
	opChannels  = "channels_list"
	opPlaylist  = "playlist_items"
	opVideos    = "videos_list"
	opComments  = "comment_threads"
	opSearch    = "search"
	maxPageSize = 50
)

// QuotaGuard reserves API units before a call is made.
type QuotaGuard interface {
	Reserve(ctx context.Context, cost int, operationType string) error
}

// Client wraps the YouTube Data API v3 client.
type Client struct {
	service          *youtube.Service
	quota            QuotaGuard
	commentPageLimit int
	log              *zap.Logger
}

// NewClient creates a new YouTube API client. quota may be nil. Extra
// options are passed to the underlying service; tests use them to point the
// client at a local server.
func NewClient(ctx context.Context, apiKey string, quota QuotaGuard, commentPageLimit int, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" && len(opts) == 0 {
		return nil, fmt.Errorf("YouTube API key is required")
	}
	if commentPageLimit <= 0 {
		commentPageLimit = 10
	}

	if apiKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}

	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	return &Client{
		service:          svc,
		quota:            quota,
		commentPageLimit: commentPageLimit,
		log:              logger.Named("youtube"),
	}, nil
}

func (c *Client) reserve(ctx context.Context, cost int, op string) error {
	if c.quota == nil {
		return nil
	}
	return c.quota.Reserve(ctx, cost, op)
}

// ParseChannel fetches channel metadata. An unknown channel comes back as a
// payload carrying an AlertMessage rather than an error.
func (c *Client) ParseChannel(ctx context.Context, channelID string) (*models.ChannelData, error) {
	if err := c.reserve(ctx, costList, opChannels); err != nil {
		return nil, err
	}

	resp, err := c.service.Channels.
		List([]string{"snippet", "statistics", "contentDetails"}).
		Id(channelID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list %s: %w", channelID, err)
	}

	if len(resp.Items) == 0 {
		return &models.ChannelData{
			AuthorID:     channelID,
			AlertMessage: "This channel does not exist.",
		}, nil
	}

	return mapChannel(resp.Items[0]), nil
}

func mapChannel(ch *youtube.Channel) *models.ChannelData {
	data := &models.ChannelData{
		AuthorID:  ch.Id,
		AuthorURL: "https://www.youtube.com/channel/" + ch.Id,
	}

	if ch.Snippet != nil {
		data.Author = ch.Snippet.Title
		data.Description = ch.Snippet.Description
		data.AuthorThumbnails = mapThumbnails(ch.Snippet.Thumbnails)
	}
	if ch.Statistics != nil {
		data.SubscriberCount = int64(ch.Statistics.SubscriberCount)
		data.VideoCount = int64(ch.Statistics.VideoCount)
	}
	if ch.ContentDetails != nil && ch.ContentDetails.RelatedPlaylists != nil {
		data.UploadsPlaylist = ch.ContentDetails.RelatedPlaylists.Uploads
	}

	return data
}

// GetVideos lists a channel's uploads, newest first. With maxVideos > 0 it
// stops paging and returns ErrMaxVideosExceeded as soon as the channel is
// known to have more uploads than that.
func (c *Client) GetVideos(ctx context.Context, channelID string, maxVideos int) ([]models.BasicVideo, error) {
	playlistID, err := c.uploadsPlaylist(ctx, channelID)
	if err != nil {
		return nil, err
	}

	ids, err := c.playlistVideoIDs(ctx, playlistID, maxVideos)
	if err != nil {
		return nil, err
	}

	videos := make([]models.BasicVideo, 0, len(ids))
	for _, batch := range BatchVideoIDs(ids, maxPageSize) {
		if err := c.reserve(ctx, costList, opVideos); err != nil {
			return nil, err
		}

		resp, err := c.service.Videos.
			List([]string{"snippet", "contentDetails", "statistics"}).
			Id(batch...).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("videos.list for %s: %w", channelID, err)
		}

		byID := make(map[string]*youtube.Video, len(resp.Items))
		for _, item := range resp.Items {
			byID[item.Id] = item
		}
		// Private and deleted uploads are absent from the response.
		for _, id := range batch {
			if item, ok := byID[id]; ok {
				videos = append(videos, mapBasicVideo(item))
			}
		}
	}

	c.log.Debug("Listed channel uploads",
		zap.String("channelId", channelID),
		zap.Int("videos", len(videos)),
	)

	return videos, nil
}

// uploadsPlaylist derives the uploads playlist from a UC channel id, and
// asks the API for anything else.
func (c *Client) uploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:], nil
	}

	data, err := c.ParseChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	if data.Unavailable() || data.UploadsPlaylist == "" {
		return "", fmt.Errorf("%w: %s", service.ErrChannelUnavailable, channelID)
	}
	return data.UploadsPlaylist, nil
}

func (c *Client) playlistVideoIDs(ctx context.Context, playlistID string, maxVideos int) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		if err := c.reserve(ctx, costList, opPlaylist); err != nil {
			return nil, err
		}

		call := c.service.PlaylistItems.
			List([]string{"contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(maxPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			// A channel without uploads has no uploads playlist.
			if apiErrorCode(err) == http.StatusNotFound {
				return []string{}, nil
			}
			return nil, fmt.Errorf("playlistItems.list %s: %w", playlistID, err)
		}

		if maxVideos > 0 && resp.PageInfo != nil && resp.PageInfo.TotalResults > int64(maxVideos) {
			return nil, service.ErrMaxVideosExceeded
		}

		for _, item := range resp.Items {
			if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
				ids = append(ids, item.ContentDetails.VideoId)
			}
		}
		if maxVideos > 0 && len(ids) > maxVideos {
			return nil, service.ErrMaxVideosExceeded
		}

		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

func mapBasicVideo(v *youtube.Video) models.BasicVideo {
	out := models.BasicVideo{VideoID: v.Id}

	if v.Snippet != nil {
		out.Title = v.Snippet.Title
		out.LiveNow = v.Snippet.LiveBroadcastContent == "live"
		out.Thumbnails = mapThumbnails(v.Snippet.Thumbnails)
		out.PublishedAt = parseYouTubeTime(v.Snippet.PublishedAt)
	}
	if v.ContentDetails != nil {
		if secs, err := ParseVideoDuration(v.ContentDetails.Duration); err == nil {
			out.LengthSeconds = secs
		}
	}
	if v.Statistics != nil {
		out.ViewCount = int64(v.Statistics.ViewCount)
	}

	return out
}

// ParseVideo fetches a video and its top-level comments. It returns the
// payload and the distinct comment author ids.
func (c *Client) ParseVideo(ctx context.Context, videoID string) (*models.VideoData, []string, error) {
	if err := c.reserve(ctx, costList, opVideos); err != nil {
		return nil, nil, err
	}

	resp, err := c.service.Videos.
		List([]string{"snippet", "contentDetails", "statistics"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, nil, fmt.Errorf("videos.list %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", service.ErrVideoUnavailable, videoID)
	}

	data := mapVideo(resp.Items[0])

	comments, err := c.comments(ctx, videoID)
	if err != nil {
		return nil, nil, err
	}
	data.Comments = comments

	return data, data.CommentAuthorIDs(), nil
}

func mapVideo(v *youtube.Video) *models.VideoData {
	data := &models.VideoData{Comments: []models.Comment{}}

	if v.Snippet != nil {
		data.Title = v.Snippet.Title
		data.ChannelID = v.Snippet.ChannelId
		data.Uploader = v.Snippet.ChannelTitle
		data.Description = v.Snippet.Description
		data.UploadDate = parseYouTubeTime(v.Snippet.PublishedAt)
		data.Thumbnails = mapThumbnails(v.Snippet.Thumbnails)
	}
	if v.ContentDetails != nil {
		if secs, err := ParseVideoDuration(v.ContentDetails.Duration); err == nil {
			data.LengthSeconds = secs
		}
	}
	if v.Statistics != nil {
		data.ViewCount = int64(v.Statistics.ViewCount)
		data.CommentCount = int64(v.Statistics.CommentCount)
	}

	return data
}

// comments pages through top-level comment threads up to the configured
// page limit. Disabled comments yield an empty list.
func (c *Client) comments(ctx context.Context, videoID string) ([]models.Comment, error) {
	comments := []models.Comment{}
	pageToken := ""

	for page := 0; page < c.commentPageLimit; page++ {
		if err := c.reserve(ctx, costList, opComments); err != nil {
			return nil, err
		}

		call := c.service.CommentThreads.
			List([]string{"snippet"}).
			VideoId(videoID).
			MaxResults(100).
			TextFormat("plainText").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			switch {
			case apiErrorReason(err) == "commentsDisabled":
				return comments, nil
			case apiErrorCode(err) == http.StatusNotFound:
				return nil, fmt.Errorf("%w: %s", service.ErrVideoUnavailable, videoID)
			}
			return nil, fmt.Errorf("commentThreads.list %s: %w", videoID, err)
		}

		for _, thread := range resp.Items {
			if thread.Snippet == nil || thread.Snippet.TopLevelComment == nil {
				continue
			}
			s := thread.Snippet.TopLevelComment.Snippet
			if s == nil {
				continue
			}
			comment := models.Comment{Author: s.AuthorDisplayName, Text: s.TextDisplay}
			if s.AuthorChannelId != nil {
				comment.AuthorID = s.AuthorChannelId.Value
			}
			comments = append(comments, comment)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return comments, nil
}

// ResolveChannelID turns a channel id, @handle or channel URL into a
// channel id. Custom /c/ names are tried as handles before falling back to
// search.
func (c *Client) ResolveChannelID(ctx context.Context, input string) (string, error) {
	ref, err := validation.ParseChannelRef(input)
	if err != nil {
		return "", &service.ValidationError{Field: "channel", Message: err.Error()}
	}

	switch ref.Kind {
	case validation.RefID:
		return ref.Value, nil
	case validation.RefHandle:
		return c.lookupChannel(ctx, ref.Value, func(call *youtube.ChannelsListCall) *youtube.ChannelsListCall {
			return call.ForHandle(ref.Value)
		})
	case validation.RefUser:
		return c.lookupChannel(ctx, ref.Value, func(call *youtube.ChannelsListCall) *youtube.ChannelsListCall {
			return call.ForUsername(ref.Value)
		})
	}

	id, err := c.lookupChannel(ctx, ref.Value, func(call *youtube.ChannelsListCall) *youtube.ChannelsListCall {
		return call.ForHandle("@" + ref.Value)
	})
	if !errors.Is(err, service.ErrChannelUnavailable) {
		return id, err
	}
	return c.searchChannel(ctx, ref.Value)
}

func (c *Client) lookupChannel(ctx context.Context, name string, filter func(*youtube.ChannelsListCall) *youtube.ChannelsListCall) (string, error) {
	if err := c.reserve(ctx, costList, opChannels); err != nil {
		return "", err
	}

	resp, err := filter(c.service.Channels.List([]string{"id"})).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("channels.list %s: %w", name, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("%w: %s", service.ErrChannelUnavailable, name)
	}
	return resp.Items[0].Id, nil
}

func (c *Client) searchChannel(ctx context.Context, name string) (string, error) {
	if err := c.reserve(ctx, costSearch, opSearch); err != nil {
		return "", err
	}

	resp, err := c.service.Search.
		List([]string{"snippet"}).
		Q(name).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("search.list %s: %w", name, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.ChannelId == "" {
		return "", fmt.Errorf("%w: %s", service.ErrChannelUnavailable, name)
	}

	c.log.Info("Resolved custom channel name by search",
		zap.String("name", name),
		zap.String("channelId", resp.Items[0].Id.ChannelId),
	)
	return resp.Items[0].Id.ChannelId, nil
}

func apiErrorCode(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

func apiErrorReason(err error) string {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && len(apiErr.Errors) > 0 {
		return apiErr.Errors[0].Reason
	}
	return ""
}

func mapThumbnails(t *youtube.ThumbnailDetails) []models.Thumbnail {
	if t == nil {
		return nil
	}

	var out []models.Thumbnail
	for _, th := range []*youtube.Thumbnail{t.Default, t.Medium, t.High, t.Standard, t.Maxres} {
		if th == nil || th.Url == "" {
			continue
		}
		out = append(out, models.Thumbnail{URL: th.Url, Width: th.Width, Height: th.Height})
	}
	return out
}

func parseYouTubeTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// BatchVideoIDs splits a large list of video IDs into batches of 50
func BatchVideoIDs(videoIDs []string, batchSize int) [][]string {
	if batchSize <= 0 || batchSize > maxPageSize {
		batchSize = maxPageSize
	}

	var batches [][]string
	for i := 0; i < len(videoIDs); i += batchSize {
		end := min(i+batchSize, len(videoIDs))
		batches = append(batches, videoIDs[i:end])
	}

	return batches
}

// ParseVideoDuration converts an ISO 8601 duration to seconds.
// Example: "PT4M13S" -> 253, "P1DT2H" -> 93600
func ParseVideoDuration(duration string) (int, error) {
	if !strings.HasPrefix(duration, "P") {
		return 0, fmt.Errorf("invalid duration format: %s", duration)
	}
	rest := duration[1:]

	var days int
	if dIdx := strings.Index(rest, "D"); dIdx != -1 {
		d, err := strconv.Atoi(rest[:dIdx])
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		days = d
		rest = rest[dIdx+1:]
	}

	if rest == "" {
		return days * 86400, nil
	}
	if !strings.HasPrefix(rest, "T") {
		return 0, fmt.Errorf("invalid duration format: %s", duration)
	}
	rest = rest[1:]

	total := days * 86400
	for _, unit := range []struct {
		suffix string
		mult   int
	}{{"H", 3600}, {"M", 60}, {"S", 1}} {
		idx := strings.Index(rest, unit.suffix)
		if idx == -1 {
			continue
		}
		n, err := strconv.Atoi(rest[:idx])
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", duration)
		}
		total += n * unit.mult
		rest = rest[idx+1:]
	}
	if rest != "" {
		return 0, fmt.Errorf("invalid duration format: %s", duration)
	}

	return total, nil
}
