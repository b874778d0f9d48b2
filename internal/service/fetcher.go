package service

import (
	"context"

	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/db/repository"
)

// ChannelFetcher reads channel metadata and uploads from the video platform.
type ChannelFetcher interface {
	// ParseChannel returns the channel payload. A nil payload or one with
	// an AlertMessage is a soft failure.
	ParseChannel(ctx context.Context, channelID string) (*models.ChannelData, error)

	// GetVideos lists the channel's uploads. When maxVideos > 0 and the
	// channel has more, it returns ErrMaxVideosExceeded.
	GetVideos(ctx context.Context, channelID string, maxVideos int) ([]models.BasicVideo, error)
}

// VideoFetcher reads a video with its comments.
type VideoFetcher interface {
	// ParseVideo returns the payload and the comment author ids. A video
	// that is gone for good yields an error matching ErrVideoUnavailable or
	// one of the configured unavailable substrings.
	ParseVideo(ctx context.Context, videoID string) (*models.VideoData, []string, error)
}

// DownloadQueue hands newly recorded videos to the download workers.
type DownloadQueue interface {
	EnqueueDownload(ctx context.Context, videoID, channelID string) error
}

// Store groups the repositories the pipeline works against.
type Store struct {
	Channels  repository.ChannelRepository
	Relations repository.RelationRepository
	Videos    repository.VideoRepository
}
