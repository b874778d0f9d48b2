package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// DownloadTracker records completions reported by the download workers.
type DownloadTracker struct {
	store Store
}

// NewDownloadTracker creates a DownloadTracker.
func NewDownloadTracker(store Store) *DownloadTracker {
	return &DownloadTracker{store: store}
}

// MarkDownloaded flags the video and its entry in the owning channel's list.
// A missing channel entry is logged; the video flag is still set.
func (d *DownloadTracker) MarkDownloaded(ctx context.Context, videoID, channelID string) error {
	if err := d.store.Videos.SetDownloaded(ctx, videoID); err != nil {
		return err
	}

	if err := d.store.Channels.SetVideoDownloaded(ctx, channelID, videoID); err != nil {
		if db.IsNotFound(err) {
			logger.Log.Warn("Downloaded video has no channel record",
				zap.String("videoId", videoID),
				zap.String("channelId", channelID),
			)
			return nil
		}
		return err
	}

	return nil
}
