// Package filter holds the pure triage predicates. Every function returns
// true when the subject should be rejected or skipped; none of them touch
// state beyond their arguments.
package filter

import (
	"github.com/ytarchiver/channel-archiver/internal/config"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
)

// Config holds the thresholds the predicates compare against.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	MinSubscribers            int64
	MaxSubscribers            int64
	MaxVideos                 int
	BlockLivestreams          bool
	BlockNoVideos             bool
	MinVideoLength            int
	MaxVideoLength            int
	MaxSubscribersForComments int64
	MaxComments               int
	MinChannelsCommentedOn    int
}

// Default returns the stock thresholds.
func Default() Config {
	return Config{
		MinSubscribers:            0,
		MaxSubscribers:            100000,
		MaxVideos:                 1000,
		BlockLivestreams:          true,
		BlockNoVideos:             false,
		MinVideoLength:            0,
		MaxVideoLength:            300,
		MaxSubscribersForComments: 20000,
		MaxComments:               500,
		MinChannelsCommentedOn:    1,
	}
}

// FromSettings converts the viper-loaded filter section.
func FromSettings(c config.FilterConfig) Config {
	return Config(c)
}

// FilterChannel rejects a channel whose subscriber count is outside bounds.
func FilterChannel(cfg Config, data *models.ChannelData) bool {
	if data == nil {
		return true
	}
	return data.SubscriberCount < cfg.MinSubscribers || data.SubscriberCount > cfg.MaxSubscribers
}

// FilterChannelVideos rejects a channel with too many videos, or with none
// when empty channels are blocked.
func FilterChannelVideos(cfg Config, videos []models.BasicVideo) bool {
	if len(videos) > cfg.MaxVideos {
		return true
	}
	return cfg.BlockNoVideos && len(videos) == 0
}

// FilterVideoBasic skips a video that is live when livestreams are blocked,
// or whose length is outside bounds.
func FilterVideoBasic(cfg Config, video *models.BasicVideo) bool {
	if video.LiveNow && cfg.BlockLivestreams {
		return true
	}
	return video.LengthSeconds < cfg.MinVideoLength || video.LengthSeconds > cfg.MaxVideoLength
}

// FilterComments skips commenter exploration for large channels or videos
// with too many commenters.
func FilterComments(cfg Config, data *models.ChannelData, commenters []string) bool {
	if data != nil && data.SubscriberCount > cfg.MaxSubscribersForComments {
		return true
	}
	return len(commenters) > cfg.MaxComments
}

// FilterChannelComments rejects a commenter that commented on fewer known
// channels than required.
func FilterChannelComments(cfg Config, commentedOn int) bool {
	return commentedOn < cfg.MinChannelsCommentedOn
}
