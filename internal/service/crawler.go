package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/events"
	"github.com/ytarchiver/channel-archiver/internal/filter"
	"github.com/ytarchiver/channel-archiver/internal/lease"
	"github.com/ytarchiver/channel-archiver/internal/metrics"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// CrawlerConfig holds the crawl worker settings.
type CrawlerConfig struct {
	Filters                filter.Config
	Retry                  RetryPolicy
	PollInterval           time.Duration
	LeaseTTL               time.Duration
	RetrySkippedCommenters bool
}

// ExploreStats counts what happened to the videos of one exploration.
type ExploreStats struct {
	Recorded    int
	Known       int
	Filtered    int
	Unavailable int
	Discovered  int
}

// Crawler explores accepted channels: it records their videos, triages the
// commenters and marks the channel parsed.
type Crawler struct {
	store     Store
	triage    *Triage
	relations *RelationBuilder
	videos    VideoFetcher
	downloads DownloadQueue
	locker    lease.Locker
	bus       *events.Bus
	metrics   *metrics.Metrics
	cfg       CrawlerConfig
	log       *zap.Logger
}

// NewCrawler creates a crawl worker. downloads, bus and m may be nil.
func NewCrawler(store Store, triage *Triage, relations *RelationBuilder, videos VideoFetcher, downloads DownloadQueue, locker lease.Locker, bus *events.Bus, m *metrics.Metrics, cfg CrawlerConfig) *Crawler {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	return &Crawler{
		store:     store,
		triage:    triage,
		relations: relations,
		videos:    videos,
		downloads: downloads,
		locker:    locker,
		bus:       bus,
		metrics:   m,
		cfg:       cfg,
		log:       logger.Named("crawler"),
	}
}

// Run performs a pass at startup and then whenever a channel is accepted or
// the poll interval elapses, until ctx is done.
func (c *Crawler) Run(ctx context.Context) {
	c.log.Info("Crawler started", zap.Duration("pollInterval", c.cfg.PollInterval))

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := c.RunPass(ctx); err != nil && ctx.Err() == nil {
			c.log.Error("Crawl pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			c.log.Info("Crawler stopped")
			return
		case <-c.triage.Wakeups():
		case <-ticker.C:
		}
	}
}

// RunPass crawls accepted channels until none is left that this worker can
// take. It returns immediately when another pass holds the lease.
func (c *Crawler) RunPass(ctx context.Context) (int, error) {
	release, ok, err := c.locker.TryAcquire(ctx, lease.PassKey, c.cfg.LeaseTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		c.log.Debug("Crawl pass already running")
		return 0, nil
	}
	defer release()

	processed := 0
	skip := make(map[string]struct{})

	for {
		ids, err := c.store.Channels.ListIDsByState(ctx, models.StateAccepted)
		if err != nil {
			return processed, err
		}

		progress := false
		for _, id := range ids {
			if _, ok := skip[id]; ok {
				continue
			}

			done, err := c.processChannel(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return processed, ctx.Err()
				}
				c.log.Error("Failed to crawl channel", zap.String("channelId", id), zap.Error(err))
			}
			if !done {
				skip[id] = struct{}{}
				continue
			}
			processed++
			progress = true
		}

		if !progress {
			break
		}
	}

	c.metrics.PassCompleted()
	if processed > 0 {
		c.log.Info("Crawl pass finished", zap.Int("channels", processed))
	}

	return processed, nil
}

func (c *Crawler) processChannel(ctx context.Context, id string) (bool, error) {
	release, ok, err := c.locker.TryAcquire(ctx, lease.ChannelKey(id), c.cfg.LeaseTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer release()

	ch, err := c.store.Channels.Get(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if ch.State != models.StateAccepted {
		return false, nil
	}

	start := time.Now()

	if !ch.DontDownload {
		stats, err := c.ExploreVideos(ctx, ch, ch.Videos)
		if err != nil {
			return false, err
		}
		c.log.Info("Channel explored",
			zap.String("channelId", id),
			zap.Int("recorded", stats.Recorded),
			zap.Int("known", stats.Known),
			zap.Int("filtered", stats.Filtered),
			zap.Int("unavailable", stats.Unavailable),
			zap.Int("discovered", stats.Discovered),
		)
	}

	if err := c.triage.OnChannelParsed(ctx, id); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}

	c.metrics.ObserveChannel(time.Since(start))
	return true, nil
}

type fetchedVideo struct {
	data       *models.VideoData
	commenters []string
}

// ExploreVideos records each of videos in order and, when the comment filter
// allows it, triages the commenters and links them to ch. Videos already
// recorded are skipped unless RetrySkippedCommenters is set and their
// commenters were never explored.
func (c *Crawler) ExploreVideos(ctx context.Context, ch *models.Channel, videos []models.BasicVideo) (ExploreStats, error) {
	var stats ExploreStats

	for i := range videos {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		bv := &videos[i]

		existing, err := c.store.Videos.Get(ctx, bv.VideoID)
		switch {
		case err == nil:
			if !c.cfg.RetrySkippedCommenters || existing.ParsedCommenters {
				stats.Known++
				continue
			}
		case !db.IsNotFound(err):
			return stats, err
		}

		if filter.FilterVideoBasic(c.cfg.Filters, bv) {
			c.log.Debug("Video filtered",
				zap.String("videoId", bv.VideoID),
				zap.Int("lengthSeconds", bv.LengthSeconds),
				zap.Bool("liveNow", bv.LiveNow),
			)
			stats.Filtered++
			continue
		}

		fetched, err := retryFetch(ctx, c.cfg.Retry, c.metrics, "parse_video", bv.VideoID,
			func(ctx context.Context) (fetchedVideo, error) {
				data, commenters, err := c.videos.ParseVideo(ctx, bv.VideoID)
				return fetchedVideo{data: data, commenters: commenters}, err
			})
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			c.log.Info("Video unavailable, skipped",
				zap.String("videoId", bv.VideoID),
				zap.String("channelId", ch.ID),
				zap.Error(err),
			)
			stats.Unavailable++
			continue
		}
		if fetched.data == nil {
			fetched.data = &models.VideoData{}
		}

		commenters := uniqueCommenters(fetched.commenters, ch.ID)
		parse := !filter.FilterComments(c.cfg.Filters, &ch.Data, commenters)

		if parse {
			for _, commenterID := range commenters {
				outcome, err := c.triage.Discover(ctx, commenterID)
				if err != nil {
					if ctx.Err() != nil {
						return stats, ctx.Err()
					}
					c.log.Warn("Failed to discover commenter",
						zap.String("commenterId", commenterID),
						zap.Error(err),
					)
					continue
				}
				if outcome != OutcomeKnown {
					stats.Discovered++
				}

				if _, err := c.relations.AddRelation(ctx, commenterID, ch.ID); err != nil {
					return stats, fmt.Errorf("add relation %s -> %s: %w", commenterID, ch.ID, err)
				}
			}
		}

		title := fetched.data.Title
		if title == "" {
			title = bv.Title
		}
		if fetched.data.ChannelID == "" {
			fetched.data.ChannelID = ch.ID
		}

		video := models.NewVideo(bv.VideoID, ch.ID, title, *fetched.data, parse)
		inserted, err := c.store.Videos.Record(ctx, video)
		if err != nil {
			return stats, err
		}
		if !inserted {
			continue
		}

		stats.Recorded++
		c.metrics.VideoRecorded()
		c.bus.Publish(events.Event{Type: events.TypeVideo, ChannelID: ch.ID, VideoID: bv.VideoID})

		if c.downloads != nil && !ch.DontDownload {
			if err := c.downloads.EnqueueDownload(ctx, bv.VideoID, ch.ID); err != nil {
				c.log.Warn("Failed to enqueue download",
					zap.String("videoId", bv.VideoID),
					zap.Error(err),
				)
			}
		}
	}

	return stats, nil
}

// uniqueCommenters drops empty ids, the channel itself and repeats,
// keeping first-seen order.
func uniqueCommenters(ids []string, channelID string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == channelID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
