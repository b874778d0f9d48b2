package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/db/repository"
	"github.com/ytarchiver/channel-archiver/internal/lease"
	"github.com/ytarchiver/channel-archiver/internal/metrics"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// RecrawlerConfig holds the re-crawl scheduler settings.
type RecrawlerConfig struct {
	Gap       time.Duration
	Interval  time.Duration
	BatchSize int
	LeaseTTL  time.Duration
	Retry     RetryPolicy
}

// Recrawler refreshes parsed channels so that videos published after the
// first crawl get recorded.
type Recrawler struct {
	store   Store
	fetcher ChannelFetcher
	crawler *Crawler
	locker  lease.Locker
	metrics *metrics.Metrics
	cfg     RecrawlerConfig
	now     func() time.Time
	log     *zap.Logger
}

// NewRecrawler creates a re-crawl scheduler.
func NewRecrawler(store Store, fetcher ChannelFetcher, crawler *Crawler, locker lease.Locker, m *metrics.Metrics, cfg RecrawlerConfig) *Recrawler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 10 * time.Minute
	}
	return &Recrawler{
		store:   store,
		fetcher: fetcher,
		crawler: crawler,
		locker:  locker,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
		log:     logger.Named("recrawl"),
	}
}

// Run re-crawls due channels immediately and then every interval.
func (r *Recrawler) Run(ctx context.Context) {
	r.log.Info("Re-crawl scheduler started",
		zap.Duration("gap", r.cfg.Gap),
		zap.Duration("interval", r.cfg.Interval),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := r.RecrawlDue(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("Re-crawl failed", zap.Error(err))
		} else if n > 0 {
			r.log.Info("Re-crawl finished", zap.Int("channels", n))
		}

		select {
		case <-ctx.Done():
			r.log.Info("Re-crawl scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RecrawlDue refreshes every parsed channel whose last update is older than
// the gap, BatchSize rows at a time, and returns how many were refreshed.
func (r *Recrawler) RecrawlDue(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.cfg.Gap)

	refreshed := 0
	cursor := repository.RecrawlCursor{}
	for {
		channels, err := r.store.Channels.ListRecrawlDue(ctx, cutoff, cursor, r.cfg.BatchSize)
		if err != nil {
			return refreshed, err
		}
		if len(channels) == 0 {
			return refreshed, nil
		}
		cursor = repository.CursorAfter(channels[len(channels)-1])

		for _, ch := range channels {
			if ctx.Err() != nil {
				return refreshed, ctx.Err()
			}

			ok, err := r.RecrawlChannel(ctx, ch)
			if err != nil {
				if ctx.Err() != nil {
					return refreshed, ctx.Err()
				}
				r.log.Error("Failed to re-crawl channel", zap.String("channelId", ch.ID), zap.Error(err))
				continue
			}
			if ok {
				refreshed++
			}
		}

		if len(channels) < r.cfg.BatchSize {
			return refreshed, nil
		}
	}
}

// RecrawlChannel refetches a parsed channel, appends its new videos and
// explores only those. It reports false when the channel was skipped. An
// unavailable channel still gets its update date stamped so it waits a full
// gap before the next attempt.
func (r *Recrawler) RecrawlChannel(ctx context.Context, ch *models.Channel) (bool, error) {
	release, ok, err := r.locker.TryAcquire(ctx, lease.ChannelKey(ch.ID), r.cfg.LeaseTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer release()

	data, err := retryFetch(ctx, r.cfg.Retry, r.metrics, "parse_channel", ch.ID,
		func(ctx context.Context) (*models.ChannelData, error) {
			return r.fetcher.ParseChannel(ctx, ch.ID)
		})
	if err != nil && !r.cfg.Retry.IsPermanent(err) {
		return false, err
	}
	if err != nil || data.Unavailable() {
		return false, r.skipUnavailable(ctx, ch.ID)
	}

	fetched, err := retryFetch(ctx, r.cfg.Retry, r.metrics, "get_videos", ch.ID,
		func(ctx context.Context) ([]models.BasicVideo, error) {
			return r.fetcher.GetVideos(ctx, ch.ID, 0)
		})
	if err != nil {
		if errors.Is(err, ErrChannelUnavailable) {
			return false, r.skipUnavailable(ctx, ch.ID)
		}
		return false, err
	}

	known := make(map[string]string, len(ch.Videos))
	for _, v := range ch.Videos {
		known[v.VideoID] = v.Title
	}

	var added []models.BasicVideo
	for _, v := range fetched {
		title, ok := known[v.VideoID]
		if !ok {
			known[v.VideoID] = v.Title
			added = append(added, v)
			continue
		}
		if v.Title != "" && v.Title != title {
			if _, err := r.store.Videos.AppendTitle(ctx, v.VideoID, v.Title); err != nil {
				return false, err
			}
		}
	}

	videos := make([]models.BasicVideo, 0, len(ch.Videos)+len(added))
	videos = append(videos, ch.Videos...)
	videos = append(videos, added...)

	if err := r.store.Channels.UpdateContent(ctx, ch.ID, models.StateParsed, *data, videos); err != nil {
		return false, err
	}
	ch.Data = *data
	ch.Videos = videos

	if !ch.DontDownload {
		explore := added
		if r.crawler.cfg.RetrySkippedCommenters {
			explore = videos
		}
		if len(explore) > 0 {
			stats, err := r.crawler.ExploreVideos(ctx, ch, explore)
			if err != nil {
				return false, err
			}
			r.log.Info("Channel re-crawled",
				zap.String("channelId", ch.ID),
				zap.Int("newVideos", len(added)),
				zap.Int("recorded", stats.Recorded),
			)
		}
	}

	if err := r.store.Channels.TouchUpdateDate(ctx, ch.ID, r.now()); err != nil {
		return false, err
	}
	r.metrics.ChannelRecrawled()

	return true, nil
}

func (r *Recrawler) skipUnavailable(ctx context.Context, id string) error {
	r.log.Info("Channel unavailable, re-crawl skipped", zap.String("channelId", id))
	return r.store.Channels.TouchUpdateDate(ctx, id, r.now())
}
