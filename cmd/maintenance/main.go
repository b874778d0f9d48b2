package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/config"
	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/db/repository"
	"github.com/ytarchiver/channel-archiver/internal/filter"
	"github.com/ytarchiver/channel-archiver/internal/service"
	"github.com/ytarchiver/channel-archiver/internal/service/quota"
	"github.com/ytarchiver/channel-archiver/internal/service/youtube"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// Task names accepted by -tasks.
const (
	TaskFix       = "fix"
	TaskRefilter  = "refilter"
	TaskRelations = "relations"
)

func main() {
	var (
		tasks    string
		interval time.Duration
	)
	flag.StringVar(&tasks, "tasks", TaskFix, "Comma-separated tasks to run: fix, refilter, relations")
	flag.DurationVar(&interval, "interval", 0, "Repeat every interval (0 runs once and exits)")
	flag.Parse()

	if err := run(strings.Split(tasks, ","), interval); err != nil {
		fmt.Fprintf(os.Stderr, "maintenance: %v\n", err)
		os.Exit(1)
	}
}

func run(tasks []string, interval time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, db.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(pool)

	store := service.Store{
		Channels:  repository.NewChannelRepository(pool),
		Relations: repository.NewRelationRepository(pool),
		Videos:    repository.NewVideoRepository(pool),
	}

	// Refilter fetches channel data again; the other tasks stay offline
	var fetcher service.ChannelFetcher
	if contains(tasks, TaskRefilter) {
		qm := quota.NewManager(repository.NewQuotaRepository(pool), cfg.YouTube.DailyQuota, cfg.YouTube.QuotaThreshold)
		yt, err := youtube.NewClient(ctx, cfg.YouTube.APIKey, qm, cfg.YouTube.CommentPageLimit)
		if err != nil {
			return fmt.Errorf("init YouTube client: %w", err)
		}
		fetcher = yt
	}

	retry := service.RetryPolicy{Backoff: cfg.Crawl.Backoff, Unavailable: cfg.Crawl.UnavailableMessages}

	// No backlog here: it lives in the server process and prunes itself there
	m := &Maintainer{
		triage:    service.NewTriage(store, fetcher, filter.FromSettings(cfg.Filters), retry, nil, nil, nil),
		relations: service.NewRelationBuilder(store),
		tasks:     tasks,
		logger:    logger.Named("maintenance"),
	}

	if err := m.RunOnce(ctx); err != nil || interval <= 0 {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Maintenance stopped")
			return nil
		case <-ticker.C:
			if err := m.RunOnce(ctx); err != nil {
				m.logger.Error("Scheduled maintenance failed", zap.Error(err))
			}
		}
	}
}

// Repairer runs the store-wide repair sweeps.
type Repairer interface {
	Fix(ctx context.Context) (*service.FixReport, error)
	RefilterAll(ctx context.Context) (*service.RefilterReport, error)
}

// RelationRebuilder recomputes commenter edges from recorded comments.
type RelationRebuilder interface {
	RebuildRelations(ctx context.Context, state models.State) (int, error)
}

// Maintainer runs the selected maintenance tasks in order.
type Maintainer struct {
	triage    Repairer
	relations RelationRebuilder
	tasks     []string
	logger    *zap.Logger
}

// RunOnce runs every task once. Unknown task names fail before anything
// runs. A failing task stops the run.
func (m *Maintainer) RunOnce(ctx context.Context) error {
	for _, task := range m.tasks {
		switch strings.TrimSpace(task) {
		case TaskFix, TaskRefilter, TaskRelations:
		default:
			return fmt.Errorf("unknown task %q", task)
		}
	}

	for _, task := range m.tasks {
		start := time.Now()

		switch strings.TrimSpace(task) {
		case TaskFix:
			report, err := m.triage.Fix(ctx)
			if err != nil {
				return fmt.Errorf("fix: %w", err)
			}
			m.logger.Info("Fix completed",
				zap.Int64("orphanRelations", report.OrphanRelations),
				zap.Int64("titlesCollapsed", report.TitlesCollapsed),
				zap.Duration("duration", time.Since(start)),
			)

		case TaskRefilter:
			report, err := m.triage.RefilterAll(ctx)
			if err != nil {
				return fmt.Errorf("refilter: %w", err)
			}
			m.logger.Info("Refilter completed",
				zap.Int("checked", report.Checked),
				zap.Int("queued", report.Queued),
				zap.Int("failed", report.Failed),
				zap.Duration("duration", time.Since(start)),
			)

		case TaskRelations:
			n, err := m.relations.RebuildRelations(ctx, models.StateQueued)
			if err != nil {
				return fmt.Errorf("rebuild relations: %w", err)
			}
			m.logger.Info("Relations rebuilt",
				zap.Int("channels", n),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}

	return nil
}

func contains(tasks []string, want string) bool {
	for _, t := range tasks {
		if strings.TrimSpace(t) == want {
			return true
		}
	}
	return false
}
