package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/config"
	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/db/repository"
	"github.com/ytarchiver/channel-archiver/internal/events"
	"github.com/ytarchiver/channel-archiver/internal/filter"
	"github.com/ytarchiver/channel-archiver/internal/handler"
	"github.com/ytarchiver/channel-archiver/internal/lease"
	"github.com/ytarchiver/channel-archiver/internal/metrics"
	"github.com/ytarchiver/channel-archiver/internal/middleware"
	"github.com/ytarchiver/channel-archiver/internal/queue"
	"github.com/ytarchiver/channel-archiver/internal/router"
	"github.com/ytarchiver/channel-archiver/internal/service"
	"github.com/ytarchiver/channel-archiver/internal/service/quota"
	"github.com/ytarchiver/channel-archiver/internal/service/youtube"
	"github.com/ytarchiver/channel-archiver/internal/validation"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "archiver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	version, err := db.Migrate(cfg.Database.URL(), cfg.Database.MigrationsPath, 0)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("Schema up to date", zap.Uint("version", version))

	pool, err := db.NewPool(ctx, db.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(pool)

	log.Info("Database connection established", zap.Int32("maxConns", pool.Config().MaxConns))

	store := service.Store{
		Channels:  repository.NewChannelRepository(pool),
		Relations: repository.NewRelationRepository(pool),
		Videos:    repository.NewVideoRepository(pool),
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry, pool)

	// Redis backs crawl leases and the download queue when configured
	var (
		locker lease.Locker = lease.NewLocal()
		rdb    *redis.Client
	)
	if cfg.Redis.URL != "" {
		rdb, err = queue.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		locker = lease.NewRedis(rdb)
		log.Info("Using Redis crawl leases")
	}

	bus := events.NewBus()

	var publisher handler.HealthReporter
	if cfg.RabbitMQ.Enabled {
		p, err := events.NewPublisher(&cfg.RabbitMQ)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer p.Close()
		publisher = p
		go p.Forward(ctx, bus)
		log.Info("Forwarding events to RabbitMQ", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}

	quotaManager := quota.NewManager(repository.NewQuotaRepository(pool), cfg.YouTube.DailyQuota, cfg.YouTube.QuotaThreshold)
	yt, err := youtube.NewClient(ctx, cfg.YouTube.APIKey, quotaManager, cfg.YouTube.CommentPageLimit)
	if err != nil {
		return fmt.Errorf("init YouTube client: %w", err)
	}

	var downloads service.DownloadQueue
	var completions *queue.Server
	if cfg.Download.Enabled {
		if cfg.Redis.URL == "" {
			return errors.New("download.enabled requires redis.url")
		}
		qc, err := queue.NewClient(cfg.Redis.URL, cfg.Download.Queue)
		if err != nil {
			return fmt.Errorf("init download queue: %w", err)
		}
		defer qc.Close()
		downloads = qc

		completions, err = queue.NewServer(cfg.Redis.URL, cfg.Download.Concurrency, cfg.Download.CompletedQueue,
			queue.NewCompletionHandler(service.NewDownloadTracker(store)))
		if err != nil {
			return fmt.Errorf("init completion worker: %w", err)
		}
		if err := completions.Start(); err != nil {
			return fmt.Errorf("start completion worker: %w", err)
		}
		defer completions.Stop()
	}

	filters := filter.FromSettings(cfg.Filters)
	retry := service.RetryPolicy{
		Backoff:     cfg.Crawl.Backoff,
		Unavailable: cfg.Crawl.UnavailableMessages,
	}

	backlog := service.NewBacklog(store.Channels, filters, cfg.Backlog.MinRelations, cfg.Backlog.MinVideos, m)
	triage := service.NewTriage(store, yt, filters, retry, backlog, bus, m)
	relations := service.NewRelationBuilder(store)
	crawler := service.NewCrawler(store, triage, relations, yt, downloads, locker, bus, m, service.CrawlerConfig{
		Filters:                filters,
		Retry:                  retry,
		PollInterval:           cfg.Crawl.PollInterval,
		LeaseTTL:               cfg.Crawl.LeaseTTL,
		RetrySkippedCommenters: cfg.Crawl.RetrySkippedCommenters,
	})
	recrawler := service.NewRecrawler(store, yt, crawler, locker, m, service.RecrawlerConfig{
		Gap:       cfg.Recrawl.Gap,
		Interval:  cfg.Recrawl.Interval,
		BatchSize: cfg.Recrawl.BatchSize,
		LeaseTTL:  cfg.Crawl.LeaseTTL,
		Retry:     retry,
	})

	if err := seedChannel(ctx, triage, cfg.Crawl.SeedChannel, cfg.Crawl.AutoAcceptSeed); err != nil {
		return err
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Info("Worker stopped", zap.String("worker", name))
		}()
	}

	start("backlog", func(ctx context.Context) { backlog.Run(ctx, cfg.Backlog.RebuildInterval) })
	if cfg.Crawl.Enabled {
		start("crawler", crawler.Run)
	}
	if cfg.Recrawl.Enabled {
		start("recrawler", recrawler.Run)
	}

	var redisPing handler.Pinger
	if rdb != nil {
		redisPing = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	validator := validation.New(true)
	channelHandler := handler.NewChannelHandler(triage, backlog, yt, recrawler, store.Channels, store.Videos, validator).
		WithRefreshPolicy(handler.RefreshPolicy{
			MinAge:  cfg.Recrawl.LookupMinAge,
			Timeout: cfg.Recrawl.LookupTimeout,
		})
	handlers := &router.Handlers{
		Health:      handler.NewHealthHandler(pool, redisPing, publisher),
		Channel:     channelHandler,
		Video:       handler.NewVideoHandler(store.Videos, triage, validator),
		Connections: handler.NewConnectionsHandler(relations),
		Archive:     handler.NewArchiveHandler(triage, backlog, store.Channels, store.Videos),
		Events:      handler.NewEventsHandler(bus),
	}

	var auth *middleware.APIKeyAuth
	if len(cfg.Server.APIKeys) > 0 {
		auth = middleware.NewAPIKeyAuth(cfg.Server.APIKeys, logger.Named("auth"))
	} else {
		log.Warn("No API keys configured, the API is open")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	router.Setup(engine, handlers, auth, m, logger.Named("http"))

	// No write timeout: /events streams for as long as the client stays
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			wg.Wait()
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}

	wg.Wait()
	log.Info("Server stopped gracefully")
	return nil
}

// Seeder is the part of service.Triage that seeds an empty archive.
type Seeder interface {
	State(ctx context.Context, id string) (models.State, error)
	Discover(ctx context.Context, id string) (service.Outcome, error)
	AddChannel(ctx context.Context, id string, dest service.Destination) (*models.Channel, error)
}

// seedChannel registers id when the archive has never seen it. The seed goes
// through the channel filters into the queue unless autoAccept is set, in
// which case it is accepted for crawling straight away.
func seedChannel(ctx context.Context, triage Seeder, id string, autoAccept bool) error {
	if id == "" {
		return nil
	}

	state, err := triage.State(ctx, id)
	if err != nil {
		return fmt.Errorf("check seed channel: %w", err)
	}
	if state != "" {
		logger.Log.Debug("Seed channel already known",
			zap.String("channelId", id),
			zap.String("state", string(state)),
		)
		return nil
	}

	if !autoAccept {
		outcome, err := triage.Discover(ctx, id)
		if err != nil {
			return fmt.Errorf("discover seed channel %s: %w", id, err)
		}
		logger.Log.Info("Seed channel discovered",
			zap.String("channelId", id),
			zap.String("outcome", string(outcome)),
		)
		return nil
	}

	ch, err := triage.AddChannel(ctx, id, service.DestinationAccept)
	if err != nil {
		return fmt.Errorf("add seed channel %s: %w", id, err)
	}

	logger.Log.Info("Seed channel accepted",
		zap.String("channelId", ch.ID),
		zap.String("author", ch.Data.Author),
		zap.String("state", string(ch.State)),
	)
	return nil
}
