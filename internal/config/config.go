// Package config provides configuration management for the archiver.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Logging  LoggingConfig
	YouTube  YouTubeConfig
	Filters  FilterConfig
	Crawl    CrawlConfig
	Backlog  BacklogConfig
	Recrawl  RecrawlConfig
	Download DownloadConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	APIKeys         []string
}

// DatabaseConfig contains database connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DatabaseConfig struct {
	Host           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	Port           int
	MaxConnections int
	MinConnections int
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
	MigrationsPath string
}

// URL renders the connection settings as a postgres URL for golang-migrate.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig configures the optional Redis backend used for task queues
// and distributed crawl leases. An empty URL disables both.
type RedisConfig struct {
	URL string
}

// RabbitMQConfig contains RabbitMQ connection and event exchange configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RabbitMQConfig struct {
	Enabled    bool
	Host       string
	User       string
	Password   string
	Exchange   string
	Queue      string
	RoutingKey string
	Port       int
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string
	File  string
}

// YouTubeConfig configures the Data API client and its daily quota guard.
type YouTubeConfig struct {
	APIKey           string
	DailyQuota       int
	QuotaThreshold   int
	CommentPageLimit int
}

// FilterConfig mirrors filter.Config so it can be populated by viper.
type FilterConfig struct {
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

// CrawlConfig controls the crawl worker.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type CrawlConfig struct {
	Enabled                bool
	SeedChannel            string
	AutoAcceptSeed         bool
	Backoff                time.Duration
	PollInterval           time.Duration
	LeaseTTL               time.Duration
	UnavailableMessages    []string
	RetrySkippedCommenters bool
}

// BacklogConfig controls the in-memory priority queue of queued channels.
type BacklogConfig struct {
	MinRelations    int
	MinVideos       int
	RebuildInterval time.Duration
}

// RecrawlConfig controls how often parsed channels are revisited. The
// Lookup fields bound the refresh an API lookup of a parsed channel runs.
type RecrawlConfig struct {
	Enabled       bool
	Gap           time.Duration
	Interval      time.Duration
	BatchSize     int
	LookupMinAge  time.Duration
	LookupTimeout time.Duration
}

// DownloadConfig controls hand-off of newly recorded videos to the
// download workers.
type DownloadConfig struct {
	Enabled        bool
	Queue          string
	CompletedQueue string
	Concurrency    int
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the workers cannot run with.
func (c *Config) Validate() error {
	if c.Filters.MinSubscribers > c.Filters.MaxSubscribers {
		return fmt.Errorf("filters: minsubscribers %d exceeds maxsubscribers %d",
			c.Filters.MinSubscribers, c.Filters.MaxSubscribers)
	}
	if c.Filters.MinVideoLength > c.Filters.MaxVideoLength {
		return fmt.Errorf("filters: minvideolength %d exceeds maxvideolength %d",
			c.Filters.MinVideoLength, c.Filters.MaxVideoLength)
	}
	if c.Crawl.Backoff <= 0 {
		return fmt.Errorf("crawl: backoff must be positive")
	}
	if c.Crawl.PollInterval <= 0 {
		return fmt.Errorf("crawl: pollinterval must be positive")
	}
	if c.Recrawl.Interval <= 0 || c.Recrawl.Gap <= 0 {
		return fmt.Errorf("recrawl: interval and gap must be positive")
	}
	if c.Backlog.RebuildInterval <= 0 {
		return fmt.Errorf("backlog: rebuildinterval must be positive")
	}
	return nil
}

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdowntimeout", 30*time.Second)
	viper.SetDefault("server.apikeys", []string{})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "archiver")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxconnections", 10)
	viper.SetDefault("database.minconnections", 2)
	viper.SetDefault("database.maxidletime", 10*time.Minute)
	viper.SetDefault("database.maxlifetime", 1*time.Hour)
	viper.SetDefault("database.migrationspath", "./migrations")

	// Redis
	viper.SetDefault("redis.url", "")

	// RabbitMQ
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.exchange", "archive.events")
	viper.SetDefault("rabbitmq.queue", "archive.events.all")
	viper.SetDefault("rabbitmq.routingkey", "archive.#")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.file", "")

	// YouTube
	viper.SetDefault("youtube.apikey", "")
	viper.SetDefault("youtube.dailyquota", 10000)
	viper.SetDefault("youtube.quotathreshold", 90)
	viper.SetDefault("youtube.commentpagelimit", 10)

	// Filters
	viper.SetDefault("filters.minsubscribers", 0)
	viper.SetDefault("filters.maxsubscribers", 100000)
	viper.SetDefault("filters.maxvideos", 1000)
	viper.SetDefault("filters.blocklivestreams", true)
	viper.SetDefault("filters.blocknovideos", false)
	viper.SetDefault("filters.minvideolength", 0)
	viper.SetDefault("filters.maxvideolength", 300)
	viper.SetDefault("filters.maxsubscribersforcomments", 20000)
	viper.SetDefault("filters.maxcomments", 500)
	viper.SetDefault("filters.minchannelscommentedon", 1)

	// Crawl
	viper.SetDefault("crawl.enabled", true)
	viper.SetDefault("crawl.seedchannel", "")
	viper.SetDefault("crawl.autoacceptseed", false)
	viper.SetDefault("crawl.backoff", 5*time.Second)
	viper.SetDefault("crawl.pollinterval", 30*time.Second)
	viper.SetDefault("crawl.leasettl", 10*time.Minute)
	viper.SetDefault("crawl.unavailablemessages", []string{
		"Video unavailable",
		"This video is private",
		"This video has been removed",
		"account associated with this video has been terminated",
	})
	viper.SetDefault("crawl.retryskippedcommenters", false)

	// Backlog
	viper.SetDefault("backlog.minrelations", 2)
	viper.SetDefault("backlog.minvideos", 0)
	viper.SetDefault("backlog.rebuildinterval", 5*time.Minute)

	// Recrawl
	viper.SetDefault("recrawl.enabled", true)
	viper.SetDefault("recrawl.gap", 6*time.Hour)
	viper.SetDefault("recrawl.interval", 1*time.Hour)
	viper.SetDefault("recrawl.batchsize", 100)
	viper.SetDefault("recrawl.lookupminage", 1*time.Hour)
	viper.SetDefault("recrawl.lookuptimeout", 20*time.Second)

	// Download
	viper.SetDefault("download.enabled", false)
	viper.SetDefault("download.queue", "downloads")
	viper.SetDefault("download.completedqueue", "downloads_completed")
	viper.SetDefault("download.concurrency", 4)
}
