package queue

import (
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// redisOptions reads redis.url. Anything go-redis' ParseURL accepts works
// (redis://, rediss:// with TLS, unix://, query-string timeouts). A bare
// host:port is accepted for older deployments.
func redisOptions(redisURL string) (*redis.Options, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is empty")
	}
	if !strings.Contains(redisURL, "://") {
		return &redis.Options{Network: "tcp", Addr: redisURL}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return opts, nil
}

// redisConnOpt converts redis.url into the connection asynq uses for the
// download queues.
func redisConnOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opts, err := redisOptions(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Network:   opts.Network,
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}

// NewRedisClient connects the crawl leases and the readiness check to the
// same Redis the download queues use.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redisOptions(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
