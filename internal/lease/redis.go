package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

const keyPrefix = "archiver:lease:"

// Only the token that set the key may delete or extend it.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Redis is a Locker shared by every process pointed at the same Redis. A
// held lease is extended every ttl/3 until released, so a crashed holder
// loses it after at most ttl.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// TryAcquire implements Locker.
func (r *Redis) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lease ttl must be positive")
	}

	token := uuid.NewString()
	fullKey := keyPrefix + key

	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	keepCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go r.keepAlive(keepCtx, fullKey, token, ttl, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			<-done

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
				logger.Log.Warn("Failed to release lease",
					zap.String("key", key),
					zap.Error(err),
				)
			}
		})
	}

	return release, true, nil
}

func (r *Redis) keepAlive(ctx context.Context, key, token string, ttl time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := extendScript.Run(ctx, r.client, []string{key}, token, ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warn("Failed to extend lease", zap.String("key", key), zap.Error(err))
				continue
			}
			if n == 0 {
				logger.Log.Warn("Lease lost before release", zap.String("key", key))
				return
			}
		}
	}
}
