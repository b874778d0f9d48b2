package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/metrics"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// RetryPolicy decides which fetch failures are retried. Everything not
// classified as permanent is retried after Backoff until it succeeds or the
// context ends.
type RetryPolicy struct {
	Backoff     time.Duration
	Unavailable []string
}

// IsPermanent reports whether err must not be retried.
func (p RetryPolicy) IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVideoUnavailable) ||
		errors.Is(err, ErrChannelUnavailable) ||
		errors.Is(err, ErrMaxVideosExceeded) {
		return true
	}

	msg := err.Error()
	for _, s := range p.Unavailable {
		if s != "" && strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func retryFetch[T any](ctx context.Context, p RetryPolicy, m *metrics.Metrics, op, id string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if p.IsPermanent(err) {
			return zero, err
		}

		m.Retry(op)
		logger.Log.Warn("Fetch failed, retrying",
			zap.String("op", op),
			zap.String("id", id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", p.Backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(p.Backoff):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
