package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_IsPermanent(t *testing.T) {
	p := RetryPolicy{Unavailable: []string{"Video unavailable", "This video is private", ""}}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "network", err: errTransient, want: false},
		{name: "private substring", err: errors.New("parse: This video is private."), want: true},
		{name: "unavailable substring", err: errors.New("Video unavailable"), want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("fetch: %w", ErrVideoUnavailable), want: true},
		{name: "channel sentinel", err: ErrChannelUnavailable, want: true},
		{name: "max videos", err: ErrMaxVideosExceeded, want: true},
		{name: "empty pattern never matches", err: errors.New("anything"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsPermanent(tt.err))
		})
	}
}

func TestRetryFetch(t *testing.T) {
	p := RetryPolicy{Backoff: time.Millisecond, Unavailable: []string{"gone"}}

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		got, err := retryFetch(context.Background(), p, nil, "op", "id", func(context.Context) (int, error) {
			calls++
			if calls < 4 {
				return 0, errTransient
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 4, calls)
	})

	t.Run("permanent error returns at once", func(t *testing.T) {
		calls := 0
		_, err := retryFetch(context.Background(), p, nil, "op", "id", func(context.Context) (int, error) {
			calls++
			return 0, errors.New("video gone")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := retryFetch(ctx, p, nil, "op", "id", func(context.Context) (int, error) {
			return 0, errTransient
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestValidationError(t *testing.T) {
	err := fmt.Errorf("move: %w", &ValidationError{Field: "destination", Message: "unknown"})
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "destination: unknown")
	assert.False(t, IsValidationError(ErrQueueEmpty))
}
