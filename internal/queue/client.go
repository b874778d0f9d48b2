package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// enqueuer is the part of asynq.Client the queue client uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client hands newly recorded videos to the download workers.
type Client struct {
	asynqClient enqueuer
	queue       string
}

// NewClient creates a new queue client
func NewClient(redisURL, queueName string) (*Client, error) {
	// Parse Redis URL to extract connection details (host, password, db, TLS)
	redisOpt, err := redisConnOpt(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return newClient(asynq.NewClient(redisOpt), queueName), nil
}

func newClient(e enqueuer, queueName string) *Client {
	if queueName == "" {
		queueName = "default"
	}
	return &Client{asynqClient: e, queue: queueName}
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.asynqClient.Close()
}

// EnqueueDownload enqueues a download task. The task id is derived from the
// video id, so a video already waiting in the queue is not enqueued twice.
func (c *Client) EnqueueDownload(ctx context.Context, videoID, channelID string) error {
	payload, err := NewDownloadVideoTask(videoID, channelID, map[string]interface{}{
		"enqueued_at": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to create task payload: %w", err)
	}

	payloadBytes, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeDownloadVideo, payloadBytes)

	info, err := c.asynqClient.EnqueueContext(ctx, task,
		asynq.TaskID(TaskID(videoID)),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Queue(c.queue),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logger.Log.Debug("Download already queued", zap.String("videoId", videoID))
			return nil
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	logger.Log.Debug("Enqueued video download",
		zap.String("videoId", videoID),
		zap.String("channelId", channelID),
		zap.String("taskId", info.ID),
	)

	return nil
}

// TaskID is the asynq task id used for a video's download.
func TaskID(videoID string) string {
	return "download:" + videoID
}
