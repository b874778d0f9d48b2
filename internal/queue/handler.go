package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// DownloadMarker records a finished download.
type DownloadMarker interface {
	MarkDownloaded(ctx context.Context, videoID, channelID string) error
}

// CompletionHandler handles download:completed tasks
type CompletionHandler struct {
	marker DownloadMarker
}

// NewCompletionHandler creates a new completion task handler
func NewCompletionHandler(marker DownloadMarker) *CompletionHandler {
	return &CompletionHandler{marker: marker}
}

// ProcessTask implements asynq.Handler. Malformed payloads and videos the
// archive does not know are not retried.
func (h *CompletionHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := UnmarshalDownloadCompletedPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := h.marker.MarkDownloaded(ctx, payload.VideoID, payload.ChannelID); err != nil {
		if db.IsNotFound(err) {
			logger.Log.Warn("Completion for unknown video",
				zap.String("videoId", payload.VideoID),
				zap.String("channelId", payload.ChannelID),
			)
			return fmt.Errorf("video %s is not recorded: %w", payload.VideoID, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to mark video downloaded: %w", err)
	}

	logger.Log.Info("Video downloaded",
		zap.String("videoId", payload.VideoID),
		zap.String("channelId", payload.ChannelID),
		zap.String("path", payload.Path),
	)
	return nil
}

// Server wraps asynq server for processing tasks
type Server struct {
	asynqServer *asynq.Server
	mux         *asynq.ServeMux
}

// NewServer creates a server consuming completions from queueName.
func NewServer(redisURL string, concurrency int, queueName string, handler *CompletionHandler) (*Server, error) {
	// Parse Redis URL to extract connection details (host, password, db, TLS)
	redisOpt, err := redisConnOpt(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Log.Error("Task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
			Logger: logger.Log.Named("asynq").Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TypeDownloadCompleted, handler)

	return &Server{
		asynqServer: srv,
		mux:         mux,
	}, nil
}

// Start starts the server
func (s *Server) Start() error {
	logger.Log.Info("Starting download completion consumer")
	return s.asynqServer.Start(s.mux)
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	logger.Log.Info("Shutting down download completion consumer")
	s.asynqServer.Shutdown()
}
