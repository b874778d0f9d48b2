package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func (m *mockEnqueuer) Close() error {
	return m.Called().Error(0)
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) interface{} {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value()
		}
	}
	return nil
}

func TestClient_EnqueueDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("enqueues with video task id and queue", func(t *testing.T) {
		e := &mockEnqueuer{}
		e.On("EnqueueContext", ctx, mock.MatchedBy(func(task *asynq.Task) bool {
			p, err := UnmarshalDownloadVideoPayload(task.Payload())
			return err == nil && task.Type() == TypeDownloadVideo && p.VideoID == "v1" && p.ChannelID == "UC_a"
		}), mock.MatchedBy(func(opts []asynq.Option) bool {
			return optionValue(opts, asynq.TaskIDOpt) == "download:v1" && optionValue(opts, asynq.QueueOpt) == "downloads"
		})).Return(&asynq.TaskInfo{ID: "download:v1"}, nil)

		c := newClient(e, "downloads")
		require.NoError(t, c.EnqueueDownload(ctx, "v1", "UC_a"))
		e.AssertExpectations(t)
	})

	t.Run("already queued is not an error", func(t *testing.T) {
		e := &mockEnqueuer{}
		e.On("EnqueueContext", ctx, mock.Anything, mock.Anything).Return(nil, asynq.ErrTaskIDConflict)

		c := newClient(e, "downloads")
		assert.NoError(t, c.EnqueueDownload(ctx, "v1", "UC_a"))
	})

	t.Run("redis failure is returned", func(t *testing.T) {
		e := &mockEnqueuer{}
		e.On("EnqueueContext", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		c := newClient(e, "")
		assert.Error(t, c.EnqueueDownload(ctx, "v1", "UC_a"))
		assert.Equal(t, "default", c.queue)
	})

	t.Run("invalid payload never reaches redis", func(t *testing.T) {
		e := &mockEnqueuer{}
		c := newClient(e, "downloads")
		assert.Error(t, c.EnqueueDownload(ctx, "", "UC_a"))
		e.AssertNotCalled(t, "EnqueueContext", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestClient_Close(t *testing.T) {
	e := &mockEnqueuer{}
	e.On("Close").Return(nil)
	require.NoError(t, newClient(e, "downloads").Close())
	e.AssertExpectations(t)
}
