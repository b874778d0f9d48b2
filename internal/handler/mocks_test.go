package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	dbmodels "github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockTriage struct {
	mock.Mock
}

func (m *mockTriage) Lookup(ctx context.Context, id string) (*service.ChannelInfo, error) {
	args := m.Called(ctx, id)
	info, _ := args.Get(0).(*service.ChannelInfo)
	return info, args.Error(1)
}

func (m *mockTriage) MoveChannel(ctx context.Context, id string, dest service.Destination) error {
	return m.Called(ctx, id, dest).Error(0)
}

func (m *mockTriage) AddChannel(ctx context.Context, id string, dest service.Destination) (*dbmodels.Channel, error) {
	args := m.Called(ctx, id, dest)
	ch, _ := args.Get(0).(*dbmodels.Channel)
	return ch, args.Error(1)
}

func (m *mockTriage) Locate(ctx context.Context, id string) (*dbmodels.Channel, error) {
	args := m.Called(ctx, id)
	ch, _ := args.Get(0).(*dbmodels.Channel)
	return ch, args.Error(1)
}

func (m *mockTriage) State(ctx context.Context, id string) (dbmodels.State, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(dbmodels.State), args.Error(1)
}

func (m *mockTriage) Fix(ctx context.Context) (*service.FixReport, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*service.FixReport)
	return r, args.Error(1)
}

func (m *mockTriage) RefilterAll(ctx context.Context) (*service.RefilterReport, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*service.RefilterReport)
	return r, args.Error(1)
}

type mockBacklog struct {
	mock.Mock
}

func (m *mockBacklog) Next(ctx context.Context, skip []string) (*dbmodels.Channel, error) {
	args := m.Called(ctx, skip)
	ch, _ := args.Get(0).(*dbmodels.Channel)
	return ch, args.Error(1)
}

func (m *mockBacklog) Len() int {
	return m.Called().Int(0)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveChannelID(ctx context.Context, input string) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) RecrawlChannel(ctx context.Context, ch *dbmodels.Channel) (bool, error) {
	args := m.Called(ctx, ch)
	return args.Bool(0), args.Error(1)
}

type mockGraph struct {
	mock.Mock
}

func (m *mockGraph) Connections(ctx context.Context) (*service.Connections, error) {
	args := m.Called(ctx)
	c, _ := args.Get(0).(*service.Connections)
	return c, args.Error(1)
}

type mockChannels struct {
	mock.Mock
}

func (m *mockChannels) GetStates(ctx context.Context, ids []string) (map[string]dbmodels.State, error) {
	args := m.Called(ctx, ids)
	s, _ := args.Get(0).(map[string]dbmodels.State)
	return s, args.Error(1)
}

func (m *mockChannels) ListIDsByState(ctx context.Context, state dbmodels.State) ([]string, error) {
	args := m.Called(ctx, state)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockChannels) ListByState(ctx context.Context, state dbmodels.State, limit, offset int) ([]*dbmodels.Channel, error) {
	args := m.Called(ctx, state, limit, offset)
	chs, _ := args.Get(0).([]*dbmodels.Channel)
	return chs, args.Error(1)
}

func (m *mockChannels) CountByState(ctx context.Context) (map[dbmodels.State]int, error) {
	args := m.Called(ctx)
	c, _ := args.Get(0).(map[dbmodels.State]int)
	return c, args.Error(1)
}

type mockVideos struct {
	mock.Mock
}

func (m *mockVideos) Get(ctx context.Context, id string) (*dbmodels.Video, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*dbmodels.Video)
	return v, args.Error(1)
}

func (m *mockVideos) ListByChannel(ctx context.Context, channelID string) ([]*dbmodels.Video, error) {
	args := m.Called(ctx, channelID)
	v, _ := args.Get(0).([]*dbmodels.Video)
	return v, args.Error(1)
}

func (m *mockVideos) ListIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *mockVideos) Counts(ctx context.Context) (*dbmodels.VideoCounts, error) {
	args := m.Called(ctx)
	c, _ := args.Get(0).(*dbmodels.VideoCounts)
	return c, args.Error(1)
}

// serve registers h at pattern and performs one request against it.
func serve(method, pattern, target, body string, h gin.HandlerFunc) *httptest.ResponseRecorder {
	r := gin.New()
	r.Handle(method, pattern, h)

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}
