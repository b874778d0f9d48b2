package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ytarchiver/channel-archiver/internal/service"
)

func testConnections() *service.Connections {
	return &service.Connections{
		Relations: map[string][]string{
			chanA: {"UCfan1", "UCfan2"},
			chanB: {"UCfan1"},
		},
		ChannelNames: map[string]string{"UCfan1": "Fan One"},
	}
}

func TestConnectionsHandler_Connections(t *testing.T) {
	graph := &mockGraph{}
	graph.On("Connections", mock.Anything).Return(testConnections(), nil)

	rec := serve(http.MethodGet, "/connections", "/connections", "", NewConnectionsHandler(graph).Connections)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[service.Connections](t, rec)
	assert.Equal(t, []string{"UCfan1", "UCfan2"}, resp.Relations[chanA])
	assert.Equal(t, "Fan One", resp.ChannelNames["UCfan1"])
}

func TestConnectionsHandler_MostCommented(t *testing.T) {
	graph := &mockGraph{}
	graph.On("Connections", mock.Anything).Return(testConnections(), nil)
	h := NewConnectionsHandler(graph)

	rec := serve(http.MethodGet, "/most", "/most", "", h.MostCommented)
	require.Equal(t, http.StatusOK, rec.Code)
	ranks := decode[[]service.CommenterRank](t, rec)
	require.Len(t, ranks, 2)
	assert.Equal(t, service.CommenterRank{ID: "UCfan1", Name: "Fan One", Channels: 2}, ranks[0])

	rec = serve(http.MethodGet, "/most", "/most?limit=1", "", h.MostCommented)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]service.CommenterRank](t, rec), 1)
}
