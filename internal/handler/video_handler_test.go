package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ytarchiver/channel-archiver/internal/db"
	dbmodels "github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/models"
	"github.com/ytarchiver/channel-archiver/internal/validation"
)

const videoID = "dQw4w9WgXcQ"

func TestVideoHandler_Get(t *testing.T) {
	video := dbmodels.NewVideo(videoID, chanA, "Title", dbmodels.VideoData{Title: "Title"}, true)

	tests := []struct {
		name          string
		target        string
		setup         func(v *mockVideos, tr *mockTriage)
		wantStatus    int
		wantChannel   bool
		wantBasicInfo bool
	}{
		{
			name:   "video with channel entry",
			target: "/videos/" + videoID,
			setup: func(v *mockVideos, tr *mockTriage) {
				v.On("Get", mock.Anything, videoID).Return(video, nil)
				tr.On("Locate", mock.Anything, chanA).Return(dbmodels.NewChannel(chanA, dbmodels.StateParsed,
					dbmodels.ChannelData{}, []dbmodels.BasicVideo{{VideoID: videoID, Title: "Title"}}), nil)
			},
			wantStatus:    http.StatusOK,
			wantChannel:   true,
			wantBasicInfo: true,
		},
		{
			name:   "channel deleted since",
			target: "/videos/" + videoID,
			setup: func(v *mockVideos, tr *mockTriage) {
				v.On("Get", mock.Anything, videoID).Return(video, nil)
				tr.On("Locate", mock.Anything, chanA).Return(nil, db.ErrNotFound)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:   "unknown video",
			target: "/videos/" + videoID,
			setup: func(v *mockVideos, tr *mockTriage) {
				v.On("Get", mock.Anything, videoID).Return(nil, db.ErrNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed id",
			target:     "/videos/short",
			setup:      func(v *mockVideos, tr *mockTriage) {},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			videos, triage := &mockVideos{}, &mockTriage{}
			tt.setup(videos, triage)
			h := NewVideoHandler(videos, triage, validation.New(true))

			rec := serve(http.MethodGet, "/videos/:id", tt.target, "", h.Get)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[models.VideoInfoResponse](t, rec)
			assert.Equal(t, videoID, resp.Video.ID)
			assert.Equal(t, tt.wantChannel, resp.Channel != nil)
			assert.Equal(t, tt.wantBasicInfo, resp.BasicVideo != nil)
		})
	}
}

func TestVideoHandler_IDs(t *testing.T) {
	videos := &mockVideos{}
	videos.On("ListIDs", mock.Anything).Return([]string{videoID}, nil)
	h := NewVideoHandler(videos, &mockTriage{}, validation.New(true))

	rec := serve(http.MethodGet, "/videos/ids", "/videos/ids", "", h.IDs)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{videoID}, decode[[]string](t, rec))
}
