package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ytarchiver/channel-archiver/internal/config"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
)

func TestFilterChannel(t *testing.T) {
	cfg := Default()
	cfg.MinSubscribers = 10

	tests := []struct {
		name string
		data *models.ChannelData
		want bool
	}{
		{"nil data", nil, true},
		{"below minimum", &models.ChannelData{SubscriberCount: 9}, true},
		{"at minimum", &models.ChannelData{SubscriberCount: 10}, false},
		{"at maximum", &models.ChannelData{SubscriberCount: 100000}, false},
		{"above maximum", &models.ChannelData{SubscriberCount: 100001}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterChannel(cfg, tt.data))
		})
	}
}

func TestFilterChannelVideos(t *testing.T) {
	videos := func(n int) []models.BasicVideo {
		return make([]models.BasicVideo, n)
	}

	tests := []struct {
		name          string
		blockNoVideos bool
		videos        []models.BasicVideo
		want          bool
	}{
		{"empty allowed", false, nil, false},
		{"empty blocked", true, nil, true},
		{"at limit", false, videos(1000), false},
		{"over limit", false, videos(1001), true},
		{"some videos with empty blocked", true, videos(3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.BlockNoVideos = tt.blockNoVideos
			assert.Equal(t, tt.want, FilterChannelVideos(cfg, tt.videos))
		})
	}
}

func TestFilterVideoBasic(t *testing.T) {
	tests := []struct {
		name             string
		blockLivestreams bool
		video            models.BasicVideo
		want             bool
	}{
		{"short video", true, models.BasicVideo{LengthSeconds: 120}, false},
		{"at max length", true, models.BasicVideo{LengthSeconds: 300}, false},
		{"too long", true, models.BasicVideo{LengthSeconds: 301}, true},
		{"live blocked", true, models.BasicVideo{LiveNow: true, LengthSeconds: 10}, true},
		{"live allowed", false, models.BasicVideo{LiveNow: true, LengthSeconds: 10}, false},
		{"zero length", true, models.BasicVideo{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.BlockLivestreams = tt.blockLivestreams
			assert.Equal(t, tt.want, FilterVideoBasic(cfg, &tt.video))
		})
	}
}

func TestFilterComments(t *testing.T) {
	commenters := func(n int) []string {
		return make([]string, n)
	}

	tests := []struct {
		name       string
		data       *models.ChannelData
		commenters []string
		want       bool
	}{
		{"small channel few comments", &models.ChannelData{SubscriberCount: 500}, commenters(3), false},
		{"large channel", &models.ChannelData{SubscriberCount: 20001}, commenters(3), true},
		{"at subscriber limit", &models.ChannelData{SubscriberCount: 20000}, commenters(3), false},
		{"too many commenters", &models.ChannelData{SubscriberCount: 500}, commenters(501), true},
		{"at commenter limit", &models.ChannelData{SubscriberCount: 500}, commenters(500), false},
		{"nil channel data", nil, commenters(1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterComments(Default(), tt.data, tt.commenters))
		})
	}
}

func TestFilterChannelComments(t *testing.T) {
	cfg := Default()
	assert.True(t, FilterChannelComments(cfg, 0))
	assert.False(t, FilterChannelComments(cfg, 1))
}

func TestFiltersAreDeterministic(t *testing.T) {
	cfg := Default()
	data := &models.ChannelData{SubscriberCount: 50000}
	video := &models.BasicVideo{LengthSeconds: 200}

	for i := 0; i < 10; i++ {
		assert.False(t, FilterChannel(cfg, data))
		assert.False(t, FilterVideoBasic(cfg, video))
		assert.True(t, FilterComments(cfg, data, nil))
	}
}

func TestFromSettings(t *testing.T) {
	got := FromSettings(config.FilterConfig{MaxSubscribers: 10, MaxVideos: 5, BlockLivestreams: true})

	assert.Equal(t, int64(10), got.MaxSubscribers)
	assert.Equal(t, 5, got.MaxVideos)
	assert.True(t, got.BlockLivestreams)
}
