package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/filter"
	"github.com/ytarchiver/channel-archiver/internal/lease"
)

// parsedChannel crawls a channel with the given videos to the parsed state.
func parsedChannel(t *testing.T, p *pipeline, id string, subs int64, videoIDs ...string) {
	t.Helper()

	list := make([]models.BasicVideo, 0, len(videoIDs))
	for _, v := range videoIDs {
		list = append(list, basic(v, "title "+v, 60))
		p.videos.add(v, id, "title "+v)
	}
	p.channels.add(id, subs, list...)

	acceptChannel(t, p, id, DestinationAccept)
	_, err := p.crawler.RunPass(context.Background())
	require.NoError(t, err)

	parsed, _ := p.triage.IsParsed(context.Background(), id)
	require.True(t, parsed)
}

func TestRecrawlDue_ExploresOnlyNewVideos(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, filter.Default(), false)
	parsedChannel(t, p, "UC_P", 10, "old1", "old2")

	before, err := p.triage.Locate(ctx, "UC_P")
	require.NoError(t, err)
	firstUpdate := *before.UpdateDate

	// a renamed old video and two new uploads
	p.channels.add("UC_P", 10,
		basic("old1", "renamed", 60),
		basic("old2", "title old2", 60),
		basic("new1", "title new1", 60),
		basic("new2", "title new2", 60),
	)
	p.videos.add("new1", "UC_P", "title new1")
	p.videos.add("new2", "UC_P", "title new2")

	p.recrawler.now = func() time.Time { return firstUpdate.Add(7 * time.Hour) }

	n, err := p.recrawler.RecrawlDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := p.triage.Locate(ctx, "UC_P")
	require.NoError(t, err)
	assert.Len(t, after.Videos, len(before.Videos)+2)
	assert.Equal(t, "new1", after.Videos[2].VideoID)
	assert.Equal(t, "new2", after.Videos[3].VideoID)
	assert.True(t, after.UpdateDate.After(firstUpdate))

	assert.Equal(t, 1, p.videos.callCount("old1"), "old videos are not fetched again")
	assert.Equal(t, 1, p.videos.callCount("old2"))
	assert.Equal(t, 1, p.videos.callCount("new1"))
	assert.Equal(t, 1, p.videos.callCount("new2"))

	old1, err := p.store.Videos.Get(ctx, "old1")
	require.NoError(t, err)
	assert.Equal(t, []string{"title old1", "renamed"}, old1.Titles)

	old2, err := p.store.Videos.Get(ctx, "old2")
	require.NoError(t, err)
	assert.Equal(t, []string{"title old2"}, old2.Titles, "unchanged title does not grow the history")
}

func TestRecrawlDue_RespectsGap(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, filter.Default(), false)
	parsedChannel(t, p, "UC_P", 10, "v1")

	ch, _ := p.triage.Locate(ctx, "UC_P")
	p.recrawler.now = func() time.Time { return ch.UpdateDate.Add(time.Hour) }

	n, err := p.recrawler.RecrawlDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, p.channels.videosCalls["UC_P"])
}

func TestRecrawlChannel_UnavailableIsSkipped(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, filter.Default(), false)
	parsedChannel(t, p, "UC_P", 10, "v1")

	ch, _ := p.triage.Locate(ctx, "UC_P")
	attempt := ch.UpdateDate.Add(7 * time.Hour)
	p.recrawler.now = func() time.Time { return attempt }

	p.channels.mu.Lock()
	p.channels.channels["UC_P"].AlertMessage = "This channel does not exist."
	p.channels.mu.Unlock()

	ok, err := p.recrawler.RecrawlChannel(ctx, ch)
	require.NoError(t, err)
	assert.False(t, ok)

	after, _ := p.triage.Locate(ctx, "UC_P")
	assert.Len(t, after.Videos, 1)
	assert.Equal(t, attempt, *after.UpdateDate, "the attempt moves the channel to the back of the re-crawl order")
}

func TestRecrawlDue_UnavailableChannelsDoNotStarveOthers(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, filter.Default(), false)
	p.recrawler.cfg.BatchSize = 1

	parsedChannel(t, p, "UC_GONE", 10, "g1")
	parsedChannel(t, p, "UC_LIVE", 10, "l1")

	// the dead channel sorts first
	gone, _ := p.triage.Locate(ctx, "UC_GONE")
	live, _ := p.triage.Locate(ctx, "UC_LIVE")
	require.False(t, live.UpdateDate.Before(*gone.UpdateDate))

	p.channels.mu.Lock()
	p.channels.channels["UC_GONE"].AlertMessage = "This account has been terminated."
	p.channels.mu.Unlock()

	p.channels.add("UC_LIVE", 10, basic("l1", "title l1", 60), basic("l2", "title l2", 60))
	p.videos.add("l2", "UC_LIVE", "title l2")

	p.recrawler.now = func() time.Time { return live.UpdateDate.Add(7 * time.Hour) }

	n, err := p.recrawler.RecrawlDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := p.triage.Locate(ctx, "UC_LIVE")
	require.NoError(t, err)
	assert.Len(t, after.Videos, 2)
	assert.Equal(t, 1, p.videos.callCount("l2"))

	// both channels are now inside the gap
	n, err = p.recrawler.RecrawlDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecrawlDue_SkipsLeasedChannels(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, filter.Default(), false)
	p.recrawler.cfg.BatchSize = 1

	parsedChannel(t, p, "UC_BUSY", 10, "b1")
	parsedChannel(t, p, "UC_FREE", 10, "f1")

	release, ok, err := p.locker.TryAcquire(ctx, lease.ChannelKey("UC_BUSY"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	free, _ := p.triage.Locate(ctx, "UC_FREE")
	p.recrawler.now = func() time.Time { return free.UpdateDate.Add(7 * time.Hour) }

	n, err := p.recrawler.RecrawlDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, p.channels.videosCalls["UC_FREE"])
	assert.Equal(t, 1, p.channels.videosCalls["UC_BUSY"])
}

func TestRecrawlChannel_DontDownloadSkipsExploration(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, filter.Default(), false)
	p.channels.add("UC_N", 10, basic("v1", "t", 60))
	acceptChannel(t, p, "UC_N", DestinationAcceptNoDownload)
	_, err := p.crawler.RunPass(ctx)
	require.NoError(t, err)

	p.channels.add("UC_N", 10, basic("v1", "t", 60), basic("v2", "t", 60))
	p.videos.add("v2", "UC_N", "t")

	ch, _ := p.triage.Locate(ctx, "UC_N")
	ok, err := p.recrawler.RecrawlChannel(ctx, ch)
	require.NoError(t, err)
	assert.True(t, ok)

	after, _ := p.triage.Locate(ctx, "UC_N")
	assert.Len(t, after.Videos, 2)
	assert.Equal(t, 0, p.videos.totalCalls())
}

func TestRecrawl_SkippedCommenters(t *testing.T) {
	tests := []struct {
		name          string
		retrySkipped  bool
		wantParsed    bool
		wantDiscovery bool
		wantCalls     int
	}{
		{name: "foreclosed by default", retrySkipped: false, wantParsed: false, wantDiscovery: false, wantCalls: 1},
		{name: "retried when enabled", retrySkipped: true, wantParsed: true, wantDiscovery: true, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := filter.Default()
			p := newPipeline(t, cfg, tt.retrySkipped)

			p.channels.add("UC_C", 30000, basic("C1", "t", 60))
			p.channels.add("UC_D", 10)
			p.videos.add("C1", "UC_C", "t", "UC_D")
			acceptChannel(t, p, "UC_C", DestinationAccept)
			_, err := p.crawler.RunPass(ctx)
			require.NoError(t, err)

			v, _ := p.store.Videos.Get(ctx, "C1")
			require.False(t, v.ParsedCommenters)

			// channel shrank below the comment threshold
			p.channels.add("UC_C", 5000, basic("C1", "t", 60))

			ch, _ := p.triage.Locate(ctx, "UC_C")
			ok, err := p.recrawler.RecrawlChannel(ctx, ch)
			require.NoError(t, err)
			require.True(t, ok)

			v, _ = p.store.Videos.Get(ctx, "C1")
			assert.Equal(t, tt.wantParsed, v.ParsedCommenters)
			assert.Equal(t, tt.wantCalls, p.videos.callCount("C1"))

			state, _ := p.triage.State(ctx, "UC_D")
			assert.Equal(t, tt.wantDiscovery, state != "")
		})
	}
}

func TestRecrawler_Run(t *testing.T) {
	p := newPipeline(t, filter.Default(), false)
	parsedChannel(t, p, "UC_P", 10, "v1")
	p.recrawler.cfg.Gap = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.recrawler.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		p.channels.mu.Lock()
		defer p.channels.mu.Unlock()
		return p.channels.videosCalls["UC_P"] >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
