package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/db/repository"
	"github.com/ytarchiver/channel-archiver/internal/events"
	"github.com/ytarchiver/channel-archiver/internal/filter"
	"github.com/ytarchiver/channel-archiver/internal/lease"
)

// memStore is an in-memory stand-in for the Postgres repositories with the
// same conditional-update semantics.
type memStore struct {
	mu        sync.Mutex
	seq       int
	channels  map[string]*models.Channel
	order     map[string]int
	relations map[string][]string
	videos    map[string]*models.Video
	videoSeq  map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		channels:  make(map[string]*models.Channel),
		order:     make(map[string]int),
		relations: make(map[string][]string),
		videos:    make(map[string]*models.Video),
		videoSeq:  make(map[string]int),
	}
}

func (m *memStore) Store() Store {
	return Store{
		Channels:  memChannels{m},
		Relations: memRelations{m},
		Videos:    memVideos{m},
	}
}

func cloneChannel(c *models.Channel) *models.Channel {
	out := *c
	out.Videos = append([]models.BasicVideo{}, c.Videos...)
	out.Relations = append([]string{}, c.Relations...)
	return &out
}

func cloneVideo(v *models.Video) *models.Video {
	out := *v
	out.Titles = append([]string{}, v.Titles...)
	return &out
}

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, db.ErrNotFound)
}

// ids returns channel ids in insertion order.
func (m *memStore) ids() []string {
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.order[ids[i]] < m.order[ids[j]] })
	return ids
}

type memChannels struct{ m *memStore }

func (r memChannels) Insert(_ context.Context, ch *models.Channel) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.channels[ch.ID]; ok {
		return fmt.Errorf("insert channel: %w", db.ErrDuplicateKey)
	}
	r.m.seq++
	r.m.order[ch.ID] = r.m.seq
	r.m.channels[ch.ID] = cloneChannel(ch)
	return nil
}

func (r memChannels) Get(_ context.Context, id string) (*models.Channel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ch, ok := r.m.channels[id]
	if !ok {
		return nil, notFound("get channel")
	}
	out := cloneChannel(ch)
	out.Relations = append([]string{}, r.m.relations[id]...)
	return out, nil
}

func (r memChannels) GetState(_ context.Context, id string) (models.State, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ch, ok := r.m.channels[id]
	if !ok {
		return "", notFound("get channel state")
	}
	return ch.State, nil
}

func (r memChannels) GetStates(_ context.Context, ids []string) (map[string]models.State, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]models.State)
	for _, id := range ids {
		if ch, ok := r.m.channels[id]; ok {
			out[id] = ch.State
		}
	}
	return out, nil
}

func (r memChannels) Move(_ context.Context, id string, from, to models.State, dontDownload *bool) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ch, ok := r.m.channels[id]
	if !ok || ch.State != from {
		return notFound("move channel")
	}
	ch.State = to
	if dontDownload != nil {
		ch.DontDownload = *dontDownload
	}
	return nil
}

func (r memChannels) Replace(_ context.Context, channel *models.Channel, from models.State) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ch, ok := r.m.channels[channel.ID]
	if !ok || ch.State != from {
		return notFound("replace channel")
	}
	ch.State = channel.State
	ch.Data = channel.Data
	ch.Videos = append([]models.BasicVideo{}, channel.Videos...)
	ch.DontDownload = channel.DontDownload
	return nil
}

func (r memChannels) MarkParsed(_ context.Context, id string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ch, ok := r.m.channels[id]
	if !ok || ch.State != models.StateAccepted {
		return notFound("mark channel parsed")
	}
	ch.State = models.StateParsed
	ch.UpdateDate = &at
	return nil
}

func (r memChannels) UpdateContent(_ context.Context, id string, state models.State, data models.ChannelData, videos []models.BasicVideo) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ch, ok := r.m.channels[id]
	if !ok || ch.State != state {
		return notFound("update channel content")
	}
	ch.Data = data
	ch.Videos = append([]models.BasicVideo{}, videos...)
	return nil
}

func (r memChannels) TouchUpdateDate(_ context.Context, id string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ch, ok := r.m.channels[id]
	if !ok || ch.State != models.StateParsed {
		return notFound("touch channel update date")
	}
	ch.UpdateDate = &at
	return nil
}

func (r memChannels) SetVideoDownloaded(_ context.Context, id, videoID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ch, ok := r.m.channels[id]
	if !ok {
		return notFound("set channel video downloaded")
	}
	for i := range ch.Videos {
		if ch.Videos[i].VideoID == videoID {
			ch.Videos[i].Downloaded = true
		}
	}
	return nil
}

func (r memChannels) ListIDsByState(_ context.Context, state models.State) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []string
	for _, id := range r.m.ids() {
		if r.m.channels[id].State == state {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r memChannels) ListByState(_ context.Context, state models.State, limit, offset int) ([]*models.Channel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []*models.Channel
	for _, id := range r.m.ids() {
		if ch := r.m.channels[id]; ch.State == state {
			all = append(all, cloneChannel(ch))
		}
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r memChannels) ListBacklogCandidates(_ context.Context, minRelations, minVideos int) ([]*models.BacklogCandidate, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.BacklogCandidate
	for _, id := range r.m.ids() {
		ch := r.m.channels[id]
		if ch.State != models.StateQueued {
			continue
		}
		rel := len(r.m.relations[id])
		if rel < minRelations || len(ch.Videos) < minVideos {
			continue
		}
		out = append(out, &models.BacklogCandidate{ID: id, RelationCount: rel, VideoCount: len(ch.Videos), CreatedAt: ch.CreatedAt})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RelationCount > out[j].RelationCount })
	return out, nil
}

func (r memChannels) ListRecrawlDue(_ context.Context, before time.Time, after repository.RecrawlCursor, limit int) ([]*models.Channel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var due []*models.Channel
	for _, id := range r.m.ids() {
		ch := r.m.channels[id]
		if ch.State != models.StateParsed {
			continue
		}
		if ch.UpdateDate != nil && !ch.UpdateDate.Before(before) {
			continue
		}
		due = append(due, ch)
	}
	sort.SliceStable(due, func(i, j int) bool { return recrawlLess(due[i].UpdateDate, due[i].ID, due[j].UpdateDate, due[j].ID) })

	var out []*models.Channel
	for _, ch := range due {
		if after.ID != "" && !recrawlLess(after.UpdateDate, after.ID, ch.UpdateDate, ch.ID) {
			continue
		}
		out = append(out, cloneChannel(ch))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// recrawlLess orders by update date with never-updated first, then id.
func recrawlLess(a *time.Time, aID string, b *time.Time, bID string) bool {
	switch {
	case a == nil && b != nil:
		return true
	case a != nil && b == nil:
		return false
	case a != nil && !a.Equal(*b):
		return a.Before(*b)
	}
	return aID < bID
}

func (r memChannels) CountByState(_ context.Context) (map[models.State]int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[models.State]int)
	for _, st := range models.States {
		out[st] = 0
	}
	for _, ch := range r.m.channels {
		out[ch.State]++
	}
	return out, nil
}

type memRelations struct{ m *memStore }

func (r memRelations) Add(_ context.Context, channelID, relatedID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if channelID == relatedID {
		return false, fmt.Errorf("add relation: %w", db.ErrCheckViolation)
	}
	if _, ok := r.m.channels[channelID]; !ok {
		return false, fmt.Errorf("add relation: %w", db.ErrForeignKeyViolation)
	}
	for _, id := range r.m.relations[channelID] {
		if id == relatedID {
			return false, nil
		}
	}
	r.m.relations[channelID] = append(r.m.relations[channelID], relatedID)
	return true, nil
}

func (r memRelations) List(_ context.Context, channelID string) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return append([]string{}, r.m.relations[channelID]...), nil
}

func (r memRelations) Replace(_ context.Context, channelID string, relatedIDs []string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []string
	for _, id := range relatedIDs {
		if id != channelID {
			out = append(out, id)
		}
	}
	r.m.relations[channelID] = out
	return nil
}

func (r memRelations) DeleteOrphans(_ context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for owner, related := range r.m.relations {
		kept := related[:0]
		for _, id := range related {
			if _, ok := r.m.channels[id]; ok {
				kept = append(kept, id)
			} else {
				n++
			}
		}
		r.m.relations[owner] = kept
	}
	return n, nil
}

type memVideos struct{ m *memStore }

func (r memVideos) Record(_ context.Context, video *models.Video) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if existing, ok := r.m.videos[video.ID]; ok {
		existing.AppendTitle(video.Title())
		existing.Data = video.Data
		existing.ParsedCommenters = existing.ParsedCommenters || video.ParsedCommenters
		*video = *cloneVideo(existing)
		return false, nil
	}
	r.m.seq++
	r.m.videoSeq[video.ID] = r.m.seq
	r.m.videos[video.ID] = cloneVideo(video)
	return true, nil
}

func (r memVideos) AppendTitle(_ context.Context, id, title string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.videos[id]
	if !ok {
		return false, nil
	}
	return v.AppendTitle(title), nil
}

func (r memVideos) Get(_ context.Context, id string) (*models.Video, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.videos[id]
	if !ok {
		return nil, notFound("get video")
	}
	return cloneVideo(v), nil
}

func (r memVideos) ListByChannel(_ context.Context, channelID string) ([]*models.Video, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Video
	for _, v := range r.m.videos {
		if v.ChannelID == channelID {
			out = append(out, cloneVideo(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.m.videoSeq[out[i].ID] < r.m.videoSeq[out[j].ID] })
	return out, nil
}

func (r memVideos) CommentedChannels(_ context.Context, authorID string) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	set := make(map[string]struct{})
	for _, v := range r.m.videos {
		if v.ChannelID == authorID {
			continue
		}
		for _, id := range v.Data.CommentAuthorIDs() {
			if id == authorID {
				set[v.ChannelID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r memVideos) SetDownloaded(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.videos[id]
	if !ok {
		return notFound("set video downloaded")
	}
	v.Downloaded = true
	return nil
}

func (r memVideos) ListIDs(_ context.Context) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]string, 0, len(r.m.videos))
	for id := range r.m.videos {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return r.m.videoSeq[out[i]] < r.m.videoSeq[out[j]] })
	return out, nil
}

func (r memVideos) Counts(_ context.Context) (*models.VideoCounts, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := &models.VideoCounts{Total: len(r.m.videos)}
	for _, v := range r.m.videos {
		if v.Downloaded {
			c.Downloaded++
		}
	}
	return c, nil
}

func (r memVideos) CollapseTitleRepeats(_ context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, v := range r.m.videos {
		var titles []string
		for i, t := range v.Titles {
			if i == 0 || t != v.Titles[i-1] {
				titles = append(titles, t)
			}
		}
		if len(titles) != len(v.Titles) {
			v.Titles = titles
			n++
		}
	}
	return n, nil
}

// fakeChannelFetcher serves channel payloads from maps. errs queues errors
// returned before the payload for an id.
type fakeChannelFetcher struct {
	mu          sync.Mutex
	channels    map[string]*models.ChannelData
	videos      map[string][]models.BasicVideo
	errs        map[string][]error
	parseCalls  map[string]int
	videosCalls map[string]int
}

func newFakeChannelFetcher() *fakeChannelFetcher {
	return &fakeChannelFetcher{
		channels:    make(map[string]*models.ChannelData),
		videos:      make(map[string][]models.BasicVideo),
		errs:        make(map[string][]error),
		parseCalls:  make(map[string]int),
		videosCalls: make(map[string]int),
	}
}

func (f *fakeChannelFetcher) add(id string, subs int64, videos ...models.BasicVideo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = &models.ChannelData{Author: "Author " + id, AuthorID: id, SubscriberCount: subs}
	f.videos[id] = videos
}

func (f *fakeChannelFetcher) ParseChannel(_ context.Context, id string) (*models.ChannelData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parseCalls[id]++
	if errs := f.errs[id]; len(errs) > 0 {
		f.errs[id] = errs[1:]
		return nil, errs[0]
	}
	data, ok := f.channels[id]
	if !ok {
		return nil, ErrChannelUnavailable
	}
	out := *data
	return &out, nil
}

func (f *fakeChannelFetcher) GetVideos(_ context.Context, id string, maxVideos int) ([]models.BasicVideo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videosCalls[id]++
	videos := f.videos[id]
	if maxVideos > 0 && len(videos) > maxVideos {
		return nil, ErrMaxVideosExceeded
	}
	return append([]models.BasicVideo{}, videos...), nil
}

// fakeVideoFetcher serves video payloads. fail makes an id return err for
// its first n calls.
type fakeVideoFetcher struct {
	mu     sync.Mutex
	videos map[string]*models.VideoData
	fail   map[string]failure
	calls  map[string]int
}

type failure struct {
	err   error
	times int
}

func newFakeVideoFetcher() *fakeVideoFetcher {
	return &fakeVideoFetcher{
		videos: make(map[string]*models.VideoData),
		fail:   make(map[string]failure),
		calls:  make(map[string]int),
	}
}

func (f *fakeVideoFetcher) add(id, channelID, title string, commenters ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := &models.VideoData{Title: title, ChannelID: channelID, Uploader: "Author " + channelID}
	for _, c := range commenters {
		data.Comments = append(data.Comments, models.Comment{AuthorID: c, Author: "Author " + c, Text: "nice"})
	}
	data.CommentCount = int64(len(data.Comments))
	f.videos[id] = data
}

func (f *fakeVideoFetcher) ParseVideo(_ context.Context, id string) (*models.VideoData, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if fl, ok := f.fail[id]; ok && (fl.times < 0 || f.calls[id] <= fl.times) {
		return nil, nil, fl.err
	}
	data, ok := f.videos[id]
	if !ok {
		return nil, nil, ErrVideoUnavailable
	}
	out := *data
	out.Comments = append([]models.Comment{}, data.Comments...)
	ids := make([]string, 0, len(out.Comments))
	for _, c := range out.Comments {
		ids = append(ids, c.AuthorID)
	}
	return &out, ids, nil
}

func (f *fakeVideoFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeVideoFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeDownloads struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (f *fakeDownloads) EnqueueDownload(_ context.Context, videoID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, videoID)
	return nil
}

var errTransient = errors.New("connection reset by peer")

var testUnavailable = []string{"Video unavailable", "This video is private"}

func testRetry() RetryPolicy {
	return RetryPolicy{Backoff: time.Millisecond, Unavailable: testUnavailable}
}

func basic(id, title string, length int) models.BasicVideo {
	return models.BasicVideo{VideoID: id, Title: title, LengthSeconds: length}
}

// pipeline wires every service against the in-memory store.
type pipeline struct {
	mem       *memStore
	store     Store
	channels  *fakeChannelFetcher
	videos    *fakeVideoFetcher
	downloads *fakeDownloads
	bus       *events.Bus
	backlog   *Backlog
	triage    *Triage
	relations *RelationBuilder
	crawler   *Crawler
	recrawler *Recrawler
	locker    *lease.Local
}

func newPipeline(t *testing.T, filters filter.Config, retrySkipped bool) *pipeline {
	t.Helper()

	p := &pipeline{
		mem:       newMemStore(),
		channels:  newFakeChannelFetcher(),
		videos:    newFakeVideoFetcher(),
		downloads: &fakeDownloads{},
		bus:       events.NewBus(),
		locker:    lease.NewLocal(),
	}
	p.store = p.mem.Store()
	p.backlog = NewBacklog(p.store.Channels, filters, 1, 0, nil)
	p.triage = NewTriage(p.store, p.channels, filters, testRetry(), p.backlog, p.bus, nil)
	p.relations = NewRelationBuilder(p.store)
	p.crawler = NewCrawler(p.store, p.triage, p.relations, p.videos, p.downloads, p.locker, p.bus, nil, CrawlerConfig{
		Filters:                filters,
		Retry:                  testRetry(),
		PollInterval:           time.Hour,
		RetrySkippedCommenters: retrySkipped,
	})
	p.recrawler = NewRecrawler(p.store, p.channels, p.crawler, p.locker, nil, RecrawlerConfig{
		Gap:      6 * time.Hour,
		Interval: time.Hour,
		Retry:    testRetry(),
	})
	return p
}

// stateCount returns how many states hold id. It is 0 or 1 by construction
// of the store; tests use it to assert the one-state invariant explicitly.
func (p *pipeline) stateCount(id string) int {
	n := 0
	for _, st := range models.States {
		ids, _ := p.store.Channels.ListIDsByState(context.Background(), st)
		for _, x := range ids {
			if x == id {
				n++
			}
		}
	}
	return n
}
