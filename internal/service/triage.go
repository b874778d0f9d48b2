package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/events"
	"github.com/ytarchiver/channel-archiver/internal/filter"
	"github.com/ytarchiver/channel-archiver/internal/metrics"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// Destination is where a queued channel is moved by a triage decision.
type Destination string

// Move destinations.
const (
	DestinationAccept           Destination = "accept"
	DestinationAcceptNoDownload Destination = "acceptNoDownload"
	DestinationReject           Destination = "reject"
)

// ParseDestination validates a destination name.
func ParseDestination(s string) (Destination, error) {
	switch d := Destination(s); d {
	case DestinationAccept, DestinationAcceptNoDownload, DestinationReject:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDestination, s)
}

func (d Destination) state() models.State {
	if d == DestinationReject {
		return models.StateRejected
	}
	return models.StateAccepted
}

// Outcome is the result of a discovery attempt.
type Outcome string

// Discovery outcomes.
const (
	OutcomeKnown    Outcome = "known"
	OutcomeQueued   Outcome = "queued"
	OutcomeFiltered Outcome = "filtered"
)

// FixReport counts what a maintenance sweep repaired.
type FixReport struct {
	BacklogPruned   int   `json:"backlogPruned"`
	OrphanRelations int64 `json:"orphanRelations"`
	TitlesCollapsed int64 `json:"titlesCollapsed"`
	DurationMillis  int64 `json:"durationMillis"`
}

// RefilterReport summarizes a refilter sweep.
type RefilterReport struct {
	Checked int `json:"checked"`
	Queued  int `json:"queued"`
	Failed  int `json:"failed"`
}

// Triage owns channel state transitions.
type Triage struct {
	store   Store
	fetcher ChannelFetcher
	filters filter.Config
	retry   RetryPolicy
	backlog *Backlog
	bus     *events.Bus
	metrics *metrics.Metrics
	wake    chan struct{}
}

// NewTriage creates the state machine. backlog, bus and m may be nil.
func NewTriage(store Store, fetcher ChannelFetcher, filters filter.Config, retry RetryPolicy, backlog *Backlog, bus *events.Bus, m *metrics.Metrics) *Triage {
	return &Triage{
		store:   store,
		fetcher: fetcher,
		filters: filters,
		retry:   retry,
		backlog: backlog,
		bus:     bus,
		metrics: m,
		wake:    make(chan struct{}, 1),
	}
}

// Wakeups delivers a signal whenever a channel is accepted.
func (t *Triage) Wakeups() <-chan struct{} {
	return t.wake
}

func (t *Triage) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Discover registers a newly seen channel as queued or filtered. It is a
// no-op for ids that already exist in any state.
func (t *Triage) Discover(ctx context.Context, id string) (Outcome, error) {
	_, err := t.store.Channels.GetState(ctx, id)
	if err == nil {
		return OutcomeKnown, nil
	}
	if !db.IsNotFound(err) {
		return "", fmt.Errorf("lookup channel %s: %w", id, err)
	}

	ch, err := t.evaluate(ctx, id)
	if err != nil {
		return "", err
	}

	if err := t.store.Channels.Insert(ctx, ch); err != nil {
		if db.IsDuplicateKey(err) {
			return OutcomeKnown, nil
		}
		return "", fmt.Errorf("insert channel %s: %w", id, err)
	}

	t.metrics.Transition("", string(ch.State))
	if ch.State == models.StateQueued {
		t.bus.Publish(events.Event{Type: events.TypeQueue, ChannelID: id, State: string(ch.State)})
		return OutcomeQueued, nil
	}
	return OutcomeFiltered, nil
}

// evaluate fetches a channel and runs it through the channel filters. The
// returned record is either queued or filtered.
func (t *Triage) evaluate(ctx context.Context, id string) (*models.Channel, error) {
	data, err := retryFetch(ctx, t.retry, t.metrics, "parse_channel", id,
		func(ctx context.Context) (*models.ChannelData, error) {
			return t.fetcher.ParseChannel(ctx, id)
		})
	if err != nil && !t.retry.IsPermanent(err) {
		return nil, err
	}

	if err != nil || data.Unavailable() {
		reason := "unavailable"
		if data != nil && data.AlertMessage != "" {
			reason = data.AlertMessage
		}
		logger.Log.Info("Channel filtered",
			zap.String("channelId", id),
			zap.String("reason", reason),
		)
		if data == nil {
			data = &models.ChannelData{AuthorID: id}
		}
		return models.NewChannel(id, models.StateFiltered, *data, nil), nil
	}

	if filter.FilterChannel(t.filters, data) {
		logger.Log.Info("Channel filtered",
			zap.String("channelId", id),
			zap.String("reason", "subscribers"),
			zap.Int64("subscribers", data.SubscriberCount),
		)
		return models.NewChannel(id, models.StateFiltered, *data, nil), nil
	}

	videos, err := retryFetch(ctx, t.retry, t.metrics, "get_videos", id,
		func(ctx context.Context) ([]models.BasicVideo, error) {
			return t.fetcher.GetVideos(ctx, id, t.filters.MaxVideos)
		})
	if errors.Is(err, ErrMaxVideosExceeded) {
		logger.Log.Info("Channel filtered",
			zap.String("channelId", id),
			zap.String("reason", "max videos"),
		)
		return models.NewChannel(id, models.StateFiltered, *data, nil), nil
	}
	if err != nil {
		return nil, err
	}

	if filter.FilterChannelVideos(t.filters, videos) {
		logger.Log.Info("Channel filtered",
			zap.String("channelId", id),
			zap.String("reason", "videos"),
			zap.Int("videos", len(videos)),
		)
		return models.NewChannel(id, models.StateFiltered, *data, videos), nil
	}

	return models.NewChannel(id, models.StateQueued, *data, videos), nil
}

// Refilter re-evaluates a filtered channel against the current filters and
// queues it when it now passes.
func (t *Triage) Refilter(ctx context.Context, id string) (Outcome, error) {
	state, err := t.store.Channels.GetState(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return "", fmt.Errorf("%w: channel %s not found", ErrInvalidTransition, id)
		}
		return "", err
	}
	if state != models.StateFiltered {
		return "", fmt.Errorf("%w: channel %s is %s", ErrInvalidTransition, id, state)
	}

	ch, err := t.evaluate(ctx, id)
	if err != nil {
		return "", err
	}
	if ch.State != models.StateQueued {
		return OutcomeFiltered, nil
	}

	if err := t.store.Channels.Replace(ctx, ch, models.StateFiltered); err != nil {
		if db.IsNotFound(err) {
			return "", fmt.Errorf("%w: channel %s left filtered", ErrInvalidTransition, id)
		}
		return "", err
	}

	t.metrics.Transition(string(models.StateFiltered), string(models.StateQueued))
	t.bus.Publish(events.Event{Type: events.TypeQueue, ChannelID: id, State: string(models.StateQueued)})
	logger.Log.Info("Filtered channel requeued", zap.String("channelId", id))

	return OutcomeQueued, nil
}

// RefilterAll runs Refilter over every filtered channel.
func (t *Triage) RefilterAll(ctx context.Context) (*RefilterReport, error) {
	ids, err := t.store.Channels.ListIDsByState(ctx, models.StateFiltered)
	if err != nil {
		return nil, err
	}

	report := &RefilterReport{}
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		outcome, err := t.Refilter(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			logger.Log.Warn("Refilter failed", zap.String("channelId", id), zap.Error(err))
			continue
		}
		if outcome == OutcomeQueued {
			report.Queued++
		}
	}

	return report, nil
}

// AddChannel adds a channel by hand, bypassing the filters, and moves it to
// dest.
func (t *Triage) AddChannel(ctx context.Context, id string, dest Destination) (*models.Channel, error) {
	if _, err := ParseDestination(string(dest)); err != nil {
		return nil, err
	}

	state, err := t.store.Channels.GetState(ctx, id)
	if err == nil {
		return nil, &ChannelExistsError{ID: id, State: state}
	}
	if !db.IsNotFound(err) {
		return nil, err
	}

	data, err := retryFetch(ctx, t.retry, t.metrics, "parse_channel", id,
		func(ctx context.Context) (*models.ChannelData, error) {
			return t.fetcher.ParseChannel(ctx, id)
		})
	if err != nil {
		return nil, err
	}
	if data.Unavailable() {
		return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, id)
	}

	videos, err := retryFetch(ctx, t.retry, t.metrics, "get_videos", id,
		func(ctx context.Context) ([]models.BasicVideo, error) {
			return t.fetcher.GetVideos(ctx, id, 0)
		})
	if err != nil {
		return nil, err
	}

	ch := models.NewChannel(id, models.StateQueued, *data, videos)
	if err := t.store.Channels.Insert(ctx, ch); err != nil {
		if db.IsDuplicateKey(err) {
			return nil, &ChannelExistsError{ID: id, State: models.StateQueued}
		}
		return nil, err
	}
	t.metrics.Transition("", string(models.StateQueued))

	if err := t.MoveChannel(ctx, id, dest); err != nil {
		return nil, err
	}

	return t.store.Channels.Get(ctx, id)
}

// MoveChannel applies a triage decision to a queued channel.
func (t *Triage) MoveChannel(ctx context.Context, id string, dest Destination) error {
	if _, err := ParseDestination(string(dest)); err != nil {
		return err
	}

	to := dest.state()
	dontDownload := dest == DestinationAcceptNoDownload

	if err := t.store.Channels.Move(ctx, id, models.StateQueued, to, &dontDownload); err != nil {
		if db.IsNotFound(err) {
			return fmt.Errorf("%w: channel %s is not queued", ErrInvalidTransition, id)
		}
		return err
	}

	t.backlog.Remove(id)
	t.metrics.Transition(string(models.StateQueued), string(to))
	t.bus.Publish(events.Event{Type: events.TypeQueue, ChannelID: id, State: string(to)})

	if to == models.StateAccepted {
		t.bus.Publish(events.Event{Type: events.TypeAccepted, ChannelID: id, State: string(to)})
		t.signal()
	}

	logger.Log.Info("Channel moved",
		zap.String("channelId", id),
		zap.String("destination", string(dest)),
	)

	return nil
}

// OnChannelParsed moves an accepted channel to parsed.
func (t *Triage) OnChannelParsed(ctx context.Context, id string) error {
	if err := t.store.Channels.MarkParsed(ctx, id, time.Now()); err != nil {
		if db.IsNotFound(err) {
			return fmt.Errorf("%w: channel %s is not accepted", ErrInvalidTransition, id)
		}
		return err
	}

	t.metrics.Transition(string(models.StateAccepted), string(models.StateParsed))
	t.bus.Publish(events.Event{Type: events.TypeChannel, ChannelID: id, State: string(models.StateParsed)})

	return nil
}

// Locate returns a channel in whatever state it is in.
func (t *Triage) Locate(ctx context.Context, id string) (*models.Channel, error) {
	return t.store.Channels.Get(ctx, id)
}

// ChannelInfo is the result of a lookup. Channel is not stored when Exists
// is empty.
type ChannelInfo struct {
	Exists  models.State    `json:"exists"`
	Channel *models.Channel `json:"channel"`
}

// Lookup returns the stored record for id, or a fresh unsaved one fetched
// from the source when the channel is unknown.
func (t *Triage) Lookup(ctx context.Context, id string) (*ChannelInfo, error) {
	ch, err := t.store.Channels.Get(ctx, id)
	if err == nil {
		return &ChannelInfo{Exists: ch.State, Channel: ch}, nil
	}
	if !db.IsNotFound(err) {
		return nil, err
	}

	data, err := retryFetch(ctx, t.retry, t.metrics, "parse_channel", id,
		func(ctx context.Context) (*models.ChannelData, error) {
			return t.fetcher.ParseChannel(ctx, id)
		})
	if err != nil {
		return nil, err
	}
	if data.Unavailable() {
		return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, id)
	}

	videos, err := retryFetch(ctx, t.retry, t.metrics, "get_videos", id,
		func(ctx context.Context) ([]models.BasicVideo, error) {
			return t.fetcher.GetVideos(ctx, id, 0)
		})
	if err != nil {
		return nil, err
	}

	ch = models.NewChannel(id, "", *data, videos)
	return &ChannelInfo{Channel: ch}, nil
}

// State returns the state of id, or "" when it is unknown.
func (t *Triage) State(ctx context.Context, id string) (models.State, error) {
	state, err := t.store.Channels.GetState(ctx, id)
	if db.IsNotFound(err) {
		return "", nil
	}
	return state, err
}

func (t *Triage) is(ctx context.Context, id string, want models.State) (bool, error) {
	state, err := t.State(ctx, id)
	if err != nil {
		return false, err
	}
	return state == want, nil
}

// IsQueued reports whether id is queued.
func (t *Triage) IsQueued(ctx context.Context, id string) (bool, error) {
	return t.is(ctx, id, models.StateQueued)
}

// IsAccepted reports whether id is accepted.
func (t *Triage) IsAccepted(ctx context.Context, id string) (bool, error) {
	return t.is(ctx, id, models.StateAccepted)
}

// IsRejected reports whether id is rejected.
func (t *Triage) IsRejected(ctx context.Context, id string) (bool, error) {
	return t.is(ctx, id, models.StateRejected)
}

// IsFiltered reports whether id is filtered.
func (t *Triage) IsFiltered(ctx context.Context, id string) (bool, error) {
	return t.is(ctx, id, models.StateFiltered)
}

// IsParsed reports whether id is parsed.
func (t *Triage) IsParsed(ctx context.Context, id string) (bool, error) {
	return t.is(ctx, id, models.StateParsed)
}

// Fix repairs leftovers of interrupted or concurrent writes: backlog
// entries for channels that are no longer queued, relation edges pointing at
// deleted channels and repeated titles in video histories.
func (t *Triage) Fix(ctx context.Context) (*FixReport, error) {
	start := time.Now()
	report := &FixReport{}

	if t.backlog != nil {
		pruned, err := t.backlog.Prune(ctx)
		if err != nil {
			return nil, fmt.Errorf("prune backlog: %w", err)
		}
		report.BacklogPruned = pruned
	}

	orphans, err := t.store.Relations.DeleteOrphans(ctx)
	if err != nil {
		return nil, err
	}
	report.OrphanRelations = orphans

	collapsed, err := t.store.Videos.CollapseTitleRepeats(ctx)
	if err != nil {
		return nil, err
	}
	report.TitlesCollapsed = collapsed

	report.DurationMillis = time.Since(start).Milliseconds()

	logger.Log.Info("Maintenance sweep finished",
		zap.Int("backlogPruned", report.BacklogPruned),
		zap.Int64("orphanRelations", report.OrphanRelations),
		zap.Int64("titlesCollapsed", report.TitlesCollapsed),
	)

	return report, nil
}
