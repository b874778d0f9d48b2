package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/internal/db/repository"
	"github.com/ytarchiver/channel-archiver/internal/filter"
	"github.com/ytarchiver/channel-archiver/internal/metrics"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

// Backlog ranks queued channels for manual triage, best connected first.
// The ranking lives in memory only and is rebuilt from the store.
type Backlog struct {
	channels     repository.ChannelRepository
	filters      filter.Config
	minRelations int
	minVideos    int
	metrics      *metrics.Metrics

	mu      sync.Mutex
	entries []*models.BacklogCandidate
}

// NewBacklog creates an empty backlog. Call Rebuild before use.
func NewBacklog(channels repository.ChannelRepository, filters filter.Config, minRelations, minVideos int, m *metrics.Metrics) *Backlog {
	return &Backlog{
		channels:     channels,
		filters:      filters,
		minRelations: minRelations,
		minVideos:    minVideos,
		metrics:      m,
	}
}

// Rebuild recomputes the ranking from the store.
func (b *Backlog) Rebuild(ctx context.Context) error {
	candidates, err := b.channels.ListBacklogCandidates(ctx, b.minRelations, b.minVideos)
	if err != nil {
		return err
	}

	entries := make([]*models.BacklogCandidate, 0, len(candidates))
	for _, c := range candidates {
		if filter.FilterChannelComments(b.filters, c.RelationCount) {
			continue
		}
		entries = append(entries, c)
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()

	b.metrics.SetBacklog(len(entries))
	return nil
}

// Next returns the live record of the highest ranked channel not in skip.
// Entries that are no longer queued are dropped on the way.
func (b *Backlog) Next(ctx context.Context, skip []string) (*models.Channel, error) {
	skipped := make(map[string]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}

	for _, e := range b.snapshot() {
		if _, ok := skipped[e.ID]; ok {
			continue
		}

		ch, err := b.channels.Get(ctx, e.ID)
		if err != nil {
			if db.IsNotFound(err) {
				b.Remove(e.ID)
				continue
			}
			return nil, err
		}
		if ch.State != models.StateQueued {
			b.Remove(e.ID)
			continue
		}

		return ch, nil
	}

	return nil, ErrQueueEmpty
}

// Remove drops id from the ranking. It is a no-op on a nil backlog.
func (b *Backlog) Remove(id string) {
	if b == nil {
		return
	}

	b.mu.Lock()
	for i, e := range b.entries {
		if e.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			break
		}
	}
	n := len(b.entries)
	b.mu.Unlock()

	b.metrics.SetBacklog(n)
}

// Len returns the number of ranked entries.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Prune drops every entry whose channel is no longer queued and returns how
// many were removed.
func (b *Backlog) Prune(ctx context.Context) (int, error) {
	entries := b.snapshot()
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	states, err := b.channels.GetStates(ctx, ids)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		if states[id] != models.StateQueued {
			b.Remove(id)
			pruned++
		}
	}

	return pruned, nil
}

// Run rebuilds the ranking immediately and then every interval until ctx
// is done.
func (b *Backlog) Run(ctx context.Context, interval time.Duration) {
	if err := b.Rebuild(ctx); err != nil && ctx.Err() == nil {
		logger.Log.Error("Failed to build backlog", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Rebuild(ctx); err != nil && ctx.Err() == nil {
				logger.Log.Error("Failed to rebuild backlog", zap.Error(err))
				continue
			}
			logger.Log.Debug("Backlog rebuilt", zap.Int("size", b.Len()))
		}
	}
}

func (b *Backlog) snapshot() []*models.BacklogCandidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.BacklogCandidate, len(b.entries))
	copy(out, b.entries)
	return out
}
