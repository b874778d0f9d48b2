package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
	"github.com/ytarchiver/channel-archiver/pkg/logger"
)

const connectionsPageSize = 500

// Connections is the commenter graph over parsed channels: for each parsed
// channel, the distinct channels that commented on its videos.
type Connections struct {
	Relations    map[string][]string `json:"relations"`
	ChannelNames map[string]string   `json:"channelNames"`
}

// CommenterRank is a commenter with the number of parsed channels it
// commented on.
type CommenterRank struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Channels int    `json:"channels"`
}

// RelationBuilder maintains commenter edges.
type RelationBuilder struct {
	store Store
}

// NewRelationBuilder creates a RelationBuilder.
func NewRelationBuilder(store Store) *RelationBuilder {
	return &RelationBuilder{store: store}
}

// AddRelation records that commenterID commented on a video of channelID.
// It reports whether a new edge was written. Self comments and commenters
// without a record are skipped.
func (r *RelationBuilder) AddRelation(ctx context.Context, commenterID, channelID string) (bool, error) {
	if commenterID == "" || commenterID == channelID {
		return false, nil
	}

	added, err := r.store.Relations.Add(ctx, commenterID, channelID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			logger.Log.Warn("No channel record for commenter, relation skipped",
				zap.String("commenterId", commenterID),
				zap.String("channelId", channelID),
			)
			return false, nil
		}
		return false, err
	}

	return added, nil
}

// Connections builds the full commenter graph from the recorded videos of
// every parsed channel. The result depends only on the stored videos.
func (r *RelationBuilder) Connections(ctx context.Context) (*Connections, error) {
	conns := &Connections{
		Relations:    make(map[string][]string),
		ChannelNames: make(map[string]string),
	}

	for offset := 0; ; offset += connectionsPageSize {
		channels, err := r.store.Channels.ListByState(ctx, models.StateParsed, connectionsPageSize, offset)
		if err != nil {
			return nil, err
		}

		for _, ch := range channels {
			if ch.Data.Author != "" {
				conns.ChannelNames[ch.ID] = ch.Data.Author
			}

			videos, err := r.store.Videos.ListByChannel(ctx, ch.ID)
			if err != nil {
				return nil, err
			}

			seen := make(map[string]struct{})
			commenters := []string{}
			for _, v := range videos {
				for _, c := range v.Data.Comments {
					if c.AuthorID == "" || c.AuthorID == ch.ID {
						continue
					}
					if _, ok := conns.ChannelNames[c.AuthorID]; !ok && c.Author != "" {
						conns.ChannelNames[c.AuthorID] = c.Author
					}
					if _, ok := seen[c.AuthorID]; ok {
						continue
					}
					seen[c.AuthorID] = struct{}{}
					commenters = append(commenters, c.AuthorID)
				}
			}
			sort.Strings(commenters)
			conns.Relations[ch.ID] = commenters
		}

		if len(channels) < connectionsPageSize {
			break
		}
	}

	return conns, nil
}

// MostCommented ranks commenters by how many channels in conns they
// commented on, most first.
func MostCommented(conns *Connections) []CommenterRank {
	counts := make(map[string]int)
	for _, commenters := range conns.Relations {
		for _, id := range commenters {
			counts[id]++
		}
	}

	ranks := make([]CommenterRank, 0, len(counts))
	for id, n := range counts {
		ranks = append(ranks, CommenterRank{ID: id, Name: conns.ChannelNames[id], Channels: n})
	}

	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Channels != ranks[j].Channels {
			return ranks[i].Channels > ranks[j].Channels
		}
		return ranks[i].ID < ranks[j].ID
	})

	return ranks
}

// RebuildRelations recomputes the stored edges of every channel in state
// from the recorded comments and returns the number of channels updated.
func (r *RelationBuilder) RebuildRelations(ctx context.Context, state models.State) (int, error) {
	ids, err := r.store.Channels.ListIDsByState(ctx, state)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}

		commented, err := r.store.Videos.CommentedChannels(ctx, id)
		if err != nil {
			return updated, err
		}
		if err := r.store.Relations.Replace(ctx, id, commented); err != nil {
			return updated, err
		}
		updated++
	}

	logger.Log.Info("Relations rebuilt",
		zap.String("state", string(state)),
		zap.Int("channels", updated),
	)

	return updated, nil
}
