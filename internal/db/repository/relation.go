package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ytarchiver/channel-archiver/internal/db"
)

// RelationRepository stores directed relation edges from a commenter's
// channel record to the channel it commented on. Edges are unique per pair
// and never self-referencing.
type RelationRepository interface {
	// Add inserts an edge and reports whether it was new.
	Add(ctx context.Context, channelID, relatedID string) (bool, error)

	// List returns the related ids of a channel in insertion order.
	List(ctx context.Context, channelID string) ([]string, error)

	// Replace swaps the full edge list of a channel atomically.
	Replace(ctx context.Context, channelID string, relatedIDs []string) error

	// DeleteOrphans removes edges pointing at channels that no longer exist.
	DeleteOrphans(ctx context.Context) (int64, error)
}

type relationRepository struct {
	pool *pgxpool.Pool
}

// NewRelationRepository creates a new RelationRepository.
func NewRelationRepository(pool *pgxpool.Pool) RelationRepository {
	return &relationRepository{pool: pool}
}

func (r *relationRepository) Add(ctx context.Context, channelID, relatedID string) (bool, error) {
	query := `
		INSERT INTO channel_relations (channel_id, related_channel_id)
		VALUES ($1, $2)
		ON CONFLICT (channel_id, related_channel_id) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, channelID, relatedID)
	if err != nil {
		return false, db.WrapError(err, "add relation")
	}

	return result.RowsAffected() == 1, nil
}

func (r *relationRepository) List(ctx context.Context, channelID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT related_channel_id FROM channel_relations
		WHERE channel_id = $1
		ORDER BY created_at, related_channel_id
	`, channelID)
	if err != nil {
		return nil, db.WrapError(err, "list relations")
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect relations: %w", err)
	}

	return ids, nil
}

func (r *relationRepository) Replace(ctx context.Context, channelID string, relatedIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return db.WrapError(err, "begin replace relations")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM channel_relations WHERE channel_id = $1`, channelID); err != nil {
		return db.WrapError(err, "clear relations")
	}

	if len(relatedIDs) > 0 {
		_, err := tx.Exec(ctx, `
			INSERT INTO channel_relations (channel_id, related_channel_id)
			SELECT $1, related FROM unnest($2::text[]) AS related
			WHERE related <> $1
			ON CONFLICT (channel_id, related_channel_id) DO NOTHING
		`, channelID, relatedIDs)
		if err != nil {
			return db.WrapError(err, "insert relations")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return db.WrapError(err, "commit replace relations")
	}

	return nil
}

func (r *relationRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM channel_relations r
		WHERE NOT EXISTS (SELECT 1 FROM channels c WHERE c.id = r.related_channel_id)
	`)
	if err != nil {
		return 0, db.WrapError(err, "delete orphaned relations")
	}

	return result.RowsAffected(), nil
}
