package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
)

// VideoRepository stores archived videos. Videos are never deleted and their
// title history only grows.
type VideoRepository interface {
	// Record inserts a video, or for an existing id appends its latest title
	// when it differs from the last recorded one and refreshes its payload.
	// It reports whether the row was newly inserted.
	Record(ctx context.Context, video *models.Video) (bool, error)

	// AppendTitle appends title to an existing video's history unless it
	// equals the latest entry. It reports whether the history changed.
	AppendTitle(ctx context.Context, id, title string) (bool, error)

	// Get retrieves a video by id.
	Get(ctx context.Context, id string) (*models.Video, error)

	// ListByChannel returns every recorded video of a channel, oldest first.
	ListByChannel(ctx context.Context, channelID string) ([]*models.Video, error)

	// CommentedChannels returns the distinct owners of videos that authorID
	// commented on, excluding authorID itself.
	CommentedChannels(ctx context.Context, authorID string) ([]string, error)

	// SetDownloaded flags a video as downloaded.
	SetDownloaded(ctx context.Context, id string) error

	// ListIDs returns every video id.
	ListIDs(ctx context.Context) ([]string, error)

	// Counts returns total and downloaded video counts.
	Counts(ctx context.Context) (*models.VideoCounts, error)

	// CollapseTitleRepeats removes consecutive duplicate titles left behind
	// by interrupted writes and returns the number of videos fixed.
	CollapseTitleRepeats(ctx context.Context) (int64, error)
}

type videoRepository struct {
	pool *pgxpool.Pool
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(pool *pgxpool.Pool) VideoRepository {
	return &videoRepository{pool: pool}
}

func (r *videoRepository) Record(ctx context.Context, video *models.Video) (bool, error) {
	query := `
		INSERT INTO videos (id, channel_id, titles, data, comment_author_ids, parsed_commenters, downloaded, created_at, updated_at)
		VALUES ($1, $2, ARRAY[$3::text], $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET titles = CASE
		        WHEN videos.titles[cardinality(videos.titles)] = EXCLUDED.titles[1] THEN videos.titles
		        ELSE array_append(videos.titles, EXCLUDED.titles[1])
		    END,
		    data = EXCLUDED.data,
		    comment_author_ids = EXCLUDED.comment_author_ids,
		    parsed_commenters = videos.parsed_commenters OR EXCLUDED.parsed_commenters,
		    updated_at = NOW()
		RETURNING titles, parsed_commenters, downloaded, created_at, updated_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		video.ID,
		video.ChannelID,
		video.Title(),
		video.Data,
		video.Data.CommentAuthorIDs(),
		video.ParsedCommenters,
		video.Downloaded,
		video.CreatedAt,
		video.UpdatedAt,
	).Scan(
		&video.Titles,
		&video.ParsedCommenters,
		&video.Downloaded,
		&video.CreatedAt,
		&video.UpdatedAt,
		&inserted,
	)

	if err != nil {
		return false, db.WrapError(err, "record video")
	}

	return inserted, nil
}

func (r *videoRepository) AppendTitle(ctx context.Context, id, title string) (bool, error) {
	query := `
		UPDATE videos
		SET titles = array_append(titles, $2), updated_at = NOW()
		WHERE id = $1 AND titles[cardinality(titles)] IS DISTINCT FROM $2
	`

	result, err := r.pool.Exec(ctx, query, id, title)
	if err != nil {
		return false, db.WrapError(err, "append video title")
	}

	return result.RowsAffected() == 1, nil
}

func (r *videoRepository) Get(ctx context.Context, id string) (*models.Video, error) {
	query := `
		SELECT id, channel_id, titles, data, parsed_commenters, downloaded, created_at, updated_at
		FROM videos
		WHERE id = $1
	`

	video := &models.Video{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&video.ID,
		&video.ChannelID,
		&video.Titles,
		&video.Data,
		&video.ParsedCommenters,
		&video.Downloaded,
		&video.CreatedAt,
		&video.UpdatedAt,
	)

	if err != nil {
		return nil, db.WrapError(err, "get video")
	}

	return video, nil
}

func (r *videoRepository) ListByChannel(ctx context.Context, channelID string) ([]*models.Video, error) {
	query := `
		SELECT id, channel_id, titles, data, parsed_commenters, downloaded, created_at, updated_at
		FROM videos
		WHERE channel_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, db.WrapError(err, "list videos by channel")
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		video := &models.Video{}
		err := rows.Scan(
			&video.ID,
			&video.ChannelID,
			&video.Titles,
			&video.Data,
			&video.ParsedCommenters,
			&video.Downloaded,
			&video.CreatedAt,
			&video.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, video)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate videos: %w", err)
	}

	return videos, nil
}

func (r *videoRepository) CommentedChannels(ctx context.Context, authorID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT channel_id FROM videos
		WHERE comment_author_ids @> ARRAY[$1::text] AND channel_id <> $1
		ORDER BY channel_id
	`, authorID)
	if err != nil {
		return nil, db.WrapError(err, "list commented channels")
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect commented channels: %w", err)
	}

	return ids, nil
}

func (r *videoRepository) SetDownloaded(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `UPDATE videos SET downloaded = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return db.WrapError(err, "set video downloaded")
	}

	if result.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "set video downloaded")
	}

	return nil
}

func (r *videoRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM videos ORDER BY created_at, id`)
	if err != nil {
		return nil, db.WrapError(err, "list video ids")
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect video ids: %w", err)
	}

	return ids, nil
}

func (r *videoRepository) Counts(ctx context.Context) (*models.VideoCounts, error) {
	counts := &models.VideoCounts{}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE downloaded) FROM videos`,
	).Scan(&counts.Total, &counts.Downloaded)
	if err != nil {
		return nil, db.WrapError(err, "count videos")
	}

	return counts, nil
}

func (r *videoRepository) CollapseTitleRepeats(ctx context.Context) (int64, error) {
	query := `
		UPDATE videos v
		SET titles = fixed.titles, updated_at = NOW()
		FROM (
		    SELECT id, ARRAY(
		        SELECT t FROM unnest(titles) WITH ORDINALITY AS u(t, i)
		        WHERE i = 1 OR t IS DISTINCT FROM titles[(i - 1)::int]
		        ORDER BY i
		    ) AS titles
		    FROM videos
		) AS fixed
		WHERE v.id = fixed.id AND cardinality(fixed.titles) <> cardinality(v.titles)
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, db.WrapError(err, "collapse title repeats")
	}

	return result.RowsAffected(), nil
}
