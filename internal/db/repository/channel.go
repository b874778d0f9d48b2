package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
)

// ChannelRepository stores channel records. Every id lives in exactly one
// state; state changes are conditional on the current state so a missing
// source record surfaces as db.ErrNotFound rather than a partial write.
type ChannelRepository interface {
	// Insert creates a channel. It fails with db.ErrDuplicateKey when the id
	// already exists in any state.
	Insert(ctx context.Context, channel *models.Channel) error

	// Get retrieves a channel by id with its relation list hydrated.
	Get(ctx context.Context, id string) (*models.Channel, error)

	// GetState returns the current state of a channel.
	GetState(ctx context.Context, id string) (models.State, error)

	// GetStates returns the state of every known id in ids.
	GetStates(ctx context.Context, ids []string) (map[string]models.State, error)

	// Move changes state from -> to. A non-nil dontDownload overwrites the flag.
	Move(ctx context.Context, id string, from, to models.State, dontDownload *bool) error

	// Replace rewrites the payload and state of a channel currently in from.
	Replace(ctx context.Context, channel *models.Channel, from models.State) error

	// MarkParsed moves an accepted channel to parsed and stamps its update date.
	MarkParsed(ctx context.Context, id string, at time.Time) error

	// UpdateContent stores a refreshed payload for a channel in state.
	UpdateContent(ctx context.Context, id string, state models.State, data models.ChannelData, videos []models.BasicVideo) error

	// TouchUpdateDate stamps the re-crawl time of a parsed channel.
	TouchUpdateDate(ctx context.Context, id string, at time.Time) error

	// SetVideoDownloaded flags one entry of the channel's video list.
	SetVideoDownloaded(ctx context.Context, id, videoID string) error

	// ListIDsByState returns ids in a state, oldest first.
	ListIDsByState(ctx context.Context, state models.State) ([]string, error)

	// ListByState returns channels in a state, oldest first.
	ListByState(ctx context.Context, state models.State, limit, offset int) ([]*models.Channel, error)

	// ListBacklogCandidates returns queued channels meeting both floors,
	// ordered by relation count descending then insertion order.
	ListBacklogCandidates(ctx context.Context, minRelations, minVideos int) ([]*models.BacklogCandidate, error)

	// ListRecrawlDue returns one page of parsed channels never re-crawled or
	// last re-crawled before the cutoff, ordered by update date (never first)
	// then id, starting after the cursor.
	ListRecrawlDue(ctx context.Context, before time.Time, after RecrawlCursor, limit int) ([]*models.Channel, error)

	// CountByState counts channels per state. Every state has an entry.
	CountByState(ctx context.Context) (map[models.State]int, error)
}

type channelRepository struct {
	pool *pgxpool.Pool
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(pool *pgxpool.Pool) ChannelRepository {
	return &channelRepository{pool: pool}
}

const channelColumns = `
	c.id, c.state::text, c.data, c.videos, c.dont_download, c.update_date, c.created_at, c.updated_at,
	ARRAY(SELECT r.related_channel_id FROM channel_relations r
	      WHERE r.channel_id = c.id ORDER BY r.created_at, r.related_channel_id)`

func (r *channelRepository) Insert(ctx context.Context, channel *models.Channel) error {
	query := `
		INSERT INTO channels (id, state, data, videos, dont_download, update_date, created_at, updated_at)
		VALUES ($1, $2::text::channel_state, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		channel.ID,
		string(channel.State),
		channel.Data,
		nonNilVideos(channel.Videos),
		channel.DontDownload,
		channel.UpdateDate,
		channel.CreatedAt,
		channel.UpdatedAt,
	).Scan(&channel.CreatedAt, &channel.UpdatedAt)

	if err != nil {
		return db.WrapError(err, "insert channel")
	}

	return nil
}

func (r *channelRepository) Get(ctx context.Context, id string) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels c WHERE c.id = $1`

	channel, err := scanChannel(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, db.WrapError(err, "get channel")
	}

	return channel, nil
}

func (r *channelRepository) GetState(ctx context.Context, id string) (models.State, error) {
	var state string
	err := r.pool.QueryRow(ctx, `SELECT state::text FROM channels WHERE id = $1`, id).Scan(&state)
	if err != nil {
		return "", db.WrapError(err, "get channel state")
	}

	return models.State(state), nil
}

func (r *channelRepository) GetStates(ctx context.Context, ids []string) (map[string]models.State, error) {
	states := make(map[string]models.State, len(ids))
	if len(ids) == 0 {
		return states, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT id, state::text FROM channels WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, db.WrapError(err, "get channel states")
	}
	defer rows.Close()

	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("scan channel state: %w", err)
		}
		states[id] = models.State(state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel states: %w", err)
	}

	return states, nil
}

func (r *channelRepository) Move(ctx context.Context, id string, from, to models.State, dontDownload *bool) error {
	query := `
		UPDATE channels
		SET state = $3::text::channel_state,
		    dont_download = COALESCE($4, dont_download),
		    updated_at = NOW()
		WHERE id = $1 AND state = $2::text::channel_state
	`

	result, err := r.pool.Exec(ctx, query, id, string(from), string(to), dontDownload)
	if err != nil {
		return db.WrapError(err, "move channel")
	}

	if result.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, fmt.Sprintf("move channel from %s", from))
	}

	return nil
}

func (r *channelRepository) Replace(ctx context.Context, channel *models.Channel, from models.State) error {
	query := `
		UPDATE channels
		SET state = $3::text::channel_state,
		    data = $4,
		    videos = $5,
		    dont_download = $6,
		    updated_at = NOW()
		WHERE id = $1 AND state = $2::text::channel_state
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		channel.ID,
		string(from),
		string(channel.State),
		channel.Data,
		nonNilVideos(channel.Videos),
		channel.DontDownload,
	).Scan(&channel.CreatedAt, &channel.UpdatedAt)

	if err != nil {
		return db.WrapError(err, fmt.Sprintf("replace channel in %s", from))
	}

	return nil
}

func (r *channelRepository) MarkParsed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE channels
		SET state = 'parsed', update_date = $2, updated_at = NOW()
		WHERE id = $1 AND state = 'accepted'
	`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return db.WrapError(err, "mark channel parsed")
	}

	if result.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "mark channel parsed")
	}

	return nil
}

func (r *channelRepository) UpdateContent(ctx context.Context, id string, state models.State, data models.ChannelData, videos []models.BasicVideo) error {
	query := `
		UPDATE channels
		SET data = $3, videos = $4, updated_at = NOW()
		WHERE id = $1 AND state = $2::text::channel_state
	`

	result, err := r.pool.Exec(ctx, query, id, string(state), data, nonNilVideos(videos))
	if err != nil {
		return db.WrapError(err, "update channel content")
	}

	if result.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "update channel content")
	}

	return nil
}

func (r *channelRepository) TouchUpdateDate(ctx context.Context, id string, at time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE channels SET update_date = $2, updated_at = NOW() WHERE id = $1 AND state = 'parsed'`,
		id, at)
	if err != nil {
		return db.WrapError(err, "touch channel update date")
	}

	if result.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "touch channel update date")
	}

	return nil
}

func (r *channelRepository) SetVideoDownloaded(ctx context.Context, id, videoID string) error {
	query := `
		UPDATE channels c
		SET videos = (
		        SELECT COALESCE(jsonb_agg(
		                   CASE WHEN v->>'videoId' = $2 THEN jsonb_set(v, '{downloaded}', 'true'::jsonb) ELSE v END
		                   ORDER BY ord), '[]'::jsonb)
		        FROM jsonb_array_elements(c.videos) WITH ORDINALITY AS t(v, ord)
		    ),
		    updated_at = NOW()
		WHERE c.id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, videoID)
	if err != nil {
		return db.WrapError(err, "set channel video downloaded")
	}

	if result.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "set channel video downloaded")
	}

	return nil
}

func (r *channelRepository) ListIDsByState(ctx context.Context, state models.State) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM channels WHERE state = $1::text::channel_state ORDER BY updated_at, id`,
		string(state))
	if err != nil {
		return nil, db.WrapError(err, "list channel ids by state")
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect channel ids: %w", err)
	}

	return ids, nil
}

func (r *channelRepository) ListByState(ctx context.Context, state models.State, limit, offset int) ([]*models.Channel, error) {
	query := `SELECT ` + channelColumns + `
		FROM channels c
		WHERE c.state = $1::text::channel_state
		ORDER BY c.updated_at, c.id
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, string(state), limit, offset)
	if err != nil {
		return nil, db.WrapError(err, "list channels by state")
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *channelRepository) ListBacklogCandidates(ctx context.Context, minRelations, minVideos int) ([]*models.BacklogCandidate, error) {
	query := `
		SELECT c.id, COUNT(r.related_channel_id) AS relation_count,
		       jsonb_array_length(c.videos) AS video_count, c.created_at
		FROM channels c
		LEFT JOIN channel_relations r ON r.channel_id = c.id
		WHERE c.state = 'queued'
		GROUP BY c.id
		HAVING COUNT(r.related_channel_id) >= $1 AND jsonb_array_length(c.videos) >= $2
		ORDER BY relation_count DESC, c.created_at, c.id
	`

	rows, err := r.pool.Query(ctx, query, minRelations, minVideos)
	if err != nil {
		return nil, db.WrapError(err, "list backlog candidates")
	}
	defer rows.Close()

	var candidates []*models.BacklogCandidate
	for rows.Next() {
		c := &models.BacklogCandidate{}
		if err := rows.Scan(&c.ID, &c.RelationCount, &c.VideoCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backlog candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backlog candidates: %w", err)
	}

	return candidates, nil
}

// RecrawlCursor is the position of the last row of a ListRecrawlDue page.
// The zero value starts at the first page.
type RecrawlCursor struct {
	UpdateDate *time.Time
	ID         string
}

// CursorAfter returns the cursor positioned on ch.
func CursorAfter(ch *models.Channel) RecrawlCursor {
	cursor := RecrawlCursor{ID: ch.ID}
	if ch.UpdateDate != nil {
		at := *ch.UpdateDate
		cursor.UpdateDate = &at
	}
	return cursor
}

func (r *channelRepository) ListRecrawlDue(ctx context.Context, before time.Time, after RecrawlCursor, limit int) ([]*models.Channel, error) {
	query := `SELECT ` + channelColumns + `
		FROM channels c
		WHERE c.state = 'parsed' AND (c.update_date IS NULL OR c.update_date < $1)
		  AND ($2::text = '' OR (COALESCE(c.update_date, '-infinity'::timestamptz), c.id)
		      > (COALESCE($3::timestamptz, '-infinity'::timestamptz), $2::text))
		ORDER BY COALESCE(c.update_date, '-infinity'::timestamptz), c.id
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query, before, after.ID, after.UpdateDate, limit)
	if err != nil {
		return nil, db.WrapError(err, "list channels due for recrawl")
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *channelRepository) CountByState(ctx context.Context) (map[models.State]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT state::text, COUNT(*) FROM channels GROUP BY state`)
	if err != nil {
		return nil, db.WrapError(err, "count channels by state")
	}
	defer rows.Close()

	counts := make(map[models.State]int, len(models.States))
	for _, st := range models.States {
		counts[st] = 0
	}

	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan channel count: %w", err)
		}
		counts[models.State(state)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel counts: %w", err)
	}

	return counts, nil
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	channel := &models.Channel{}
	var state string
	err := row.Scan(
		&channel.ID,
		&state,
		&channel.Data,
		&channel.Videos,
		&channel.DontDownload,
		&channel.UpdateDate,
		&channel.CreatedAt,
		&channel.UpdatedAt,
		&channel.Relations,
	)
	if err != nil {
		return nil, err
	}
	channel.State = models.State(state)
	if channel.Videos == nil {
		channel.Videos = []models.BasicVideo{}
	}
	return channel, nil
}

// Helper function to scan multiple channels from query results
func scanChannels(rows pgx.Rows) ([]*models.Channel, error) {
	var channels []*models.Channel

	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}

	return channels, nil
}

func nonNilVideos(videos []models.BasicVideo) []models.BasicVideo {
	if videos == nil {
		return []models.BasicVideo{}
	}
	return videos
}
