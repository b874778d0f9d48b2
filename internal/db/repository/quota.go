package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ytarchiver/channel-archiver/internal/db"
	"github.com/ytarchiver/channel-archiver/internal/db/models"
)

// QuotaRepository defines operations for managing API quota usage
type QuotaRepository interface {
	// GetTodaysQuota retrieves today's quota usage
	GetTodaysQuota(ctx context.Context) (*models.QuotaInfo, error)

	// IncrementQuota increments today's quota usage
	IncrementQuota(ctx context.Context, quotaCost int, operationType string) error

	// GetQuotaForDate retrieves quota usage for a specific date
	GetQuotaForDate(ctx context.Context, date time.Time) (*models.APIQuotaUsage, error)
}

type quotaRepository struct {
	pool *pgxpool.Pool
}

// NewQuotaRepository creates a new QuotaRepository
func NewQuotaRepository(pool *pgxpool.Pool) QuotaRepository {
	return &quotaRepository{pool: pool}
}

func (r *quotaRepository) GetTodaysQuota(ctx context.Context) (*models.QuotaInfo, error) {
	info := &models.QuotaInfo{}
	err := r.pool.QueryRow(ctx, `SELECT * FROM get_todays_quota_usage()`).Scan(
		&info.QuotaUsed,
		&info.QuotaLimit,
		&info.QuotaRemaining,
		&info.OperationsCount,
	)

	if err != nil {
		return nil, db.WrapError(err, "get todays quota")
	}

	return info, nil
}

func (r *quotaRepository) IncrementQuota(ctx context.Context, quotaCost int, operationType string) error {
	if operationType == "" {
		operationType = "other"
	}

	_, err := r.pool.Exec(ctx, `SELECT increment_quota_usage($1, $2)`, quotaCost, operationType)
	if err != nil {
		return db.WrapError(err, "increment quota")
	}

	return nil
}

func (r *quotaRepository) GetQuotaForDate(ctx context.Context, date time.Time) (*models.APIQuotaUsage, error) {
	query := `
		SELECT id, date, quota_used, quota_limit, operations_count,
		       channels_list_calls, playlist_items_calls, videos_list_calls,
		       comment_threads_calls, other_calls, created_at, updated_at
		FROM api_quota_usage
		WHERE date = $1
	`

	usage := &models.APIQuotaUsage{}
	err := r.pool.QueryRow(ctx, query, date.UTC().Truncate(24*time.Hour)).Scan(
		&usage.ID,
		&usage.Date,
		&usage.QuotaUsed,
		&usage.QuotaLimit,
		&usage.OperationsCount,
		&usage.ChannelsListCalls,
		&usage.PlaylistCalls,
		&usage.VideosListCalls,
		&usage.CommentCalls,
		&usage.OtherCalls,
		&usage.CreatedAt,
		&usage.UpdatedAt,
	)

	if err != nil {
		return nil, db.WrapError(err, "get quota for date")
	}

	return usage, nil
}
