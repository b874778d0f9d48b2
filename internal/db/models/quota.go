package models

import "time"

// APIQuotaUsage tracks daily YouTube API quota consumption.
type APIQuotaUsage struct {
	Date              time.Time `json:"date"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	ID                int64     `json:"id"`
	QuotaUsed         int       `json:"quota_used"`
	QuotaLimit        int       `json:"quota_limit"`
	OperationsCount   int       `json:"operations_count"`
	ChannelsListCalls int       `json:"channels_list_calls"`
	PlaylistCalls     int       `json:"playlist_items_calls"`
	VideosListCalls   int       `json:"videos_list_calls"`
	CommentCalls      int       `json:"comment_threads_calls"`
	OtherCalls        int       `json:"other_calls"`
}

// QuotaInfo provides current quota status.
type QuotaInfo struct {
	QuotaUsed       int `json:"quota_used"`
	QuotaLimit      int `json:"quota_limit"`
	QuotaRemaining  int `json:"quota_remaining"`
	OperationsCount int `json:"operations_count"`
}
