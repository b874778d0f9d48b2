// Package models contains the request and response DTOs of the HTTP API.
package models

import (
	"time"

	dbmodels "github.com/ytarchiver/channel-archiver/internal/db/models"
)

// MoveChannelRequest is the body of POST /channels/move.
type MoveChannelRequest struct {
	ChannelID   string `json:"channelId" binding:"required"`
	Destination string `json:"destination" binding:"required"`
}

// AddChannelRequest is the body of POST /channels.
type AddChannelRequest struct {
	ChannelID   string `json:"channelId" binding:"required"`
	Destination string `json:"destination" binding:"required"`
}

// SuccessResponse acknowledges a command.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ChannelStateResponse reports where a channel sits in triage. State is
// empty for unknown channels.
type ChannelStateResponse struct {
	ChannelID string         `json:"channelId"`
	State     dbmodels.State `json:"state"`
}

// ChannelListResponse is a page of channels.
type ChannelListResponse struct {
	Channels []*dbmodels.Channel `json:"channels"`
	Count    int                 `json:"count"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}

// VideoInfoResponse joins a recorded video with its channel and the
// channel's list entry for it.
type VideoInfoResponse struct {
	Video      *dbmodels.Video      `json:"video"`
	Channel    *dbmodels.Channel    `json:"channel"`
	BasicVideo *dbmodels.BasicVideo `json:"basicVideo"`
}

// CountsResponse summarizes the archive.
type CountsResponse struct {
	Videos     int                    `json:"videos"`
	Downloaded int                    `json:"downloaded"`
	Channels   int                    `json:"channels"`
	ByState    map[dbmodels.State]int `json:"byState"`
	Backlog    int                    `json:"backlog"`
}

// ErrorResponse represents an error response.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}
