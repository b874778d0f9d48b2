package queue

import (
	"encoding/json"
	"fmt"
)

// Task types
const (
	// TypeDownloadVideo is consumed by the download workers.
	TypeDownloadVideo = "download:video"
	// TypeDownloadCompleted is sent back by the download workers once a
	// video file is stored.
	TypeDownloadCompleted = "download:completed"
)

// DownloadVideoPayload is the payload for download tasks
type DownloadVideoPayload struct {
	VideoID   string                 `json:"video_id"`
	ChannelID string                 `json:"channel_id"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// NewDownloadVideoTask creates a new download task payload
func NewDownloadVideoTask(videoID, channelID string, metadata map[string]interface{}) (*DownloadVideoPayload, error) {
	if videoID == "" {
		return nil, fmt.Errorf("video ID is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("channel ID is required")
	}

	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &DownloadVideoPayload{
		VideoID:   videoID,
		ChannelID: channelID,
		Metadata:  metadata,
	}, nil
}

// Marshal serializes the payload to JSON
func (p *DownloadVideoPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalDownloadVideoPayload deserializes JSON to payload
func UnmarshalDownloadVideoPayload(data []byte) (*DownloadVideoPayload, error) {
	var payload DownloadVideoPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}

// DownloadCompletedPayload reports a finished download.
type DownloadCompletedPayload struct {
	VideoID   string `json:"video_id"`
	ChannelID string `json:"channel_id"`
	Path      string `json:"path,omitempty"`
}

// Marshal serializes the payload to JSON
func (p *DownloadCompletedPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalDownloadCompletedPayload deserializes and checks a completion.
func UnmarshalDownloadCompletedPayload(data []byte) (*DownloadCompletedPayload, error) {
	var payload DownloadCompletedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.VideoID == "" || payload.ChannelID == "" {
		return nil, fmt.Errorf("completion payload needs video_id and channel_id")
	}
	return &payload, nil
}
