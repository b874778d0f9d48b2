package models

import (
	"fmt"
	"time"
)

// State is the triage position of a channel. A channel id is in exactly one
// state at a time.
type State string

// Channel states.
const (
	StateQueued   State = "queued"
	StateAccepted State = "accepted"
	StateRejected State = "rejected"
	StateFiltered State = "filtered"
	StateParsed   State = "parsed"
)

// States lists every state in lifecycle order.
var States = []State{StateQueued, StateAccepted, StateRejected, StateFiltered, StateParsed}

// ParseState validates a state name.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown channel state %q", s)
}

// Thumbnail is a sized image reference.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int64  `json:"width,omitempty"`
	Height int64  `json:"height,omitempty"`
}

// ChannelData is the fetched channel payload. A non-empty AlertMessage marks
// a soft failure (terminated, unavailable) reported by the source.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ChannelData struct {
	Author           string      `json:"author"`
	AuthorID         string      `json:"authorId"`
	AuthorURL        string      `json:"authorUrl,omitempty"`
	AuthorThumbnails []Thumbnail `json:"authorThumbnails,omitempty"`
	SubscriberCount  int64       `json:"subCount"`
	VideoCount       int64       `json:"videoCount,omitempty"`
	Description      string      `json:"description,omitempty"`
	AlertMessage     string      `json:"alertMessage,omitempty"`
	UploadsPlaylist  string      `json:"uploadsPlaylist,omitempty"`
}

// Unavailable reports whether the payload is a soft failure.
func (d *ChannelData) Unavailable() bool {
	return d == nil || d.AlertMessage != ""
}

// BasicVideo is the lightweight entry stored in a channel's video list.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type BasicVideo struct {
	VideoID       string      `json:"videoId"`
	Title         string      `json:"title"`
	LengthSeconds int         `json:"lengthSeconds"`
	LiveNow       bool        `json:"liveNow"`
	Thumbnails    []Thumbnail `json:"videoThumbnails,omitempty"`
	PublishedText string      `json:"publishedText,omitempty"`
	PublishedAt   *time.Time  `json:"published,omitempty"`
	ViewCount     int64       `json:"viewCount"`
	FromPlaylist  bool        `json:"fromPlaylist,omitempty"`
	Downloaded    bool        `json:"downloaded"`
}

// Channel is a channel record in any triage state.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Channel struct {
	ID           string       `json:"id"`
	State        State        `json:"state"`
	Data         ChannelData  `json:"data"`
	Videos       []BasicVideo `json:"videos"`
	Relations    []string     `json:"relations"`
	DontDownload bool         `json:"dontDownload"`
	UpdateDate   *time.Time   `json:"updateDate,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// NewChannel creates a channel record in the given state.
func NewChannel(id string, state State, data ChannelData, videos []BasicVideo) *Channel {
	now := time.Now()
	if videos == nil {
		videos = []BasicVideo{}
	}
	return &Channel{
		ID:        id,
		State:     state,
		Data:      data,
		Videos:    videos,
		Relations: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasVideo reports whether id is in the channel's video list.
func (c *Channel) HasVideo(id string) bool {
	for i := range c.Videos {
		if c.Videos[i].VideoID == id {
			return true
		}
	}
	return false
}

// BacklogCandidate is a queued channel with the counts the backlog ranks by.
type BacklogCandidate struct {
	ID            string
	RelationCount int
	VideoCount    int
	CreatedAt     time.Time
}
