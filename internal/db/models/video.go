package models

import "time"

// Comment is a single top-level comment on a video.
type Comment struct {
	AuthorID string `json:"authorId"`
	Author   string `json:"author"`
	Text     string `json:"content,omitempty"`
}

// VideoData is the fetched video payload.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type VideoData struct {
	Title         string      `json:"title"`
	ChannelID     string      `json:"authorId"`
	Uploader      string      `json:"author"`
	Description   string      `json:"description,omitempty"`
	LengthSeconds int         `json:"lengthSeconds"`
	UploadDate    *time.Time  `json:"published,omitempty"`
	ViewCount     int64       `json:"viewCount"`
	CommentCount  int64       `json:"commentCount"`
	Thumbnails    []Thumbnail `json:"videoThumbnails,omitempty"`
	Comments      []Comment   `json:"comments"`
}

// CommentAuthorIDs returns the distinct comment author ids in first-seen order.
func (d *VideoData) CommentAuthorIDs() []string {
	seen := make(map[string]struct{}, len(d.Comments))
	ids := make([]string, 0, len(d.Comments))
	for _, c := range d.Comments {
		if c.AuthorID == "" {
			continue
		}
		if _, ok := seen[c.AuthorID]; ok {
			continue
		}
		seen[c.AuthorID] = struct{}{}
		ids = append(ids, c.AuthorID)
	}
	return ids
}

// Video is an archived video. Titles is an append-only history of observed
// titles, never holding the same title twice in a row.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Video struct {
	ID               string    `json:"videoId"`
	ChannelID        string    `json:"channelId"`
	Titles           []string  `json:"titles"`
	Data             VideoData `json:"data"`
	ParsedCommenters bool      `json:"parsedCommenters"`
	Downloaded       bool      `json:"downloaded"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NewVideo creates a video record with a single-entry title history.
func NewVideo(id, channelID, title string, data VideoData, parsedCommenters bool) *Video {
	now := time.Now()
	if data.Comments == nil {
		data.Comments = []Comment{}
	}
	return &Video{
		ID:               id,
		ChannelID:        channelID,
		Titles:           []string{title},
		Data:             data,
		ParsedCommenters: parsedCommenters,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// AppendTitle records title unless it equals the latest entry. It reports
// whether the history changed.
func (v *Video) AppendTitle(title string) bool {
	if n := len(v.Titles); n > 0 && v.Titles[n-1] == title {
		return false
	}
	v.Titles = append(v.Titles, title)
	return true
}

// Title returns the most recently observed title.
func (v *Video) Title() string {
	if len(v.Titles) == 0 {
		return ""
	}
	return v.Titles[len(v.Titles)-1]
}

// VideoCounts summarizes the video archive.
type VideoCounts struct {
	Total      int `json:"total"`
	Downloaded int `json:"downloaded"`
}
