package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	videoIDRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	channelIDRegex = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)
	handleRegex    = regexp.MustCompile(`^@?[a-zA-Z0-9._-]{3,30}$`)
)

// RefKind says how a channel reference names its channel.
type RefKind string

// Reference kinds, one per supported URL shape.
const (
	RefID     RefKind = "id"
	RefHandle RefKind = "handle"
	RefUser   RefKind = "user"
	RefCustom RefKind = "custom"
)

// ChannelRef is a parsed channel id or channel URL.
type ChannelRef struct {
	Kind  RefKind
	Value string
}

var urlMarkers = []struct {
	marker string
	kind   RefKind
}{
	{"/channel/", RefID},
	{"/user/", RefUser},
	{"/c/", RefCustom},
	{"/@", RefHandle},
}

// ParseChannelRef accepts a bare channel id, an @handle or a channel URL in
// one of the /channel/, /user/, /c/ or /@ forms.
func ParseChannelRef(input string) (ChannelRef, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return ChannelRef{}, fmt.Errorf("channel reference is empty")
	}

	for _, m := range urlMarkers {
		idx := strings.Index(input, m.marker)
		if idx == -1 {
			continue
		}
		value := input[idx+len(m.marker):]
		if end := strings.IndexAny(value, "/?#"); end != -1 {
			value = value[:end]
		}
		if value == "" {
			return ChannelRef{}, fmt.Errorf("channel URL %q has no name after %s", input, m.marker)
		}
		if m.kind == RefID && !channelIDRegex.MatchString(value) {
			return ChannelRef{}, fmt.Errorf("invalid channel ID format: %s", value)
		}
		if m.kind == RefHandle {
			value = "@" + value
		}
		return ChannelRef{Kind: m.kind, Value: value}, nil
	}

	switch {
	case channelIDRegex.MatchString(input):
		return ChannelRef{Kind: RefID, Value: input}, nil
	case strings.HasPrefix(input, "@") && handleRegex.MatchString(input):
		return ChannelRef{Kind: RefHandle, Value: input}, nil
	}

	return ChannelRef{}, fmt.Errorf("unrecognized channel reference: %s", input)
}

// Validator checks identifiers received over the API. A disabled validator
// only rejects empty values.
type Validator struct {
	validationEnabled bool
}

func New(enabled bool) *Validator {
	return &Validator{validationEnabled: enabled}
}

func (v *Validator) ValidateChannelID(channelID string) error {
	if channelID == "" {
		return fmt.Errorf("channel ID is required")
	}
	if v.validationEnabled && !channelIDRegex.MatchString(channelID) {
		return fmt.Errorf("invalid channel ID format: %s", channelID)
	}
	return nil
}

func (v *Validator) ValidateVideoID(videoID string) error {
	if videoID == "" {
		return fmt.Errorf("video ID is required")
	}
	if v.validationEnabled && !videoIDRegex.MatchString(videoID) {
		return fmt.Errorf("invalid video ID format: %s", videoID)
	}
	return nil
}

func (v *Validator) IsValidVideoID(videoID string) bool {
	return videoIDRegex.MatchString(videoID)
}

func (v *Validator) IsValidChannelID(channelID string) bool {
	return channelIDRegex.MatchString(channelID)
}
