package service

import (
	"errors"
	"fmt"

	"github.com/ytarchiver/channel-archiver/internal/db/models"
)

var (
	// ErrInvalidTransition is returned when a channel is not in the state a
	// transition starts from. The store is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrChannelExists is matched by *ChannelExistsError.
	ErrChannelExists = errors.New("channel already exists")

	// ErrInvalidDestination is returned for an unknown move destination.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrQueueEmpty is returned when the backlog has no eligible channel.
	ErrQueueEmpty = errors.New("no queued channel available")

	// ErrMaxVideosExceeded is returned by ChannelFetcher.GetVideos when the
	// channel has more videos than the requested cap.
	ErrMaxVideosExceeded = errors.New("channel exceeds max videos")

	// ErrVideoUnavailable marks a video that is private, removed or whose
	// uploader is terminated.
	ErrVideoUnavailable = errors.New("video unavailable")

	// ErrChannelUnavailable marks a channel the source cannot return.
	ErrChannelUnavailable = errors.New("channel unavailable")
)

// ChannelExistsError reports the state an already known channel is in.
type ChannelExistsError struct {
	ID    string
	State models.State
}

func (e *ChannelExistsError) Error() string {
	return fmt.Sprintf("channel %s already exists in state %s", e.ID, e.State)
}

// Is makes errors.Is(err, ErrChannelExists) match.
func (e *ChannelExistsError) Is(target error) bool {
	return target == ErrChannelExists
}

// ValidationError is a malformed request from a collaborator.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
