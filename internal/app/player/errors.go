package player

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Code is a user-facing error code returned by commands.
type Code string

const (
	CodeTrackNotFound    Code = "track_not_found"
	CodeUnplayableTrack  Code = "unplayable_track"
	CodePlaybackFailed   Code = "playback_failed"
	CodeUnauthenticated  Code = "unauthenticated"
	CodePlaylistNotFound Code = "playlist_not_found"
	CodeRefreshFailed    Code = "refresh_failed"
	CodeSearchFailed     Code = "search_failed"
	CodeMutationFailed   Code = "mutation_failed"
	CodeQueueEmpty       Code = "queue_empty"
	CodeInvalidArgument  Code = "invalid_argument"
	CodeClosed           Code = "closed"
)

// CommandError is the only error type returned by Player commands.
type CommandError struct {
	Code Code
	Err  error
}

func (e *CommandError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Message returns the text shown to the listener.
func (e *CommandError) Message() string {
	switch e.Code {
	case CodeTrackNotFound:
		return "Track not found"
	case CodeUnplayableTrack:
		return "This track cannot be played"
	case CodePlaybackFailed:
		return "Playback failed"
	case CodeUnauthenticated:
		return "Sign in to do this"
	case CodePlaylistNotFound:
		return "Playlist not found"
	case CodeRefreshFailed:
		return "Some content could not be loaded"
	case CodeSearchFailed:
		return "Search failed"
	case CodeMutationFailed:
		return "Your change could not be saved"
	case CodeQueueEmpty:
		return "Nothing to play"
	case CodeInvalidArgument:
		return "Invalid request"
	case CodeClosed:
		return "Player is shutting down"
	default:
		return "Something went wrong"
	}
}

// CodeOf returns the code of a command error, or "" for any other error.
func CodeOf(err error) Code {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func commandError(code Code, err error) *CommandError {
	return &CommandError{Code: code, Err: err}
}
