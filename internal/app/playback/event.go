package playback

import "github.com/osa030/19tune/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted  EventType = iota // Device confirmed playback of a new track
	EventTrackEnded                     // Device reported end of track
	EventStateChanged                   // Playback state changed
	EventPlaybackError                  // Device failed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventStateChanged:
		return "state_changed"
	case EventPlaybackError:
		return "playback_error"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	Track *track.Track // Current track (nil when idle)
	State State
	Err   error // set for EventPlaybackError
}
