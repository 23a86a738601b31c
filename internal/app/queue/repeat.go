package queue

import "github.com/cockroachdb/errors"

// RepeatMode represents the repeat behavior at the end of a track.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatOff:
		return "off"
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "unknown"
	}
}

// Next returns the following mode in the off -> all -> one -> off cycle.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatOff
	}
}

// ParseRepeatMode parses the string form of a repeat mode.
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "off", "":
		return RepeatOff, nil
	case "all":
		return RepeatAll, nil
	case "one":
		return RepeatOne, nil
	default:
		return RepeatOff, errors.Newf("unknown repeat mode: %q", s)
	}
}

// Action tells the caller what to do with the audio device after a queue move.
type Action int

const (
	// ActionPlay plays the (new) current track.
	ActionPlay Action = iota
	// ActionReplay restarts the current track from position 0.
	ActionReplay
	// ActionStop stops playback; the index is left unchanged.
	ActionStop
)

// String returns the string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionPlay:
		return "play"
	case ActionReplay:
		return "replay"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}
