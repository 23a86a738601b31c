// Package playback provides the playback engine: a state machine around a
// single audio device handle.
package playback

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // No handle allocated
	StateLoading              // Handle being created for a new track
	StatePlaying              // Device reports playing
	StatePaused               // Device reports paused
	StateEnded                // Device reported end of track
	StateError                // Device failed to load or play
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// transitions lists the states reachable from each state.
// Every state may go back to Idle when the handle is released.
var transitions = map[State][]State{
	StateIdle:    {StateLoading},
	StateLoading: {StateLoading, StatePlaying, StatePaused, StateEnded, StateError},
	StatePlaying: {StateLoading, StatePaused, StateEnded, StateError},
	StatePaused:  {StateLoading, StatePlaying, StateEnded, StateError},
	StateEnded:   {StateLoading, StatePlaying, StatePaused, StateError},
	StateError:   {StateLoading},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	if from == to || to == StateIdle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HasHandle reports whether a device handle exists in this state.
func (s State) HasHandle() bool {
	switch s {
	case StatePlaying, StatePaused, StateEnded, StateLoading:
		return true
	default:
		return false
	}
}
