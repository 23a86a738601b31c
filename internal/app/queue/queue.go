// Package queue provides the play queue: working and original order, current
// position, shuffle and repeat.
//
// A Queue only stores track ids and is not safe for concurrent use; the
// player serializes access to it.
package queue

import (
	"math/rand/v2"
	"slices"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

var (
	// ErrEmptySelection is returned when Load gets no selected track.
	ErrEmptySelection = errors.New("no track selected")
	// ErrInvalidState is returned by Restore for inconsistent state.
	ErrInvalidState = errors.New("invalid queue state")
)

// ShuffleFunc shuffles ids in place.
type ShuffleFunc func(ids []string)

// DefaultShuffle is a Fisher-Yates shuffle backed by math/rand/v2.
func DefaultShuffle(ids []string) {
	rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}

// Queue is the ordered play queue.
type Queue struct {
	order    []string // working order
	original []string // user supplied order
	index    int      // -1 when nothing is selected
	shuffled bool
	repeat   RepeatMode
	shuffle  ShuffleFunc
}

// Option configures a Queue.
type Option func(*Queue)

// WithShuffleFunc replaces the shuffle implementation.
func WithShuffleFunc(f ShuffleFunc) Option {
	return func(q *Queue) {
		q.shuffle = f
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		index:   -1,
		shuffle: DefaultShuffle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load replaces the queue with ids and selects the given track. The ids become
// the original order. If selected is not part of ids it is put in front.
// Returns the selected id.
func (q *Queue) Load(ids []string, selected string) (string, error) {
	if selected == "" {
		return "", ErrEmptySelection
	}

	original := slices.Clone(ids)
	if !slices.Contains(original, selected) {
		original = append([]string{selected}, original...)
	}
	q.original = original

	if q.shuffled {
		q.order = q.pinned(selected)
		q.index = 0
	} else {
		q.order = slices.Clone(original)
		q.index = slices.Index(q.order, selected)
	}

	zlog.Debug().Msgf("queue: loaded: size=%d index=%d shuffled=%v", len(q.order), q.index, q.shuffled)
	return selected, nil
}

// pinned returns selected followed by a shuffled copy of the other tracks of
// the original order.
func (q *Queue) pinned(selected string) []string {
	rest := make([]string, 0, len(q.original))
	skipped := false
	for _, id := range q.original {
		if id == selected && !skipped {
			skipped = true
			continue
		}
		rest = append(rest, id)
	}
	q.shuffle(rest)
	return append([]string{selected}, rest...)
}

// Current returns the id at the current index.
func (q *Queue) Current() (string, bool) {
	if q.index < 0 || q.index >= len(q.order) {
		return "", false
	}
	return q.order[q.index], true
}

// Index returns the current index, or -1.
func (q *Queue) Index() int {
	return q.index
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.order)
}

// Order returns a copy of the working order.
func (q *Queue) Order() []string {
	return slices.Clone(q.order)
}

// Original returns a copy of the original order.
func (q *Queue) Original() []string {
	return slices.Clone(q.original)
}

// Shuffled reports whether shuffle is on.
func (q *Queue) Shuffled() bool {
	return q.shuffled
}

// Repeat returns the repeat mode.
func (q *Queue) Repeat() RepeatMode {
	return q.repeat
}

// OnTrackEnd decides what follows a naturally ended track.
func (q *Queue) OnTrackEnd() Action {
	if q.repeat == RepeatOne && q.index >= 0 {
		return ActionReplay
	}
	return q.advance()
}

// Next moves to the following track. Unlike OnTrackEnd it always advances,
// even under RepeatOne.
func (q *Queue) Next() Action {
	return q.advance()
}

func (q *Queue) advance() Action {
	if len(q.order) == 0 {
		return ActionStop
	}
	next := q.index + 1
	if next >= len(q.order) {
		if q.repeat != RepeatAll {
			return ActionStop
		}
		next = 0
	}
	q.index = next
	return ActionPlay
}

// Previous moves to the preceding track, wrapping under RepeatAll and
// clamping to the first track otherwise.
func (q *Queue) Previous() Action {
	if len(q.order) == 0 {
		return ActionStop
	}
	prev := q.index - 1
	if prev < 0 {
		if q.repeat == RepeatAll {
			prev = len(q.order) - 1
		} else {
			prev = 0
		}
	}
	q.index = prev
	return ActionPlay
}

// ToggleShuffle flips shuffle and returns the new state. Turning it on keeps
// the current track at index 0; turning it off restores the original order
// and points at the current track there, or at index 0 if it is not found.
func (q *Queue) ToggleShuffle() bool {
	current, hasCurrent := q.Current()
	q.shuffled = !q.shuffled

	if len(q.original) == 0 {
		return q.shuffled
	}

	if q.shuffled {
		if hasCurrent {
			q.order = q.pinned(current)
			q.index = 0
		} else {
			q.order = slices.Clone(q.original)
			q.shuffle(q.order)
		}
		return true
	}

	q.order = slices.Clone(q.original)
	q.index = -1
	if hasCurrent {
		q.index = slices.Index(q.order, current)
		if q.index < 0 {
			zlog.Warn().Msgf("queue: current track missing from original order, falling back to first track: track=%s", current)
			q.index = 0
		}
	}
	return false
}

// CycleRepeat advances the repeat mode and returns it.
func (q *Queue) CycleRepeat() RepeatMode {
	q.repeat = q.repeat.Next()
	return q.repeat
}

// SetRepeat sets the repeat mode.
func (q *Queue) SetRepeat(mode RepeatMode) {
	q.repeat = mode
}

// Enqueue appends ids to both orders without changing the current track.
func (q *Queue) Enqueue(ids ...string) {
	q.original = append(q.original, ids...)
	q.order = append(q.order, ids...)
}

// Remove drops every occurrence of id. It reports whether the current track
// was removed; the index then points at the track that followed it.
func (q *Queue) Remove(id string) bool {
	q.original = slices.DeleteFunc(q.original, func(s string) bool { return s == id })

	removedCurrent := false
	order := make([]string, 0, len(q.order))
	index := q.index
	for i, s := range q.order {
		if s != id {
			order = append(order, s)
			continue
		}
		switch {
		case i < q.index:
			index--
		case i == q.index:
			removedCurrent = true
		}
	}
	q.order = order

	if index >= len(q.order) {
		index = len(q.order) - 1
	}
	q.index = index
	return removedCurrent
}

// Clear empties the queue, keeping shuffle and repeat settings.
func (q *Queue) Clear() {
	q.order = nil
	q.original = nil
	q.index = -1
}

// State is a serializable snapshot of the queue.
type State struct {
	Order    []string
	Original []string
	Index    int
	Shuffled bool
	Repeat   RepeatMode
}

// State returns a snapshot of the queue.
func (q *Queue) State() State {
	return State{
		Order:    q.Order(),
		Original: q.Original(),
		Index:    q.index,
		Shuffled: q.shuffled,
		Repeat:   q.repeat,
	}
}

// Restore replaces the queue with a saved snapshot.
func (q *Queue) Restore(s State) error {
	if s.Index < -1 || s.Index >= len(s.Order) {
		return errors.Wrapf(ErrInvalidState, "index %d out of range for %d tracks", s.Index, len(s.Order))
	}
	if len(s.Order) > 0 && s.Index == -1 {
		s.Index = 0
	}
	original := s.Original
	if len(original) == 0 {
		original = s.Order
	}
	q.order = slices.Clone(s.Order)
	q.original = slices.Clone(original)
	q.index = s.Index
	q.shuffled = s.Shuffled
	q.repeat = s.Repeat
	return nil
}
