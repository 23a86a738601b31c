// Package session defines the persisted listening session: the queue, the
// transport settings and the recently played list of one listener.
package session

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19tune/internal/domain/track"
)

// ErrNotFound is returned when no session was saved for a listener.
var ErrNotFound = errors.New("session not found")

// State is a saved listening session.
type State struct {
	UserID         string        `json:"user_id"`
	Order          []string      `json:"order"`
	Original       []string      `json:"original"`
	Index          int           `json:"index"`
	Shuffled       bool          `json:"shuffled"`
	Repeat         string        `json:"repeat"`
	Volume         float64       `json:"volume"`
	Position       time.Duration `json:"position"`
	RecentlyPlayed []string      `json:"recently_played"`
	// Tracks holds every track referenced above so a session can be restored
	// before the catalog is refreshed.
	Tracks  []track.Track `json:"tracks"`
	SavedAt time.Time     `json:"saved_at"`
}

// Store persists sessions. Save may be asynchronous; Close flushes.
type Store interface {
	Load(ctx context.Context, userID string) (State, error)
	Save(state State)
	Close() error
}

// PendingScrobble is a play that could not be submitted yet.
type PendingScrobble struct {
	ID        int64
	TrackID   string
	Artist    string
	Title     string
	Album     string
	Duration  time.Duration
	StartedAt time.Time
	Attempts  int
	LastError string
}

// ScrobbleQueue keeps failed scrobbles for a later retry.
type ScrobbleQueue interface {
	AddPendingScrobble(ctx context.Context, s PendingScrobble) error
	PendingScrobbles(ctx context.Context, limit int) ([]PendingScrobble, error)
	DeletePendingScrobble(ctx context.Context, id int64) error
	MarkScrobbleFailed(ctx context.Context, id int64, reason string) error
}
