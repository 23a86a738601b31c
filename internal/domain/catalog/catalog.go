// Package catalog defines the contract of the remote catalog: track queries,
// like and playlist mutations, storage URL resolution and play recording.
package catalog

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// ErrNotFound is returned when a mutation targets a missing playlist or track.
var ErrNotFound = errors.New("catalog: not found")

// OrderBy selects the ordering of a track query.
type OrderBy string

const (
	OrderByNewest    OrderBy = "newest"     // release date, newest first
	OrderByPlayCount OrderBy = "play_count" // most played first
	OrderByLikeCount OrderBy = "like_count" // most liked first
	OrderByTitle     OrderBy = "title"
)

// Filter narrows a track query.
type Filter struct {
	PublishedOnly bool
	OrderBy       OrderBy
	Limit         int
}

// Sort orders search results.
type Sort string

const (
	SortRelevance Sort = "relevance"
	SortNewest    Sort = "newest"
	SortPopular   Sort = "popular"
)

// ParseSort maps a user supplied sort key, defaulting to relevance.
func ParseSort(s string) Sort {
	switch Sort(s) {
	case SortNewest, SortPopular:
		return Sort(s)
	default:
		return SortRelevance
	}
}

// Op is a relation mutation.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// Reader runs catalog queries.
type Reader interface {
	QueryTracks(ctx context.Context, filter Filter) ([]track.RawRow, error)
	QueryLikedTracks(ctx context.Context, userID string) ([]track.RawRow, error)
	QueryPlaylists(ctx context.Context, userID string) ([]playlist.Row, error)
	SearchTracks(ctx context.Context, query string, sort Sort, limit int) ([]track.RawRow, error)
}

// Mutator applies relation changes.
type Mutator interface {
	MutateLike(ctx context.Context, userID, trackID string, op Op) error
	MutatePlaylistTrack(ctx context.Context, playlistID, trackID string, op Op) error
	CreatePlaylist(ctx context.Context, userID, title, description string) (playlist.Row, error)
}

// PlayRecorder records play events. Callers treat it as best-effort.
type PlayRecorder interface {
	RecordPlay(ctx context.Context, trackID, artistID string) error
}

// Gateway is the complete catalog surface used by the player.
type Gateway interface {
	Reader
	Mutator
	PlayRecorder
	track.URLResolver
}
