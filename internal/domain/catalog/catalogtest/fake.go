// Package catalogtest provides an in-memory catalog gateway for tests.
package catalogtest

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// Call is a recorded mutation or play event.
type Call struct {
	Method string
	Subject string // user or playlist id
	TrackID string
	Op      catalog.Op
}

// Gateway is an in-memory catalog.Gateway. Zero value is not usable; use New.
type Gateway struct {
	mu sync.Mutex

	// Rows returned by QueryTracks, keyed by ordering.
	ByOrder map[catalog.OrderBy][]track.RawRow
	// Liked rows per user.
	Liked map[string][]track.RawRow
	// Playlists per user.
	Playlists map[string][]playlist.Row
	// Search corpus.
	Corpus []track.RawRow

	// Errors returned by the method with the same name.
	Errs map[string]error
	// Gate, when set, blocks the named method until a value is received.
	Gate map[string]chan struct{}

	calls []Call
}

var _ catalog.Gateway = (*Gateway)(nil)

// New creates an empty fake gateway.
func New() *Gateway {
	return &Gateway{
		ByOrder:   make(map[catalog.OrderBy][]track.RawRow),
		Liked:     make(map[string][]track.RawRow),
		Playlists: make(map[string][]playlist.Row),
		Errs:      make(map[string]error),
		Gate:      make(map[string]chan struct{}),
	}
}

// SetErr configures the error returned by method.
func (g *Gateway) SetErr(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Errs[method] = err
}

// Block makes method wait until Release is called. Each Release lets one call pass.
func (g *Gateway) Block(method string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Gate[method] = make(chan struct{})
}

// Release lets one blocked call of method continue.
func (g *Gateway) Release(method string) {
	g.mu.Lock()
	ch := g.Gate[method]
	g.mu.Unlock()
	if ch != nil {
		ch <- struct{}{}
	}
}

// Unblock lets every pending and future call of method pass.
func (g *Gateway) Unblock(method string) {
	g.mu.Lock()
	ch := g.Gate[method]
	delete(g.Gate, method)
	g.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Calls returns the recorded calls of method, or of every method if empty.
func (g *Gateway) Calls(method string) []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Call
	for _, c := range g.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) enter(ctx context.Context, method string) error {
	g.mu.Lock()
	ch := g.Gate[method]
	err := g.Errs[method]
	g.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (g *Gateway) record(c Call) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)
}

func (g *Gateway) QueryTracks(ctx context.Context, filter catalog.Filter) ([]track.RawRow, error) {
	if err := g.enter(ctx, "QueryTracks"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	rows := g.ByOrder[filter.OrderBy]
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}
	return append([]track.RawRow(nil), rows...), nil
}

func (g *Gateway) QueryLikedTracks(ctx context.Context, userID string) ([]track.RawRow, error) {
	if err := g.enter(ctx, "QueryLikedTracks"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]track.RawRow(nil), g.Liked[userID]...), nil
}

func (g *Gateway) QueryPlaylists(ctx context.Context, userID string) ([]playlist.Row, error) {
	if err := g.enter(ctx, "QueryPlaylists"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]playlist.Row(nil), g.Playlists[userID]...), nil
}

func (g *Gateway) SearchTracks(ctx context.Context, query string, sort catalog.Sort, limit int) ([]track.RawRow, error) {
	if err := g.enter(ctx, "SearchTracks"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	q := strings.ToLower(query)
	var out []track.RawRow
	for _, row := range g.Corpus {
		if strings.Contains(strings.ToLower(row.Title), q) || strings.Contains(strings.ToLower(row.ArtistName), q) {
			out = append(out, row)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *Gateway) MutateLike(ctx context.Context, userID, trackID string, op catalog.Op) error {
	g.record(Call{Method: "MutateLike", Subject: userID, TrackID: trackID, Op: op})
	return g.enter(ctx, "MutateLike")
}

func (g *Gateway) MutatePlaylistTrack(ctx context.Context, playlistID, trackID string, op catalog.Op) error {
	g.record(Call{Method: "MutatePlaylistTrack", Subject: playlistID, TrackID: trackID, Op: op})
	return g.enter(ctx, "MutatePlaylistTrack")
}

func (g *Gateway) CreatePlaylist(ctx context.Context, userID, title, description string) (playlist.Row, error) {
	if err := g.enter(ctx, "CreatePlaylist"); err != nil {
		return playlist.Row{}, err
	}
	if title == "" {
		return playlist.Row{}, errors.New("title is required")
	}
	row := playlist.Row{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		OwnerID:     userID,
	}
	g.mu.Lock()
	g.Playlists[userID] = append(g.Playlists[userID], row)
	g.mu.Unlock()
	g.record(Call{Method: "CreatePlaylist", Subject: userID})
	return row, nil
}

func (g *Gateway) RecordPlay(ctx context.Context, trackID, artistID string) error {
	g.record(Call{Method: "RecordPlay", Subject: artistID, TrackID: trackID})
	return g.enter(ctx, "RecordPlay")
}

func (g *Gateway) ResolvePublicURL(bucket, path string) string {
	return "https://storage.test/" + bucket + "/" + path
}

// Row builds a minimal playable raw row.
func Row(id string) track.RawRow {
	return track.RawRow{
		ID:         id,
		Title:      "Title " + id,
		ArtistID:   "artist-" + id,
		ArtistName: "Artist " + id,
		AudioPath:  id + ".mp3",
	}
}
