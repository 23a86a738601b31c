// Package library keeps the client-side library cache: one track-keyed map
// and id-based views over it (trending, new releases, recently played, liked
// songs, playlists), plus the reconciler that applies like and playlist
// mutations optimistically and syncs them to the catalog.
package library

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

var (
	ErrUnknownTrack    = errors.New("unknown track")
	ErrUnknownPlaylist = errors.New("unknown playlist")
)

// DefaultRecentLimit bounds the recently played view.
const DefaultRecentLimit = 20

// View names an id-based list over the store.
type View int

const (
	ViewTrending View = iota
	ViewNewReleases
	ViewRecentlyPlayed
	ViewLikedSongs
)

// String returns the string representation of the view.
func (v View) String() string {
	switch v {
	case ViewTrending:
		return "trending"
	case ViewNewReleases:
		return "new_releases"
	case ViewRecentlyPlayed:
		return "recently_played"
	case ViewLikedSongs:
		return "liked_songs"
	default:
		return "unknown"
	}
}

// Store is the single source of truth for track data. Views hold ids only;
// IsLiked is derived from the like set on every read.
type Store struct {
	mu sync.RWMutex

	tracks    map[string]track.Track
	liked     track.LikeSet
	views     map[View][]string
	playlists map[string]playlist.Playlist
	plOrder   []string

	// pendingLikes holds like changes not yet confirmed by the catalog.
	pendingLikes map[string]bool

	recentLimit int
}

// NewStore creates an empty store.
func NewStore(recentLimit int) *Store {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &Store{
		tracks:       make(map[string]track.Track),
		liked:        make(track.LikeSet),
		views:        make(map[View][]string),
		playlists:    make(map[string]playlist.Playlist),
		pendingLikes: make(map[string]bool),
		recentLimit:  recentLimit,
	}
}

// Put inserts or replaces tracks. The like status of the values is ignored.
func (s *Store) Put(tracks ...track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(tracks)
}

func (s *Store) putLocked(tracks []track.Track) {
	for _, t := range tracks {
		s.tracks[t.ID] = t
	}
}

// Track returns a track by id.
func (s *Store) Track(id string) (track.Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackLocked(id)
}

func (s *Store) trackLocked(id string) (track.Track, bool) {
	t, ok := s.tracks[id]
	if !ok {
		return track.Track{}, false
	}
	return t.WithLiked(s.liked.Has(id)), true
}

// Tracks resolves ids in order, skipping unknown ones.
func (s *Store) Tracks(ids []string) []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracksLocked(ids)
}

func (s *Store) tracksLocked(ids []string) []track.Track {
	out := make([]track.Track, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.trackLocked(id); ok {
			out = append(out, t)
		}
	}
	return out
}

// SetView replaces a view wholesale. Use SetLikedSongs for the liked view.
func (s *Store) SetView(v View, tracks []track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(tracks)
	s.views[v] = track.IDs(tracks)
}

// SetViewIDs replaces a view with ids of tracks already in the store.
func (s *Store) SetViewIDs(v View, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[v] = slices.Clone(ids)
}

// View resolves a view.
func (s *Store) View(v View) []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracksLocked(s.views[v])
}

// ViewIDs returns the ids of a view.
func (s *Store) ViewIDs(v View) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.views[v])
}

// SetLikedSongs replaces the like set and the liked view. Like changes still
// waiting for the catalog are applied on top of tracks.
func (s *Store) SetLikedSongs(tracks []track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(tracks)
	ids := track.IDs(tracks)
	s.liked = track.NewLikeSet(ids...)
	s.views[ViewLikedSongs] = ids
	for id, liked := range s.pendingLikes {
		s.setLikedLocked(id, liked)
	}
}

// IsLiked reports the like status of a track.
func (s *Store) IsLiked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liked.Has(id)
}

// LikeSet returns a copy of the like set.
func (s *Store) LikeSet() track.LikeSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(track.LikeSet, len(s.liked))
	for id := range s.liked {
		out[id] = struct{}{}
	}
	return out
}

// ToggleLike flips the like status of a known track against the latest state
// and returns the new status.
func (s *Store) ToggleLike(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[id]; !ok {
		return false, errors.Wrapf(ErrUnknownTrack, "track %s", id)
	}
	liked := !s.liked.Has(id)
	s.setLikedLocked(id, liked)
	s.pendingLikes[id] = liked
	return liked, nil
}

// SettleLike drops the pending like change of a track once the catalog has
// caught up or the change was given up.
func (s *Store) SettleLike(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingLikes, id)
}

// RevertLike restores the like status confirmed by the catalog and drops the
// pending change.
func (s *Store) RevertLike(id string, liked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLikedLocked(id, liked)
	delete(s.pendingLikes, id)
}

// PendingLike returns the like change of a track still waiting for the catalog.
func (s *Store) PendingLike(id string) (liked, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	liked, ok = s.pendingLikes[id]
	return liked, ok
}

func (s *Store) setLikedLocked(id string, liked bool) {
	view := s.views[ViewLikedSongs]
	if liked {
		s.liked[id] = struct{}{}
		if !slices.Contains(view, id) {
			s.views[ViewLikedSongs] = append([]string{id}, view...)
		}
		return
	}
	delete(s.liked, id)
	s.views[ViewLikedSongs] = slices.DeleteFunc(slices.Clone(view), func(v string) bool { return v == id })
}

// PushRecent records a play in the recently played view: most recent first,
// de-duplicated, capped.
func (s *Store) PushRecent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := make([]string, 0, s.recentLimit)
	recent = append(recent, id)
	for _, r := range s.views[ViewRecentlyPlayed] {
		if r == id {
			continue
		}
		if len(recent) == s.recentLimit {
			break
		}
		recent = append(recent, r)
	}
	s.views[ViewRecentlyPlayed] = recent
}

// SetPlaylists replaces every playlist.
func (s *Store) SetPlaylists(pls []playlist.Playlist, tracks []track.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLocked(tracks)
	s.playlists = make(map[string]playlist.Playlist, len(pls))
	s.plOrder = make([]string, 0, len(pls))
	for _, p := range pls {
		s.playlists[p.ID] = p
		s.plOrder = append(s.plOrder, p.ID)
	}
}

// PutPlaylist inserts or replaces a playlist. New playlists go last.
func (s *Store) PutPlaylist(p playlist.Playlist) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.playlists[p.ID]; !ok {
		s.plOrder = append(s.plOrder, p.ID)
	}
	s.playlists[p.ID] = p
}

// Playlist returns a playlist by id.
func (s *Store) Playlist(id string) (playlist.Playlist, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.playlists[id]
	return p, ok
}

// Playlists returns every playlist in order.
func (s *Store) Playlists() []playlist.Playlist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]playlist.Playlist, 0, len(s.plOrder))
	for _, id := range s.plOrder {
		out = append(out, s.playlists[id])
	}
	return out
}

// PlaylistTracks resolves the tracks of a playlist.
func (s *Store) PlaylistTracks(id string) []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracksLocked(s.playlists[id].TrackIDs)
}

// AddToPlaylist appends a track. Returns false if it was already a member.
func (s *Store) AddToPlaylist(playlistID, trackID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.playlists[playlistID]
	if !ok {
		return false, errors.Wrapf(ErrUnknownPlaylist, "playlist %s", playlistID)
	}
	if p.Contains(trackID) {
		return false, nil
	}
	s.playlists[playlistID] = p.WithTrack(trackID)
	return true, nil
}

// RemoveFromPlaylist removes a track. Returns false if it was not a member.
func (s *Store) RemoveFromPlaylist(playlistID, trackID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.playlists[playlistID]
	if !ok {
		return false, errors.Wrapf(ErrUnknownPlaylist, "playlist %s", playlistID)
	}
	if !p.Contains(trackID) {
		return false, nil
	}
	s.playlists[playlistID] = p.WithoutTrack(trackID)
	return true, nil
}

// All returns every stored track.
func (s *Store) All() []track.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]track.Track, 0, len(s.tracks))
	for id := range s.tracks {
		t, _ := s.trackLocked(id)
		out = append(out, t)
	}
	return out
}
