// Package playlist provides the Playlist domain entity.
package playlist

import (
	"slices"
	"time"

	"github.com/osa030/19tune/internal/domain/track"
)

// Playlist is a user-owned ordered list of tracks, referenced by id.
type Playlist struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	OwnerID     string   `json:"owner_id"`
	Public      bool     `json:"public"`
	TrackIDs    []string `json:"track_ids"`
}

// Row is a playlist as returned by the catalog with its member track rows.
type Row struct {
	ID          string
	Title       string
	Description string
	CoverPath   string
	OwnerID     string
	Public      bool
	Tracks      []track.RawRow
}

// Contains reports whether the playlist holds the track.
func (p *Playlist) Contains(trackID string) bool {
	return slices.Contains(p.TrackIDs, trackID)
}

// WithTrack returns a copy with the track appended. The copy is identical if
// the track is already present.
func (p Playlist) WithTrack(trackID string) Playlist {
	ids := slices.Clone(p.TrackIDs)
	if !slices.Contains(ids, trackID) {
		ids = append(ids, trackID)
	}
	p.TrackIDs = ids
	return p
}

// WithoutTrack returns a copy with every occurrence of the track removed.
func (p Playlist) WithoutTrack(trackID string) Playlist {
	ids := make([]string, 0, len(p.TrackIDs))
	for _, id := range p.TrackIDs {
		if id != trackID {
			ids = append(ids, id)
		}
	}
	p.TrackIDs = ids
	return p
}

// TotalDuration sums the duration of the tracks found by lookup.
func (p *Playlist) TotalDuration(lookup func(id string) (track.Track, bool)) time.Duration {
	var total time.Duration
	for _, id := range p.TrackIDs {
		if t, ok := lookup(id); ok {
			total += t.Duration
		}
	}
	return total
}
