// Package track provides the Track domain entity and the normalizer that builds it
// from raw catalog rows.
package track

import (
	"time"
)

// Track represents a canonical, playable track.
// Values are immutable once built; a mutation produces a new value.
type Track struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	ArtistName  string        `json:"artist_name"`
	ArtistID    string        `json:"artist_id,omitempty"`
	AlbumName   string        `json:"album_name"`
	AlbumID     string        `json:"album_id,omitempty"`
	Duration    time.Duration `json:"duration"`
	CoverURL    string        `json:"cover_url"`
	AudioURL    string        `json:"audio_url"`
	IsLiked     bool          `json:"is_liked"`
	Genre       string        `json:"genre"`
	Genres      []string      `json:"genres"`
	ReleaseDate string        `json:"release_date,omitempty"` // ISO date
	Year        int           `json:"year,omitempty"`
	PlayCount   int64         `json:"play_count,omitempty"`
	LikeCount   int64         `json:"like_count,omitempty"`
	TrackNumber int           `json:"track_number,omitempty"`
	Lyrics      string        `json:"lyrics,omitempty"`
}

// IsPlayable reports whether the track can be handed to an audio device.
func (t Track) IsPlayable() bool {
	return t.AudioURL != ""
}

// WithLiked returns a copy of the track with the given like status. Genres is
// never nil in the copy.
func (t Track) WithLiked(liked bool) Track {
	t.IsLiked = liked
	t.Genres = append(make([]string, 0, len(t.Genres)), t.Genres...)
	return t
}

// DurationSeconds returns the duration in whole seconds.
func (t Track) DurationSeconds() int64 {
	return int64(t.Duration.Seconds())
}

// IDs returns the IDs of the given tracks in order.
func IDs(tracks []Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}

// LikeSet is the set of track IDs liked by the current user.
type LikeSet map[string]struct{}

// NewLikeSet builds a LikeSet from track IDs.
func NewLikeSet(ids ...string) LikeSet {
	s := make(LikeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set contains nothing.
func (s LikeSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}
