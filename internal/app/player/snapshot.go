package player

import (
	"github.com/osa030/19tune/internal/app/library"
	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// PlaylistView is a playlist with its tracks resolved.
type PlaylistView struct {
	playlist.Playlist
	Tracks      []track.Track `json:"tracks"`
	DurationSec float64       `json:"duration_sec"`
}

// Snapshot is the read-only view of the player handed to clients.
type Snapshot struct {
	UserID         string         `json:"user_id,omitempty"`
	State          string         `json:"state"`
	CurrentTrack   *track.Track   `json:"current_track,omitempty"`
	IsPlaying      bool           `json:"is_playing"`
	Position       float64        `json:"position"` // seconds
	Duration       float64        `json:"duration"` // seconds
	Volume         float64        `json:"volume"`
	Queue          []track.Track  `json:"queue"`
	QueueIndex     int            `json:"queue_index"`
	Shuffled       bool           `json:"shuffled"`
	RepeatMode     string         `json:"repeat_mode"`
	RecentlyPlayed []track.Track  `json:"recently_played"`
	Trending       []track.Track  `json:"trending"`
	NewReleases    []track.Track  `json:"new_releases"`
	LikedSongs     []track.Track  `json:"liked_songs"`
	Playlists      []PlaylistView `json:"playlists"`
	Loading        bool           `json:"loading"`
	Error          string         `json:"error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
}

// Snapshot returns the current player state. Every track is read from the
// library store so like status is the same everywhere.
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	order := p.queue.Order()
	index := p.queue.Index()
	shuffled := p.queue.Shuffled()
	repeat := p.queue.Repeat()
	errCode, errMsg := p.errCode, p.errMsg
	p.mu.Unlock()

	st := p.engine.Status()
	s := Snapshot{
		UserID:         p.config.Identity.ID,
		State:          st.State.String(),
		IsPlaying:      st.IsPlaying(),
		Position:       st.Position.Seconds(),
		Duration:       st.Duration.Seconds(),
		Volume:         st.Volume,
		Queue:          p.store.Tracks(order),
		QueueIndex:     index,
		Shuffled:       shuffled,
		RepeatMode:     repeat.String(),
		RecentlyPlayed: p.store.View(library.ViewRecentlyPlayed),
		Trending:       p.store.View(library.ViewTrending),
		NewReleases:    p.store.View(library.ViewNewReleases),
		LikedSongs:     p.store.View(library.ViewLikedSongs),
		Loading:        p.refresher.Loading(),
	}
	if st.Track != nil {
		current := *st.Track
		if t, ok := p.store.Track(current.ID); ok {
			current = t
		}
		s.CurrentTrack = &current
	}

	for _, pl := range p.store.Playlists() {
		s.Playlists = append(s.Playlists, PlaylistView{
			Playlist:    pl,
			Tracks:      p.store.PlaylistTracks(pl.ID),
			DurationSec: pl.TotalDuration(p.store.Track).Seconds(),
		})
	}

	switch {
	case errMsg != "":
		s.Error, s.ErrorCode = errMsg, string(errCode)
	case st.Err != nil:
		s.Error, s.ErrorCode = (&CommandError{Code: CodePlaybackFailed}).Message(), string(CodePlaybackFailed)
	case p.reconciler.Err() != nil:
		s.Error, s.ErrorCode = (&CommandError{Code: CodeMutationFailed}).Message(), string(CodeMutationFailed)
	}
	return s
}
