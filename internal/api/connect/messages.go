package connect

import (
	"github.com/osa030/19tune/internal/app/notification"
	"github.com/osa030/19tune/internal/app/player"
	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// Result reports the outcome of a command. Command failures are results,
// not RPC errors: OK is false and Code names the failure.
type Result struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Empty is the request of commands without arguments.
type Empty struct{}

type PlayTrackRequest struct {
	TrackID  string   `json:"track_id"`
	QueueIDs []string `json:"queue_ids,omitempty"`
}

type SeekRequest struct {
	Seconds float64 `json:"seconds"`
}

type SetVolumeRequest struct {
	Volume float64 `json:"volume"`
}

type SetVolumeResponse struct {
	Result
	Volume float64 `json:"volume"`
}

type ToggleShuffleResponse struct {
	Result
	Shuffled bool `json:"shuffled"`
}

type ToggleRepeatResponse struct {
	Result
	RepeatMode string `json:"repeat_mode"`
}

type TrackRequest struct {
	TrackID string `json:"track_id"`
}

type ToggleLikeResponse struct {
	Result
	Liked bool `json:"liked"`
}

type PlaylistTrackRequest struct {
	PlaylistID string `json:"playlist_id"`
	TrackID    string `json:"track_id"`
}

// ChangeResponse reports whether a command changed anything.
type ChangeResponse struct {
	Result
	Changed bool `json:"changed"`
}

type CreatePlaylistRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type CreatePlaylistResponse struct {
	Result
	Playlist *playlist.Playlist `json:"playlist,omitempty"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Sort  string `json:"sort,omitempty"`
}

type SearchResponse struct {
	Result
	Tracks []track.Track `json:"tracks"`
}

type EnqueueRequest struct {
	TrackIDs []string `json:"track_ids"`
}

type SnapshotResponse struct {
	Snapshot player.Snapshot `json:"snapshot"`
}

// Notification is a message of the Subscribe stream.
type Notification = notification.Notification[player.Snapshot]
