package catalogdb

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// GenreValue scans the genres column, which holds a JSON list, a JSON
// string, a bare string or NULL depending on how the row was written.
type GenreValue struct {
	V any
}

// Scan implements sql.Scanner.
func (g *GenreValue) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case nil:
		g.V = nil
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		g.V = nil
		return nil
	}

	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		g.V = nil
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		// legacy rows store a bare genre name
		g.V = raw
		return nil
	}
	g.V = decoded
	return nil
}

// Value implements driver.Valuer.
func (g GenreValue) Value() (driver.Value, error) {
	if g.V == nil {
		return nil, nil
	}
	b, err := json.Marshal(g.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// trackRow is the result of the track/album/artist join.
type trackRow struct {
	ID             string
	Title          *string
	Name           *string
	ArtistID       *string
	ArtistName     *string
	Artist         *string
	AlbumID        *string
	AlbumTitle     *string
	AlbumCoverPath *string
	CoverPath      *string
	AudioPath      *string
	DurationSec    *float64
	Genres         GenreValue
	ReleaseDate    *time.Time
	PlayCount      *int64
	LikeCount      *int64
	TrackNumber    *int
	Lyrics         *string
	// set by playlist queries
	PlaylistID *string
}

// trackColumns selects the columns of trackRow. Column aliases match the
// gorm naming of the trackRow fields.
var trackColumns = []string{
	"t.id AS id",
	"t.title AS title",
	"t.name AS name",
	"t.artist_id AS artist_id",
	"ar.name AS artist_name",
	"t.artist AS artist",
	"t.album_id AS album_id",
	"al.title AS album_title",
	"al.cover_path AS album_cover_path",
	"t.cover_path AS cover_path",
	"t.audio_path AS audio_path",
	"t.duration_sec AS duration_sec",
	"t.genres AS genres",
	"COALESCE(t.release_date, al.release_date) AS release_date",
	"t.play_count AS play_count",
	"t.like_count AS like_count",
	"t.track_number AS track_number",
	"t.lyrics AS lyrics",
}

func (r trackRow) raw() track.RawRow {
	row := track.RawRow{
		ID:             r.ID,
		Title:          deref(r.Title),
		Name:           deref(r.Name),
		ArtistID:       deref(r.ArtistID),
		ArtistName:     deref(r.ArtistName),
		Artist:         deref(r.Artist),
		AlbumID:        deref(r.AlbumID),
		AlbumTitle:     deref(r.AlbumTitle),
		AlbumCoverPath: deref(r.AlbumCoverPath),
		CoverPath:      deref(r.CoverPath),
		AudioPath:      deref(r.AudioPath),
		DurationSec:    r.DurationSec,
		Genres:         r.Genres.V,
		PlayCount:      r.PlayCount,
		LikeCount:      r.LikeCount,
		TrackNumber:    r.TrackNumber,
		Lyrics:         r.Lyrics,
	}
	if r.ReleaseDate != nil && !r.ReleaseDate.IsZero() {
		row.ReleaseDate = r.ReleaseDate.Format(time.DateOnly)
	}
	return row
}

func rawRows(rows []trackRow) []track.RawRow {
	out := make([]track.RawRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.raw())
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Like is a row of the likes table.
type Like struct {
	UserID    string    `gorm:"primaryKey;size:64"`
	TrackID   string    `gorm:"primaryKey;size:64;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name.
func (Like) TableName() string {
	return "likes"
}

// Playlist is a row of the playlists table.
type Playlist struct {
	ID          string    `gorm:"primaryKey;size:64"`
	UserID      string    `gorm:"size:64;index;not null"`
	Title       string    `gorm:"size:200;not null"`
	Description string    `gorm:"type:text"`
	CoverPath   string    `gorm:"size:500"`
	IsPublic    bool      `gorm:"default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name.
func (Playlist) TableName() string {
	return "playlists"
}

func (p Playlist) row(tracks []track.RawRow) playlist.Row {
	if tracks == nil {
		tracks = []track.RawRow{}
	}
	return playlist.Row{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		CoverPath:   p.CoverPath,
		OwnerID:     p.UserID,
		Public:      p.IsPublic,
		Tracks:      tracks,
	}
}

// PlaylistTrack is a row of the playlist_tracks table.
type PlaylistTrack struct {
	PlaylistID string    `gorm:"primaryKey;size:64"`
	TrackID    string    `gorm:"primaryKey;size:64"`
	Position   int       `gorm:"not null"`
	AddedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name.
func (PlaylistTrack) TableName() string {
	return "playlist_tracks"
}

// Play is a row of the plays table.
type Play struct {
	ID       uint64    `gorm:"primaryKey;autoIncrement"`
	TrackID  string    `gorm:"size:64;index;not null"`
	ArtistID string    `gorm:"size:64"`
	PlayedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName returns the table name.
func (Play) TableName() string {
	return "plays"
}
