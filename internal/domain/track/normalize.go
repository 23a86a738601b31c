package track

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DefaultDuration is used when a catalog row carries no usable duration.
const DefaultDuration = 180 * time.Second

// DefaultPlaceholderCover is shown when neither the track nor its album has a cover.
const DefaultPlaceholderCover = "https://placehold.co/300x300?text=No+Cover"

var (
	// ErrMissingAudio is returned for rows without an audio reference.
	ErrMissingAudio = errors.New("track has no audio reference")
	// ErrMissingID is returned for rows without an identifier.
	ErrMissingID = errors.New("track has no id")
)

// RawRow is a track row as returned by the catalog: a track/album/artist join
// with nullable fields and a few legacy column names.
type RawRow struct {
	ID string `json:"id"`

	Title string `json:"title"`
	// Name is the legacy title column.
	Name string `json:"name,omitempty"`

	ArtistID   string `json:"artist_id,omitempty"`
	ArtistName string `json:"artist_name,omitempty"`
	// Artist is the legacy denormalized artist column.
	Artist string `json:"artist,omitempty"`

	AlbumID        string `json:"album_id,omitempty"`
	AlbumTitle     string `json:"album_title,omitempty"`
	AlbumCoverPath string `json:"album_cover_path,omitempty"`

	CoverPath string `json:"cover_path,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`

	DurationSec *float64 `json:"duration_sec,omitempty"`
	// Genres is either a list, a single string, or nil.
	Genres any `json:"genres,omitempty"`

	ReleaseDate string  `json:"release_date,omitempty"`
	PlayCount   *int64  `json:"play_count,omitempty"`
	LikeCount   *int64  `json:"like_count,omitempty"`
	TrackNumber *int    `json:"track_number,omitempty"`
	Lyrics      *string `json:"lyrics,omitempty"`
}

// URLResolver turns a storage reference into an absolute URL.
type URLResolver interface {
	ResolvePublicURL(bucket, path string) string
}

// NormalizerConfig configures a Normalizer.
type NormalizerConfig struct {
	AudioBucket      string
	CoverBucket      string
	PlaceholderCover string
	DefaultDuration  time.Duration
}

// Normalizer maps RawRow values into Track values.
type Normalizer struct {
	resolver URLResolver
	cfg      NormalizerConfig
}

// NewNormalizer creates a new normalizer.
func NewNormalizer(resolver URLResolver, cfg NormalizerConfig) *Normalizer {
	if cfg.PlaceholderCover == "" {
		cfg.PlaceholderCover = DefaultPlaceholderCover
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultDuration
	}
	return &Normalizer{resolver: resolver, cfg: cfg}
}

type normalizeOptions struct {
	liked *bool
}

// Option customizes a single Normalize call.
type Option func(*normalizeOptions)

// WithLiked forces the like status, e.g. for rows from a liked-songs query.
func WithLiked(liked bool) Option {
	return func(o *normalizeOptions) {
		o.liked = &liked
	}
}

// Normalize converts a raw row into a Track.
func (n *Normalizer) Normalize(raw RawRow, liked LikeSet, opts ...Option) (Track, error) {
	var o normalizeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if raw.ID == "" {
		return Track{}, ErrMissingID
	}

	audioURL := n.resolve(n.cfg.AudioBucket, raw.AudioPath)
	if audioURL == "" {
		return Track{}, errors.Wrapf(ErrMissingAudio, "track %s", raw.ID)
	}

	coverURL := n.resolve(n.cfg.CoverBucket, raw.CoverPath)
	if coverURL == "" {
		coverURL = n.resolve(n.cfg.CoverBucket, raw.AlbumCoverPath)
	}
	if coverURL == "" {
		coverURL = n.cfg.PlaceholderCover
	}

	genres := NormalizeGenres(raw.Genres)
	genre := ""
	if len(genres) > 0 {
		genre = genres[0]
	}

	isLiked := liked.Has(raw.ID)
	if o.liked != nil {
		isLiked = *o.liked
	}

	t := Track{
		ID:          raw.ID,
		Title:       firstNonEmpty(raw.Title, raw.Name),
		ArtistName:  firstNonEmpty(raw.ArtistName, raw.Artist),
		ArtistID:    raw.ArtistID,
		AlbumName:   raw.AlbumTitle,
		AlbumID:     raw.AlbumID,
		Duration:    n.duration(raw.DurationSec),
		CoverURL:    coverURL,
		AudioURL:    audioURL,
		IsLiked:     isLiked,
		Genre:       genre,
		Genres:      genres,
		ReleaseDate: raw.ReleaseDate,
		Year:        yearOf(raw.ReleaseDate),
	}
	if raw.PlayCount != nil {
		t.PlayCount = *raw.PlayCount
	}
	if raw.LikeCount != nil {
		t.LikeCount = *raw.LikeCount
	}
	if raw.TrackNumber != nil {
		t.TrackNumber = *raw.TrackNumber
	}
	if raw.Lyrics != nil {
		t.Lyrics = *raw.Lyrics
	}
	return t, nil
}

// NormalizeAll normalizes rows. Rows that fail are skipped and their errors
// combined into the returned error.
func (n *Normalizer) NormalizeAll(rows []RawRow, liked LikeSet, opts ...Option) ([]Track, error) {
	tracks := make([]Track, 0, len(rows))
	var errs error
	for _, row := range rows {
		t, err := n.Normalize(row, liked, opts...)
		if err != nil {
			errs = errors.CombineErrors(errs, err)
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, errs
}

// CoverURL resolves a cover path in the cover bucket, falling back to the
// placeholder.
func (n *Normalizer) CoverURL(path string) string {
	if u := n.resolve(n.cfg.CoverBucket, path); u != "" {
		return u
	}
	return n.cfg.PlaceholderCover
}

func (n *Normalizer) resolve(bucket, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if n.resolver == nil {
		return ""
	}
	return n.resolver.ResolvePublicURL(bucket, path)
}

func (n *Normalizer) duration(sec *float64) time.Duration {
	if sec == nil || *sec <= 0 {
		return n.cfg.DefaultDuration
	}
	return time.Duration(*sec * float64(time.Second))
}

// NormalizeGenres accepts a list, a scalar string, or nil.
func NormalizeGenres(v any) []string {
	switch g := v.(type) {
	case nil:
		return []string{}
	case string:
		if strings.TrimSpace(g) == "" {
			return []string{}
		}
		return []string{g}
	case []string:
		return append([]string{}, g...)
	case []any:
		out := make([]string, 0, len(g))
		for _, item := range g {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}

// yearOf extracts the year from an ISO date ("2021-04-09" or "2021").
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
