package catalogdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/track"
)

// newDryRunGateway builds statements without a database.
func newDryRunGateway(t *testing.T) *Gateway {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/music?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	require.NoError(t, err)
	return NewGateway(db, nil)
}

func statement(q *gorm.DB) (string, []any) {
	stmt := q.Find(&[]trackRow{}).Statement
	return stmt.SQL.String(), stmt.Vars
}

func TestOrderColumn(t *testing.T) {
	tests := []struct {
		order catalog.OrderBy
		want  string
	}{
		{order: catalog.OrderByPlayCount, want: "t.play_count DESC, t.id"},
		{order: catalog.OrderByLikeCount, want: "t.like_count DESC, t.id"},
		{order: catalog.OrderByTitle, want: "t.title, t.id"},
		{order: catalog.OrderByNewest, want: "COALESCE(t.release_date, al.release_date) DESC, t.created_at DESC"},
		{order: "", want: "t.created_at DESC"},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			assert.Equal(t, tt.want, orderColumn(tt.order))
		})
	}
}

func TestGateway_TracksQuery(t *testing.T) {
	g := newDryRunGateway(t)

	sql, vars := statement(g.tracksQuery(context.Background(), catalog.Filter{
		PublishedOnly: true,
		OrderBy:       catalog.OrderByPlayCount,
		Limit:         20,
	}))

	assert.Contains(t, sql, "FROM tracks AS t")
	assert.Contains(t, sql, "LEFT JOIN albums AS al ON al.id = t.album_id")
	assert.Contains(t, sql, "LEFT JOIN artists AS ar ON ar.id = t.artist_id")
	assert.Contains(t, sql, "t.is_published = ?")
	assert.Contains(t, sql, "ORDER BY t.play_count DESC, t.id")
	assert.Contains(t, sql, "LIMIT")
	assert.Contains(t, sql, "ar.name AS artist_name")
	assert.Contains(t, vars, true)

	sql, _ = statement(g.tracksQuery(context.Background(), catalog.Filter{OrderBy: catalog.OrderByNewest}))
	assert.NotContains(t, sql, "is_published")
	assert.NotContains(t, sql, "LIMIT")
}

func TestGateway_LikedQuery(t *testing.T) {
	g := newDryRunGateway(t)

	sql, vars := statement(g.likedQuery(context.Background(), "u1"))

	assert.Contains(t, sql, "JOIN likes AS l ON l.track_id = t.id AND l.user_id = ?")
	assert.Contains(t, sql, "ORDER BY l.created_at DESC")
	assert.Contains(t, vars, "u1")
}

func TestGateway_PlaylistTracksQuery(t *testing.T) {
	g := newDryRunGateway(t)

	sql, vars := statement(g.playlistTracksQuery(context.Background(), []string{"p1", "p2"}))

	assert.Contains(t, sql, "pt.playlist_id AS playlist_id")
	assert.Contains(t, sql, "JOIN playlist_tracks AS pt ON pt.track_id = t.id")
	assert.Contains(t, sql, "pt.playlist_id IN")
	assert.Contains(t, sql, "ORDER BY pt.playlist_id, pt.position")
	assert.Contains(t, vars, "p1")
	assert.Contains(t, vars, "p2")
}

func TestGateway_SearchQuery(t *testing.T) {
	g := newDryRunGateway(t)
	ctx := context.Background()

	sql, vars := statement(g.searchQuery(ctx, "50%_off", catalog.SortRelevance, 10))
	assert.Contains(t, sql, "t.title LIKE ?")
	assert.Contains(t, sql, "ar.name LIKE ?")
	assert.Contains(t, sql, "al.title LIKE ?")
	assert.Contains(t, sql, "CASE WHEN t.title = ?")
	assert.Contains(t, vars, `%50\%\_off%`)
	assert.Contains(t, vars, "50%_off")

	sql, _ = statement(g.searchQuery(ctx, "x", catalog.SortPopular, 10))
	assert.Contains(t, sql, "ORDER BY t.play_count DESC")

	sql, _ = statement(g.searchQuery(ctx, "x", catalog.SortNewest, 10))
	assert.Contains(t, sql, "ORDER BY COALESCE(t.release_date, al.release_date) DESC")
}

func TestGenreValue_Scan(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{name: "null", value: nil, want: []string{}},
		{name: "json null", value: []byte("null"), want: []string{}},
		{name: "json list", value: []byte(`["Pop","Rock"]`), want: []string{"Pop", "Rock"}},
		{name: "json string", value: `"Jazz"`, want: []string{"Jazz"}},
		{name: "bare string", value: "Pop", want: []string{"Pop"}},
		{name: "empty", value: "", want: []string{}},
		{name: "unsupported", value: int64(3), want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g GenreValue
			require.NoError(t, g.Scan(tt.value))
			assert.Equal(t, tt.want, track.NormalizeGenres(g.V))
		})
	}
}

func TestGenreValue_Value(t *testing.T) {
	v, err := GenreValue{V: []string{"Pop"}}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["Pop"]`, v)

	v, err = GenreValue{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTrackRow_Raw(t *testing.T) {
	str := func(s string) *string { return &s }
	dur := 215.5
	plays := int64(12)
	released := time.Date(2021, 4, 9, 0, 0, 0, 0, time.UTC)

	row := trackRow{
		ID:          "t1",
		Name:        str("Legacy title"),
		Artist:      str("Legacy artist"),
		AlbumTitle:  str("Album"),
		AudioPath:   str("t1.mp3"),
		DurationSec: &dur,
		Genres:      GenreValue{V: "Pop"},
		ReleaseDate: &released,
		PlayCount:   &plays,
	}

	raw := row.raw()
	assert.Equal(t, "t1", raw.ID)
	assert.Empty(t, raw.Title)
	assert.Equal(t, "Legacy title", raw.Name)
	assert.Equal(t, "Legacy artist", raw.Artist)
	assert.Equal(t, "Album", raw.AlbumTitle)
	assert.Equal(t, "2021-04-09", raw.ReleaseDate)
	assert.Equal(t, &dur, raw.DurationSec)
	assert.Equal(t, "Pop", raw.Genres)
	assert.Nil(t, raw.LikeCount)

	// the normalizer reads the legacy columns
	n := track.NewNormalizer(nil, track.NormalizerConfig{})
	raw.AudioPath = "https://cdn.test/t1.mp3"
	got, err := n.Normalize(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "Legacy title", got.Title)
	assert.Equal(t, "Legacy artist", got.ArtistName)
	assert.Equal(t, 2021, got.Year)
	assert.Equal(t, []string{"Pop"}, got.Genres)
}

func TestPlaylist_Row(t *testing.T) {
	p := Playlist{ID: "p1", UserID: "u1", Title: "Mix", IsPublic: true, CoverPath: "covers/p1.jpg"}
	row := p.row(nil)
	assert.Equal(t, "u1", row.OwnerID)
	assert.True(t, row.Public)
	assert.Equal(t, "covers/p1.jpg", row.CoverPath)
	assert.NotNil(t, row.Tracks)
	assert.Empty(t, row.Tracks)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\_b`, escapeLike("a_b"))
	assert.Equal(t, `c:\\d`, escapeLike(`c:\d`))
}

func TestGateway_ResolvePublicURLWithoutResolver(t *testing.T) {
	g := &Gateway{}
	assert.Empty(t, g.ResolvePublicURL("audio", "t1.mp3"))
}
