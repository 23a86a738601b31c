package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19tune/internal/domain/track"
)

func playable(id, title, artist string) track.Track {
	return track.Track{
		ID:         id,
		Title:      title,
		ArtistName: artist,
		AudioURL:   "https://storage.test/audio/" + id + ".mp3",
		Duration:   3 * time.Minute,
	}
}

func TestPlayableFilter_Check(t *testing.T) {
	f := &PlayableFilter{}

	assert.True(t, f.Check(context.Background(), playable("t1", "A", "B"), nil).Accepted)

	result := f.Check(context.Background(), track.Track{ID: "t2"}, nil)
	assert.False(t, result.Accepted)
	assert.Equal(t, "unplayable_track", result.Code)
}

func TestGenreFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		settings     map[string]any
		genres       []string
		wantAccepted bool
		wantCode     string
	}{
		{
			name:         "no configuration",
			settings:     map[string]any{},
			genres:       []string{"rock"},
			wantAccepted: true,
		},
		{
			name:         "blocked genre",
			settings:     map[string]any{"block": []string{"Christmas"}},
			genres:       []string{"pop", "christmas"},
			wantAccepted: false,
			wantCode:     "genre_blocked",
		},
		{
			name:         "allowed genre",
			settings:     map[string]any{"allow": []any{"jazz", "soul"}},
			genres:       []string{"Soul"},
			wantAccepted: true,
		},
		{
			name:         "not in allow list",
			settings:     map[string]any{"allow": []string{"jazz"}},
			genres:       []string{"metal"},
			wantAccepted: false,
			wantCode:     "genre_not_allowed",
		},
		{
			name:         "no genres with allow list",
			settings:     map[string]any{"allow": []string{"jazz"}},
			genres:       nil,
			wantAccepted: false,
			wantCode:     "genre_not_allowed",
		},
		{
			name:         "block wins over allow",
			settings:     map[string]any{"allow": []string{"jazz"}, "block": []string{"smooth jazz"}},
			genres:       []string{"jazz", "smooth jazz"},
			wantAccepted: false,
			wantCode:     "genre_blocked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewGenreFilter()
			require.NoError(t, f.ValidateConfig(tt.settings))

			trk := playable("t1", "Song", "Artist")
			trk.Genres = tt.genres
			result := f.Check(context.Background(), trk, nil)

			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, tt.wantCode, result.Code)
			}
		})
	}
}

func TestGenreFilter_ValidateConfig(t *testing.T) {
	f := NewGenreFilter()
	assert.Error(t, f.ValidateConfig(map[string]any{"block": []string{""}}))
	assert.Error(t, f.ValidateConfig(map[string]any{"allow": "jazz"}))
}

func TestBuild(t *testing.T) {
	chain, err := Build([]Spec{
		{Name: "playable_filter"},
		{Name: "duplicate_track_filter"},
		{Name: "duration_limit_filter", Settings: map[string]any{"min_minutes": 1, "max_minutes": 10}},
	})
	require.NoError(t, err)

	var names []string
	for _, f := range chain.Filters() {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{"playable_filter", "duplicate_track_filter", "duration_limit_filter"}, names)

	_, err = Build([]Spec{{Name: "no_such_filter"}})
	assert.Error(t, err)

	_, err = Build([]Spec{{Name: "duration_limit_filter", Settings: map[string]any{"min_minutes": 10, "max_minutes": 5}}})
	assert.Error(t, err)
}

func TestChain_Admit(t *testing.T) {
	chain, err := Build([]Spec{{Name: "duplicate_track_filter"}})
	require.NoError(t, err)

	tracks := []track.Track{
		playable("a", "Yesterday", "The Beatles"),
		{ID: "b", Title: "No Audio"},
		playable("c", "Yesterday - 2009 Remaster", "The Beatles"),
		playable("d", "Yesterday", "Cover Band"),
		playable("a", "Yesterday", "The Beatles"),
	}

	admitted, rejected := chain.Admit(context.Background(), tracks)

	assert.Equal(t, []string{"a", "d"}, track.IDs(admitted))
	require.Len(t, rejected, 3)
	assert.Equal(t, "unplayable_track", rejected[0].Code)
	assert.Equal(t, "duplicate_track", rejected[1].Code)
	assert.Equal(t, "c", rejected[1].Track.ID)
	assert.Equal(t, "duplicate_track", rejected[2].Code)
}

func TestNames(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "playable_filter")
	assert.Contains(t, names, "duplicate_track_filter")
	assert.Contains(t, names, "duration_limit_filter")
	assert.Contains(t, names, "genre_filter")
	assert.IsIncreasing(t, names)
}
