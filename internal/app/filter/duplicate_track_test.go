package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/19tune/internal/domain/track"
)

func TestDuplicateTrackFilter_ExactIDMatch(t *testing.T) {
	filter := NewDuplicateTrackFilter()
	accepted := []track.Track{{ID: "track123", Title: "Bohemian Rhapsody", ArtistName: "Queen"}}

	result := filter.Check(context.Background(), track.Track{
		ID:         "track123",
		Title:      "Something Else",
		ArtistName: "Other",
	}, accepted)

	assert.False(t, result.Accepted)
	assert.Equal(t, "duplicate_track", result.Code)
}

func TestDuplicateTrackFilter_RemasterDetection(t *testing.T) {
	tests := []struct {
		name         string
		queued       track.Track
		requested    track.Track
		shouldReject bool
	}{
		{
			name:         "Standard remaster pattern",
			queued:       track.Track{ID: "original123", Title: "Bohemian Rhapsody", ArtistName: "Queen"},
			requested:    track.Track{ID: "remaster456", Title: "Bohemian Rhapsody - 2011 Remaster", ArtistName: "Queen"},
			shouldReject: true,
		},
		{
			name:         "Remastered in parentheses",
			queued:       track.Track{ID: "original123", Title: "Yesterday", ArtistName: "The Beatles"},
			requested:    track.Track{ID: "remaster456", Title: "Yesterday (Remastered 2023)", ArtistName: "The Beatles"},
			shouldReject: true,
		},
		{
			name:         "Cover song by a different artist",
			queued:       track.Track{ID: "original123", Title: "Yesterday", ArtistName: "The Beatles"},
			requested:    track.Track{ID: "cover789", Title: "Yesterday", ArtistName: "Paul McCartney"},
			shouldReject: false,
		},
		{
			name:         "Different songs with similar titles",
			queued:       track.Track{ID: "track1", Title: "Love", ArtistName: "John Lennon"},
			requested:    track.Track{ID: "track2", Title: "Love Song", ArtistName: "John Lennon"},
			shouldReject: false,
		},
		{
			name:         "Radio edit",
			queued:       track.Track{ID: "album123", Title: "Stairway to Heaven", ArtistName: "Led Zeppelin"},
			requested:    track.Track{ID: "radio456", Title: "Stairway to Heaven (Radio Edit)", ArtistName: "Led Zeppelin"},
			shouldReject: true,
		},
		{
			name:         "Live version",
			queued:       track.Track{ID: "studio123", Title: "Hotel California", ArtistName: "Eagles"},
			requested:    track.Track{ID: "live456", Title: "Hotel California - Live", ArtistName: "Eagles"},
			shouldReject: true,
		},
		{
			name:         "Two different remasters",
			queued:       track.Track{ID: "remaster2011", Title: "Let It Be - 2011 Remaster", ArtistName: "The Beatles"},
			requested:    track.Track{ID: "remaster2023", Title: "Let It Be (Remastered 2023)", ArtistName: "The Beatles"},
			shouldReject: true,
		},
		{
			name:         "Remix is a different track",
			queued:       track.Track{ID: "original123", Title: "Le Freak", ArtistName: "CHIC"},
			requested:    track.Track{ID: "remix456", Title: "Le Freak (Oliver Heldens Remix)", ArtistName: "CHIC"},
			shouldReject: false,
		},
		{
			name:         "Artist ids win over names",
			queued:       track.Track{ID: "a", Title: "Intro", ArtistID: "art-1", ArtistName: "Same Name"},
			requested:    track.Track{ID: "b", Title: "Intro", ArtistID: "art-2", ArtistName: "Same Name"},
			shouldReject: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewDuplicateTrackFilter().Check(context.Background(), tt.requested, []track.Track{tt.queued})

			if tt.shouldReject {
				assert.False(t, result.Accepted)
				assert.Equal(t, "duplicate_track", result.Code)
			} else {
				assert.True(t, result.Accepted)
			}
		})
	}
}

func TestDuplicateTrackFilter_EmptyQueue(t *testing.T) {
	result := NewDuplicateTrackFilter().Check(context.Background(), track.Track{
		ID:         "track123",
		Title:      "Any Song",
		ArtistName: "Any Artist",
	}, nil)

	assert.True(t, result.Accepted, "Should accept any track when queue is empty")
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Bohemian Rhapsody", "bohemian rhapsody"},
		{"Bohemian Rhapsody - 2011 Remaster", "bohemian rhapsody"},
		{"Yesterday (Remastered 2023)", "yesterday"},
		{"Hotel California [Remastered]", "hotel california"},
		{"Stairway to Heaven (Radio Edit)", "stairway to heaven"},
		{"Imagine - Live", "imagine"},
		{"Imagine - Live at Budokan", "imagine"},
		{"Stayin' Alive", "stayin' alive"},
		{"Let It Be (Single Version)", "let it be"},
		{"Hey Jude - Remastered Version", "hey jude"},
		{"Come Together (2019 Mix)", "come together (2019 mix)"},
		{"   Extra   Spaces   ", "extra spaces"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeTitle(tt.input))
		})
	}
}

func TestIsSameArtist(t *testing.T) {
	tests := []struct {
		name     string
		track1   track.Track
		track2   track.Track
		expected bool
	}{
		{
			name:     "Same artist",
			track1:   track.Track{ArtistName: "Queen"},
			track2:   track.Track{ArtistName: "Queen"},
			expected: true,
		},
		{
			name:     "Same artist - case insensitive",
			track1:   track.Track{ArtistName: "Queen"},
			track2:   track.Track{ArtistName: "queen"},
			expected: true,
		},
		{
			name:     "Different artists",
			track1:   track.Track{ArtistName: "The Beatles"},
			track2:   track.Track{ArtistName: "Paul McCartney"},
			expected: false,
		},
		{
			name:     "Missing artist",
			track1:   track.Track{},
			track2:   track.Track{ArtistName: "Queen"},
			expected: false,
		},
		{
			name:     "Same artist id",
			track1:   track.Track{ArtistID: "a1", ArtistName: "Queen"},
			track2:   track.Track{ArtistID: "a1", ArtistName: "QUEEN feat. someone"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isSameArtist(tt.track1, tt.track2))
		})
	}
}
