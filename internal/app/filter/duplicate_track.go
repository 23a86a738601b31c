package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/19tune/internal/domain/track"
)

// DuplicateTrackFilter keeps a queue free of repeats.
// Detects:
// - Exact track ID matches
// - Remasters and alternate versions (normalized title + same artist)
// Excludes:
// - Cover songs (same title but different artist)
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Drops tracks already in the queue, including remasters. Covers by other artists are kept"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// Check rejects t if an accepted track is the same recording or a version of it.
func (f *DuplicateTrackFilter) Check(ctx context.Context, t track.Track, accepted []track.Track) Result {
	title := normalizeTitle(t.Title)
	for _, a := range accepted {
		if a.ID == t.ID {
			return Reject("duplicate_track")
		}
		if title != "" && normalizeTitle(a.Title) == title && isSameArtist(a, t) {
			return Reject("duplicate_track")
		}
	}
	return Accept()
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),        // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),           // "(Radio Edit)"
		regexp.MustCompile(`\s*\(live\)`),              // "(Live)"
		regexp.MustCompile(`\s*-\s*live\b.*$`),         // "- Live at Wembley"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`), // "- Single Version"
	}
	spaces = regexp.MustCompile(`\s+`)
)

// normalizeTitle strips remaster and version markers from a title.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)
	for _, p := range remasterPatterns {
		normalized = p.ReplaceAllString(normalized, "")
	}
	for _, p := range versionPatterns {
		normalized = p.ReplaceAllString(normalized, "")
	}
	normalized = spaces.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

// isSameArtist compares artist ids when both are known, names otherwise.
func isSameArtist(a, b track.Track) bool {
	if a.ArtistID != "" && b.ArtistID != "" {
		return a.ArtistID == b.ArtistID
	}
	if a.ArtistName == "" || b.ArtistName == "" {
		return false
	}
	return strings.EqualFold(a.ArtistName, b.ArtistName)
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
