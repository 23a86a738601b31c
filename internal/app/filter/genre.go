package filter

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/19tune/internal/domain/track"
)

// GenreConfig represents the configuration for GenreFilter.
type GenreConfig struct {
	Allow []string `yaml:"allow" mapstructure:"allow" validate:"dive,required"`
	Block []string `yaml:"block" mapstructure:"block" validate:"dive,required"`
}

// GenreFilter restricts a queue to allowed genres and drops blocked ones.
// Matching is case-insensitive against every genre of the track.
type GenreFilter struct {
	allow map[string]struct{}
	block map[string]struct{}
}

// NewGenreFilter creates a new genre filter.
func NewGenreFilter() *GenreFilter {
	return &GenreFilter{}
}

func (f *GenreFilter) Name() string {
	return "genre_filter"
}

func (f *GenreFilter) Description() string {
	return "Keeps tracks of allowed genres and drops tracks of blocked genres"
}

func (f *GenreFilter) ReturnCodes() []string {
	return []string{"genre_blocked", "genre_not_allowed"}
}

func (f *GenreFilter) ValidateConfig(settings map[string]any) error {
	var config GenreConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	f.allow = genreSet(config.Allow)
	f.block = genreSet(config.Block)
	return nil
}

func (f *GenreFilter) Check(ctx context.Context, t track.Track, accepted []track.Track) Result {
	allowed := len(f.allow) == 0
	for _, g := range t.Genres {
		key := strings.ToLower(strings.TrimSpace(g))
		if _, ok := f.block[key]; ok {
			return Reject("genre_blocked")
		}
		if _, ok := f.allow[key]; ok {
			allowed = true
		}
	}
	if !allowed {
		return Reject("genre_not_allowed")
	}
	return Accept()
}

func genreSet(genres []string) map[string]struct{} {
	if len(genres) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(genres))
	for _, g := range genres {
		set[strings.ToLower(strings.TrimSpace(g))] = struct{}{}
	}
	return set
}

func init() {
	Register("genre_filter", func() Filter {
		return NewGenreFilter()
	})
}
