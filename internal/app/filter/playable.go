package filter

import (
	"context"

	"github.com/osa030/19tune/internal/domain/track"
)

const playableFilterName = "playable_filter"

// PlayableFilter rejects tracks without an audio URL. It is part of every chain.
type PlayableFilter struct{}

func (f *PlayableFilter) Name() string {
	return playableFilterName
}

func (f *PlayableFilter) Description() string {
	return "Rejects tracks that have no audio source (always enabled)"
}

func (f *PlayableFilter) ReturnCodes() []string {
	return []string{"unplayable_track"}
}

func (f *PlayableFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *PlayableFilter) Check(ctx context.Context, t track.Track, accepted []track.Track) Result {
	if !t.IsPlayable() {
		return Reject("unplayable_track")
	}
	return Accept()
}

func init() {
	Register(playableFilterName, func() Filter {
		return &PlayableFilter{}
	})
}
