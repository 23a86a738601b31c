package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/domain/track"
)

// Spec enables a registered filter with its settings.
type Spec struct {
	Name     string
	Settings map[string]any
}

// Rejection is a track left out of a queue.
type Rejection struct {
	Track track.Track
	Code  string
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain. The playable filter is always first.
func NewChain() *Chain {
	return &Chain{
		filters: []Filter{&PlayableFilter{}},
	}
}

// Build creates a chain from the enabled filter specs.
func Build(specs []Spec) (*Chain, error) {
	c := NewChain()
	for _, spec := range specs {
		if spec.Name == playableFilterName {
			continue
		}
		factory, ok := registry[spec.Name]
		if !ok {
			return nil, errors.Newf("unknown filter: %s", spec.Name)
		}
		f := factory()
		if err := f.ValidateConfig(spec.Settings); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for filter %s", spec.Name)
		}
		c.Add(f)
		zlog.Debug().Msgf("filter: enabled: name=%s", spec.Name)
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the track.
func (c *Chain) Execute(ctx context.Context, t track.Track, accepted []track.Track) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, t, accepted)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Admit runs the chain over tracks in order. Each track is checked against
// the ones admitted before it.
func (c *Chain) Admit(ctx context.Context, tracks []track.Track) ([]track.Track, []Rejection) {
	admitted := make([]track.Track, 0, len(tracks))
	var rejected []Rejection
	for _, t := range tracks {
		result := c.Execute(ctx, t, admitted)
		if !result.Accepted {
			zlog.Debug().Msgf("filter: track rejected: track=%s title=%s reason=%s", t.ID, t.Title, result.Code)
			rejected = append(rejected, Rejection{Track: t, Code: result.Code})
			continue
		}
		admitted = append(admitted, t)
	}
	return admitted, rejected
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
