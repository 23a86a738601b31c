// Package refresh populates the library store from the catalog.
package refresh

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/app/library"
	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// Config holds refresh configuration.
type Config struct {
	TrendingLimit   int
	NewReleaseLimit int
	PublishedOnly   bool
}

// Orchestrator runs the catalog queries of a refresh in parallel and replaces
// each store view as its query resolves.
type Orchestrator struct {
	reader     catalog.Reader
	normalizer *track.Normalizer
	store      *library.Store
	config     Config

	running atomic.Int32
	onApply func(view string)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOnApply registers a callback run after each view has been replaced.
func WithOnApply(fn func(view string)) Option {
	return func(o *Orchestrator) {
		o.onApply = fn
	}
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(reader catalog.Reader, normalizer *track.Normalizer, store *library.Store, config Config, opts ...Option) *Orchestrator {
	if config.TrendingLimit <= 0 {
		config.TrendingLimit = 20
	}
	if config.NewReleaseLimit <= 0 {
		config.NewReleaseLimit = 20
	}
	o := &Orchestrator{
		reader:     reader,
		normalizer: normalizer,
		store:      store,
		config:     config,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Loading reports whether a refresh is running.
func (o *Orchestrator) Loading() bool {
	return o.running.Load() > 0
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

// Refresh queries trending tracks and new releases, plus liked songs and
// playlists when userID is set. A failed query leaves its view untouched and
// does not stop the others; the failures are combined into the returned error.
func (o *Orchestrator) Refresh(ctx context.Context, userID string) error {
	o.running.Add(1)
	defer o.running.Add(-1)

	jobs := []job{
		{name: library.ViewTrending.String(), run: func(ctx context.Context) error {
			return o.refreshView(ctx, library.ViewTrending, catalog.OrderByPlayCount, o.config.TrendingLimit)
		}},
		{name: library.ViewNewReleases.String(), run: func(ctx context.Context) error {
			return o.refreshView(ctx, library.ViewNewReleases, catalog.OrderByNewest, o.config.NewReleaseLimit)
		}},
	}
	if userID != "" {
		jobs = append(jobs,
			job{name: library.ViewLikedSongs.String(), run: func(ctx context.Context) error {
				return o.refreshLiked(ctx, userID)
			}},
			job{name: "playlists", run: func(ctx context.Context) error {
				return o.refreshPlaylists(ctx, userID)
			}},
		)
	}

	zlog.Debug().Msgf("refresh: started: user=%s queries=%d", userID, len(jobs))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			if err := j.run(ctx); err != nil {
				zlog.Error().Msgf("refresh: %s failed: %v", j.name, err)
				mu.Lock()
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "failed to refresh %s", j.name))
				mu.Unlock()
				return
			}
			if o.onApply != nil {
				o.onApply(j.name)
			}
		}(j)
	}
	wg.Wait()

	if errs != nil {
		return errs
	}
	zlog.Info().Msgf("refresh: completed: user=%s", userID)
	return nil
}

func (o *Orchestrator) refreshView(ctx context.Context, view library.View, order catalog.OrderBy, limit int) error {
	rows, err := o.reader.QueryTracks(ctx, catalog.Filter{
		PublishedOnly: o.config.PublishedOnly,
		OrderBy:       order,
		Limit:         limit,
	})
	if err != nil {
		return err
	}
	tracks := o.normalize(view.String(), rows)
	o.store.SetView(view, tracks)
	zlog.Debug().Msgf("refresh: %s loaded: tracks=%d", view, len(tracks))
	return nil
}

func (o *Orchestrator) refreshLiked(ctx context.Context, userID string) error {
	rows, err := o.reader.QueryLikedTracks(ctx, userID)
	if err != nil {
		return err
	}
	tracks := o.normalize(library.ViewLikedSongs.String(), rows, track.WithLiked(true))
	o.store.SetLikedSongs(tracks)
	zlog.Debug().Msgf("refresh: liked songs loaded: tracks=%d", len(tracks))
	return nil
}

func (o *Orchestrator) refreshPlaylists(ctx context.Context, userID string) error {
	rows, err := o.reader.QueryPlaylists(ctx, userID)
	if err != nil {
		return err
	}

	pls := make([]playlist.Playlist, 0, len(rows))
	var all []track.Track
	for _, row := range rows {
		tracks := o.normalize("playlist "+row.ID, row.Tracks)
		all = append(all, tracks...)
		pls = append(pls, playlist.Playlist{
			ID:          row.ID,
			Title:       row.Title,
			Description: row.Description,
			CoverURL:    o.normalizer.CoverURL(row.CoverPath),
			OwnerID:     row.OwnerID,
			Public:      row.Public,
			TrackIDs:    track.IDs(tracks),
		})
	}
	o.store.SetPlaylists(pls, all)
	zlog.Debug().Msgf("refresh: playlists loaded: playlists=%d", len(pls))
	return nil
}

// normalize drops rows that cannot be normalized with a warning.
func (o *Orchestrator) normalize(source string, rows []track.RawRow, opts ...track.Option) []track.Track {
	tracks, err := o.normalizer.NormalizeAll(rows, nil, opts...)
	if err != nil {
		zlog.Warn().Msgf("refresh: skipped rows: source=%s skipped=%d err=%v", source, len(rows)-len(tracks), err)
	}
	return tracks
}
