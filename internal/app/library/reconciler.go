package library

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// ErrNoUser is returned for user-scoped mutations without a signed-in user.
var ErrNoUser = errors.New("no user signed in")

// ReconcilerConfig holds reconciler configuration.
type ReconcilerConfig struct {
	// RollbackOnFailure reverts an optimistic update when its remote call
	// fails and no newer local change superseded it.
	RollbackOnFailure bool
	// Timeout bounds each remote call.
	Timeout time.Duration
}

type syncKey struct {
	kind    string // "like" or "playlist"
	subject string // user id or playlist id
	trackID string
}

// syncState tracks one (subject, track) membership between the local store
// and the catalog.
type syncState struct {
	desired   bool
	confirmed bool   // last state known to the catalog
	version   uint64 // bumped on every local change
	running   bool
}

type syncOps struct {
	apply  func(ctx context.Context, member bool) error
	revert func(member bool)
	// settle runs when the sync stops driving the key. Optional.
	settle func()
}

// Reconciler applies like and playlist mutations to the store immediately and
// pushes them to the catalog in the background. For each (subject, track)
// pair a single goroutine drives the catalog towards the latest local state,
// so rapid toggles collapse and never issue two inserts or two deletes in a row.
type Reconciler struct {
	store   *Store
	gateway catalog.Mutator
	config  ReconcilerConfig

	mu       sync.Mutex
	syncs    map[syncKey]*syncState
	lastErr  error
	onChange func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReconciler creates a new reconciler.
func NewReconciler(store *Store, gateway catalog.Mutator, config ReconcilerConfig) *Reconciler {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:   store,
		gateway: gateway,
		config:  config,
		syncs:   make(map[syncKey]*syncState),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnChange registers a callback run after a background sync changed the
// store or the error state.
func (r *Reconciler) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// ToggleLike flips the like status of a track for userID and returns the new
// status. The store is updated before returning.
func (r *Reconciler) ToggleLike(_ context.Context, userID, trackID string) (bool, error) {
	if userID == "" {
		return false, ErrNoUser
	}

	// the pending change is recorded in the store and the sync scheduled
	// under one lock, so a finishing sync cannot settle a newer toggle
	r.mu.Lock()
	defer r.mu.Unlock()

	liked, err := r.store.ToggleLike(trackID)
	if err != nil {
		return false, err
	}
	zlog.Debug().Msgf("library: like toggled: user=%s track=%s liked=%v", userID, trackID, liked)

	r.scheduleLocked(syncKey{kind: "like", subject: userID, trackID: trackID}, liked, !liked, syncOps{
		apply: func(ctx context.Context, member bool) error {
			return r.gateway.MutateLike(ctx, userID, trackID, opFor(member))
		},
		revert: func(member bool) {
			r.store.RevertLike(trackID, member)
		},
		settle: func() {
			r.store.SettleLike(trackID)
		},
	})
	return liked, nil
}

// AddToPlaylist appends t to a playlist. Adding a member again is a no-op
// and issues no remote call. Returns whether the playlist changed.
func (r *Reconciler) AddToPlaylist(_ context.Context, playlistID string, t track.Track) (bool, error) {
	r.store.Put(t)
	added, err := r.store.AddToPlaylist(playlistID, t.ID)
	if err != nil || !added {
		return false, err
	}
	zlog.Debug().Msgf("library: added to playlist: playlist=%s track=%s", playlistID, t.ID)
	r.schedule(r.playlistKey(playlistID, t.ID), true, false, r.playlistOps(playlistID, t.ID))
	return true, nil
}

// RemoveFromPlaylist removes a track from a playlist. Returns whether the
// playlist changed.
func (r *Reconciler) RemoveFromPlaylist(_ context.Context, playlistID, trackID string) (bool, error) {
	removed, err := r.store.RemoveFromPlaylist(playlistID, trackID)
	if err != nil || !removed {
		return false, err
	}
	zlog.Debug().Msgf("library: removed from playlist: playlist=%s track=%s", playlistID, trackID)
	r.schedule(r.playlistKey(playlistID, trackID), false, true, r.playlistOps(playlistID, trackID))
	return true, nil
}

// CreatePlaylist creates a playlist remotely and adds it to the store.
func (r *Reconciler) CreatePlaylist(ctx context.Context, userID, title, description string) (playlist.Playlist, error) {
	if userID == "" {
		return playlist.Playlist{}, ErrNoUser
	}
	if title == "" {
		return playlist.Playlist{}, errors.New("playlist title is required")
	}
	row, err := r.gateway.CreatePlaylist(ctx, userID, title, description)
	if err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "failed to create playlist")
	}
	p := playlist.Playlist{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		OwnerID:     userID,
		Public:      row.Public,
		TrackIDs:    []string{},
	}
	r.store.PutPlaylist(p)
	zlog.Info().Msgf("library: playlist created: id=%s title=%s", p.ID, p.Title)
	return p, nil
}

// Err returns the last mutation error.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// ClearErr resets the last mutation error.
func (r *Reconciler) ClearErr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = nil
}

// Wait blocks until every pending sync has finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// Close cancels pending remote calls and waits for the syncs to stop.
func (r *Reconciler) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Reconciler) playlistKey(playlistID, trackID string) syncKey {
	return syncKey{kind: "playlist", subject: playlistID, trackID: trackID}
}

func (r *Reconciler) playlistOps(playlistID, trackID string) syncOps {
	return syncOps{
		apply: func(ctx context.Context, member bool) error {
			return r.gateway.MutatePlaylistTrack(ctx, playlistID, trackID, opFor(member))
		},
		revert: func(member bool) {
			var err error
			if member {
				_, err = r.store.AddToPlaylist(playlistID, trackID)
			} else {
				_, err = r.store.RemoveFromPlaylist(playlistID, trackID)
			}
			if err != nil {
				zlog.Warn().Msgf("library: rollback failed: playlist=%s track=%s err=%v", playlistID, trackID, err)
			}
		},
	}
}

// schedule records the desired membership and starts a sync for the key if
// none is running. prior is the catalog state assumed for a new key.
func (r *Reconciler) schedule(key syncKey, desired, prior bool, ops syncOps) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduleLocked(key, desired, prior, ops)
}

func (r *Reconciler) scheduleLocked(key syncKey, desired, prior bool, ops syncOps) {
	s, ok := r.syncs[key]
	if !ok {
		s = &syncState{confirmed: prior}
		r.syncs[key] = s
	}
	s.desired = desired
	s.version++
	if s.running {
		return
	}
	s.running = true
	r.wg.Add(1)
	go r.sync(key, s, ops)
}

func (r *Reconciler) sync(key syncKey, s *syncState, ops syncOps) {
	defer r.wg.Done()

	for {
		r.mu.Lock()
		if s.desired == s.confirmed {
			s.running = false
			delete(r.syncs, key)
			if ops.settle != nil {
				ops.settle()
			}
			r.mu.Unlock()
			return
		}
		want, version := s.desired, s.version
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(r.ctx, r.config.Timeout)
		err := ops.apply(ctx, want)
		cancel()

		r.mu.Lock()
		if err == nil {
			s.confirmed = want
			r.mu.Unlock()
			continue
		}

		zlog.Warn().Msgf("library: remote %s mutation failed: subject=%s track=%s op=%s err=%v",
			key.kind, key.subject, key.trackID, opFor(want), err)
		r.lastErr = errors.Wrapf(err, "%s %s failed for track %s", key.kind, opFor(want), key.trackID)

		stop, forget := false, false
		switch {
		case !r.config.RollbackOnFailure:
			// keep the optimistic state; the catalog stays behind and the
			// key remembers what it last confirmed
			stop = true
		case s.version == version:
			ops.revert(s.confirmed)
			s.desired = s.confirmed
		}
		if r.ctx.Err() != nil {
			stop, forget = true, true
		}
		if stop {
			s.running = false
			if forget {
				delete(r.syncs, key)
			}
			if ops.settle != nil {
				ops.settle()
			}
		}
		onChange := r.onChange
		r.mu.Unlock()

		if onChange != nil {
			onChange()
		}
		if stop {
			return
		}
	}
}

func opFor(member bool) catalog.Op {
	if member {
		return catalog.OpAdd
	}
	return catalog.OpRemove
}
