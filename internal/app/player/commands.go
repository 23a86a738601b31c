package player

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/app/library"
	"github.com/osa030/19tune/internal/app/playback"
	"github.com/osa030/19tune/internal/app/queue"
	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/listener"
	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// PlayTrack plays a track. When queueIDs is set it becomes the queue, after
// the admission filters dropped what cannot be queued; otherwise the queue
// holds only the track.
func (p *Player) PlayTrack(ctx context.Context, trackID string, queueIDs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return err
	}

	t, ok := p.store.Track(trackID)
	if !ok {
		return p.failLocked(commandError(CodeTrackNotFound, errors.Newf("track %s is not loaded", trackID)))
	}
	if !t.IsPlayable() {
		return p.failLocked(commandError(CodeUnplayableTrack, errors.Wrapf(playback.ErrUnplayable, "track %s", trackID)))
	}

	ids := []string{trackID}
	if len(queueIDs) > 0 {
		ids = p.admitLocked(ctx, trackID, queueIDs)
	}
	if _, err := p.queue.Load(ids, trackID); err != nil {
		return p.failLocked(commandError(CodeInvalidArgument, err))
	}
	zlog.Info().Msgf("player: play track: track=%s queue=%d shuffled=%v", trackID, p.queue.Len(), p.queue.Shuffled())

	if err := p.playCurrentLocked(ctx); err != nil {
		return err
	}
	p.saveLocked()
	return nil
}

// admitLocked runs the admission filters over the supplied queue. Unknown ids
// are dropped. The selected track is always kept.
func (p *Player) admitLocked(ctx context.Context, selected string, queueIDs []string) []string {
	candidates := make([]track.Track, 0, len(queueIDs))
	for _, id := range queueIDs {
		if id == selected {
			continue
		}
		if t, ok := p.store.Track(id); ok {
			candidates = append(candidates, t)
		} else {
			zlog.Debug().Msgf("player: dropping unknown queue entry: track=%s", id)
		}
	}
	admitted, rejected := p.filters.Admit(ctx, candidates)
	for _, r := range rejected {
		zlog.Debug().Msgf("player: queue entry rejected: track=%s code=%s", r.Track.ID, r.Code)
	}

	keep := make(map[string]struct{}, len(admitted)+1)
	keep[selected] = struct{}{}
	for _, t := range admitted {
		keep[t.ID] = struct{}{}
	}

	ids := make([]string, 0, len(keep))
	for _, id := range queueIDs {
		if _, ok := keep[id]; ok {
			ids = append(ids, id)
			delete(keep, id)
		}
	}
	return ids
}

// playCurrentLocked hands the current queue entry to the engine. The queue
// is left untouched on failure so the listener can retry or skip.
func (p *Player) playCurrentLocked(ctx context.Context) error {
	id, ok := p.queue.Current()
	if !ok {
		return p.failLocked(commandError(CodeQueueEmpty, errors.New("queue is empty")))
	}
	t, ok := p.store.Track(id)
	if !ok {
		return p.failLocked(commandError(CodeTrackNotFound, errors.Newf("track %s is not loaded", id)))
	}

	if err := p.engine.Play(ctx, t); err != nil {
		code := CodePlaybackFailed
		if errors.Is(err, playback.ErrUnplayable) {
			code = CodeUnplayableTrack
		}
		return p.failLocked(commandError(code, err))
	}

	p.clearErrorLocked()
	p.store.PushRecent(t.ID)
	p.recordPlay(t)
	p.notifyChanged()
	return nil
}

// recordPlay reports the play to the catalog without waiting for it.
func (p *Player) recordPlay(t track.Track) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.ctx, p.config.RemoteTimeout)
		defer cancel()
		if err := p.gateway.RecordPlay(ctx, t.ID, t.ArtistID); err != nil {
			zlog.Debug().Msgf("player: failed to record play: track=%s err=%v", t.ID, err)
		}
	}()
}

// Pause pauses playback.
func (p *Player) Pause(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return err
	}
	if err := p.engine.Pause(); err != nil {
		return p.failLocked(commandError(CodePlaybackFailed, err))
	}
	return nil
}

// Resume resumes playback. Without a loaded handle the current queue entry
// is played again.
func (p *Player) Resume(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return err
	}

	if !p.engine.State().HasHandle() {
		return p.playCurrentLocked(ctx)
	}
	if err := p.engine.Resume(); err != nil {
		return p.failLocked(commandError(CodePlaybackFailed, err))
	}
	return nil
}

// Next skips to the following track. Past the end without repeat playback
// stops.
func (p *Player) Next(ctx context.Context) error {
	return p.move(ctx, "next", p.queue.Next)
}

// Previous goes back one track.
func (p *Player) Previous(ctx context.Context) error {
	return p.move(ctx, "previous", p.queue.Previous)
}

func (p *Player) move(ctx context.Context, name string, step func() queue.Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return err
	}
	if p.queue.Len() == 0 {
		return p.failLocked(commandError(CodeQueueEmpty, errors.New("queue is empty")))
	}

	action := step()
	zlog.Debug().Msgf("player: %s: action=%s index=%d", name, action, p.queue.Index())

	var err error
	switch action {
	case queue.ActionPlay:
		err = p.playCurrentLocked(ctx)
	case queue.ActionStop:
		if serr := p.engine.Stop(); serr != nil {
			err = p.failLocked(commandError(CodePlaybackFailed, serr))
		}
		p.notifyChanged()
	}
	p.saveLocked()
	return err
}

// ToggleShuffle flips shuffle and returns the new state.
func (p *Player) ToggleShuffle(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return false, err
	}
	shuffled := p.queue.ToggleShuffle()
	zlog.Debug().Msgf("player: shuffle toggled: shuffled=%v index=%d", shuffled, p.queue.Index())
	p.saveLocked()
	p.notifyChanged()
	return shuffled, nil
}

// ToggleRepeat cycles the repeat mode off, all, one.
func (p *Player) ToggleRepeat(_ context.Context) (queue.RepeatMode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return queue.RepeatOff, err
	}
	mode := p.queue.CycleRepeat()
	zlog.Debug().Msgf("player: repeat mode: mode=%s", mode)
	p.saveLocked()
	p.notifyChanged()
	return mode, nil
}

// SeekTo moves the playback position.
func (p *Player) SeekTo(_ context.Context, seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return err
	}
	if seconds < 0 {
		return commandError(CodeInvalidArgument, errors.Newf("negative position: %v", seconds))
	}
	if err := p.engine.Seek(time.Duration(seconds * float64(time.Second))); err != nil {
		return p.failLocked(commandError(CodePlaybackFailed, err))
	}
	return nil
}

// SetVolume sets the volume, clamped to [0,1], and returns the applied value.
func (p *Player) SetVolume(_ context.Context, v float64) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return 0, err
	}
	applied, err := p.engine.SetVolume(v)
	if err != nil {
		return applied, p.failLocked(commandError(CodePlaybackFailed, err))
	}
	p.saveLocked()
	p.notifyChanged()
	return applied, nil
}

// ToggleLike flips the like status of a track for the listener.
func (p *Player) ToggleLike(ctx context.Context, trackID string) (bool, error) {
	id := listener.Resolve(ctx, p.config.Identity)
	liked, err := p.reconciler.ToggleLike(ctx, id.ID, trackID)
	if err != nil {
		return false, p.fail(libraryError(err))
	}
	p.notifyChanged()
	return liked, nil
}

// AddToPlaylist adds a known track to a playlist.
func (p *Player) AddToPlaylist(ctx context.Context, playlistID, trackID string) (bool, error) {
	if listener.Resolve(ctx, p.config.Identity).IsAnonymous() {
		return false, p.fail(commandError(CodeUnauthenticated, library.ErrNoUser))
	}
	t, ok := p.store.Track(trackID)
	if !ok {
		return false, p.fail(commandError(CodeTrackNotFound, errors.Newf("track %s is not loaded", trackID)))
	}
	added, err := p.reconciler.AddToPlaylist(ctx, playlistID, t)
	if err != nil {
		return false, p.fail(libraryError(err))
	}
	p.notifyChanged()
	return added, nil
}

// RemoveFromPlaylist removes a track from a playlist.
func (p *Player) RemoveFromPlaylist(ctx context.Context, playlistID, trackID string) (bool, error) {
	if listener.Resolve(ctx, p.config.Identity).IsAnonymous() {
		return false, p.fail(commandError(CodeUnauthenticated, library.ErrNoUser))
	}
	removed, err := p.reconciler.RemoveFromPlaylist(ctx, playlistID, trackID)
	if err != nil {
		return false, p.fail(libraryError(err))
	}
	p.notifyChanged()
	return removed, nil
}

// CreatePlaylist creates an empty playlist for the listener.
func (p *Player) CreatePlaylist(ctx context.Context, title, description string) (playlist.Playlist, error) {
	id := listener.Resolve(ctx, p.config.Identity)
	if title == "" {
		return playlist.Playlist{}, commandError(CodeInvalidArgument, errors.New("playlist title is required"))
	}
	pl, err := p.reconciler.CreatePlaylist(ctx, id.ID, title, description)
	if err != nil {
		return playlist.Playlist{}, p.fail(libraryError(err))
	}
	pl.CoverURL = p.normalizer.CoverURL(pl.CoverURL)
	p.store.PutPlaylist(pl)
	p.notifyChanged()
	return pl, nil
}

// Refresh reloads the catalog views. Views that loaded stay in place when
// others fail.
func (p *Player) Refresh(ctx context.Context) error {
	id := listener.Resolve(ctx, p.config.Identity)
	p.notifyChanged()
	if err := p.refresher.Refresh(ctx, id.ID); err != nil {
		return p.fail(commandError(CodeRefreshFailed, err))
	}
	p.notifyChanged()
	return nil
}

// Search runs a catalog search. Results are added to the library store so
// they can be played and liked.
func (p *Player) Search(ctx context.Context, query string, sort string) ([]track.Track, error) {
	if query == "" {
		return []track.Track{}, nil
	}
	rows, err := p.gateway.SearchTracks(ctx, query, catalog.ParseSort(sort), p.config.SearchLimit)
	if err != nil {
		return nil, p.fail(commandError(CodeSearchFailed, err))
	}
	tracks, err := p.normalizer.NormalizeAll(rows, p.store.LikeSet())
	if err != nil {
		zlog.Warn().Msgf("player: skipped search rows: query=%s skipped=%d err=%v", query, len(rows)-len(tracks), err)
	}
	p.store.Put(tracks...)
	zlog.Debug().Msgf("player: search: query=%s sort=%s results=%d", query, sort, len(tracks))
	return tracks, nil
}

// Enqueue appends known tracks to the queue.
func (p *Player) Enqueue(_ context.Context, trackIDs ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return err
	}
	for _, id := range trackIDs {
		if _, ok := p.store.Track(id); !ok {
			return commandError(CodeTrackNotFound, errors.Newf("track %s is not loaded", id))
		}
	}
	p.queue.Enqueue(trackIDs...)
	p.saveLocked()
	p.notifyChanged()
	return nil
}

// RemoveFromQueue removes a track from the queue. The current track cannot be
// removed.
func (p *Player) RemoveFromQueue(_ context.Context, trackID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkOpenLocked(); err != nil {
		return false, err
	}
	if current, ok := p.queue.Current(); ok && current == trackID {
		return false, commandError(CodeInvalidArgument, errors.New("cannot remove the current track"))
	}
	if !slices.Contains(p.queue.Order(), trackID) {
		return false, nil
	}
	p.queue.Remove(trackID)
	p.saveLocked()
	p.notifyChanged()
	return true, nil
}

// DismissError clears the error shown in the snapshot.
func (p *Player) DismissError(_ context.Context) {
	p.mu.Lock()
	p.clearErrorLocked()
	p.mu.Unlock()
	p.reconciler.ClearErr()
	p.notifyChanged()
}

func (p *Player) checkOpenLocked() error {
	if p.closed {
		return commandError(CodeClosed, playback.ErrClosed)
	}
	return nil
}

func (p *Player) fail(err *CommandError) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failLocked(err)
}

// failLocked records err for the snapshot and returns it.
func (p *Player) failLocked(err *CommandError) error {
	zlog.Warn().Msgf("player: command failed: code=%s err=%v", err.Code, err.Err)
	p.setErrorLocked(err)
	p.notifyChanged()
	return err
}

func (p *Player) setErrorLocked(err *CommandError) {
	p.errCode = err.Code
	p.errMsg = err.Message()
}

func (p *Player) clearErrorLocked() {
	p.errCode = ""
	p.errMsg = ""
}

func libraryError(err error) *CommandError {
	switch {
	case errors.Is(err, library.ErrNoUser):
		return commandError(CodeUnauthenticated, err)
	case errors.Is(err, library.ErrUnknownTrack):
		return commandError(CodeTrackNotFound, err)
	case errors.Is(err, library.ErrUnknownPlaylist):
		return commandError(CodePlaylistNotFound, err)
	default:
		return commandError(CodeMutationFailed, err)
	}
}
