// Package player provides the player: the single owner of the queue, the
// playback engine and the library, exposing snapshots and commands.
package player

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/app/filter"
	"github.com/osa030/19tune/internal/app/library"
	"github.com/osa030/19tune/internal/app/notification"
	"github.com/osa030/19tune/internal/app/playback"
	"github.com/osa030/19tune/internal/app/queue"
	"github.com/osa030/19tune/internal/app/refresh"
	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/listener"
	"github.com/osa030/19tune/internal/domain/session"
	"github.com/osa030/19tune/internal/domain/track"
)

// NotificationSnapshot is the type of snapshot notifications.
const NotificationSnapshot = "snapshot"

// Scrobbler reports listening activity to an external service.
type Scrobbler interface {
	NowPlaying(ctx context.Context, t track.Track) error
	Scrobble(ctx context.Context, t track.Track, startedAt time.Time) error
	ShouldScrobble(t track.Track, played time.Duration) bool
}

// Config holds player configuration.
type Config struct {
	// Identity is used when a command context carries none.
	Identity       listener.Identity
	SearchLimit    int
	RemoteTimeout  time.Duration
	RefreshOnStart bool
}

// Deps are the collaborators of a Player. Scrobbler and Sessions are optional.
type Deps struct {
	Engine     *playback.Engine
	Store      *library.Store
	Reconciler *library.Reconciler
	Refresher  *refresh.Orchestrator
	Gateway    catalog.Gateway
	Normalizer *track.Normalizer
	Filters    *filter.Chain
	Queue      *queue.Queue
	Scrobbler  Scrobbler
	Sessions   session.Store
}

// Player owns every piece of mutable player state.
type Player struct {
	// mu serializes commands and guards the queue and the error fields.
	mu sync.Mutex

	config Config

	engine       *playback.Engine
	queue        *queue.Queue
	store        *library.Store
	reconciler   *library.Reconciler
	refresher    *refresh.Orchestrator
	gateway      catalog.Gateway
	normalizer   *track.Normalizer
	filters      *filter.Chain
	scrobbler    Scrobbler
	sessions     session.Store
	notification *notification.Manager[Snapshot]

	errCode Code
	errMsg  string

	// set when the current track starts, for scrobbling
	startedAt time.Time

	changed chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	closed  bool
}

// New creates a new player.
func New(config Config, deps Deps) (*Player, error) {
	if deps.Engine == nil || deps.Store == nil || deps.Reconciler == nil || deps.Refresher == nil || deps.Gateway == nil || deps.Normalizer == nil {
		return nil, errors.New("player: missing dependency")
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = 50
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = 10 * time.Second
	}
	if deps.Filters == nil {
		deps.Filters = filter.NewChain()
	}
	if deps.Queue == nil {
		deps.Queue = queue.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		config:       config,
		engine:       deps.Engine,
		queue:        deps.Queue,
		store:        deps.Store,
		reconciler:   deps.Reconciler,
		refresher:    deps.Refresher,
		gateway:      deps.Gateway,
		normalizer:   deps.Normalizer,
		filters:      deps.Filters,
		scrobbler:    deps.Scrobbler,
		sessions:     deps.Sessions,
		notification: notification.NewManager[Snapshot](),
		changed:      make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
	p.engine.OnTrackEnd(p.onTrackEnd)
	p.reconciler.OnChange(p.notifyChanged)
	return p, nil
}

// Start restores the saved session and starts the background loops.
func (p *Player) Start(ctx context.Context) error {
	if p.sessions != nil {
		if err := p.restore(ctx); err != nil {
			zlog.Warn().Msgf("player: failed to restore session: %v", err)
		}
	}

	p.wg.Add(2)
	go p.playbackLoop()
	go p.broadcastLoop()

	if p.config.RefreshOnStart {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			_ = p.Refresh(p.ctx)
		}()
	}
	zlog.Info().Msgf("player: started: user=%s", p.config.Identity.ID)
	return nil
}

// Close releases the audio device, flushes the session and stops the loops.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.save()
	p.cancel()
	err := p.engine.Close()
	p.reconciler.Close()
	p.wg.Wait()
	p.notification.Close()
	if p.sessions != nil {
		err = errors.CombineErrors(err, p.sessions.Close())
	}
	zlog.Info().Msg("player: closed")
	return err
}

// Done is closed when the player is closed.
func (p *Player) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Notifications returns the snapshot notification manager.
func (p *Player) Notifications() *notification.Manager[Snapshot] {
	return p.notification
}

// playbackLoop handles playback events.
func (p *Player) playbackLoop() {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("player: playback loop panicked: %v", r)
			// Restart loop so events keep flowing
			zlog.Info().Msg("player: restarting playback loop")
			p.wg.Add(1)
			go p.playbackLoop()
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case event := <-p.engine.Events():
			p.handlePlaybackEvent(event)
		}
	}
}

// handlePlaybackEvent handles playback events.
func (p *Player) handlePlaybackEvent(event playback.Event) {
	zlog.Debug().Msgf("player: playback event: type=%s state=%s", event.Type, event.State)

	switch event.Type {
	case playback.EventTrackStarted:
		p.onTrackStarted(event.Track)
	case playback.EventTrackEnded:
		p.onTrackEnded(event.Track)
	case playback.EventPlaybackError:
		zlog.Warn().Msgf("player: playback error: %v", event.Err)
	}
	p.notifyChanged()
}

func (p *Player) onTrackStarted(t *track.Track) {
	if t == nil {
		return
	}
	p.mu.Lock()
	p.startedAt = time.Now()
	p.mu.Unlock()

	zlog.Info().Msgf("player: now playing: track=%s title=%s artist=%s", t.ID, t.Title, t.ArtistName)
	if p.scrobbler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.config.RemoteTimeout)
	defer cancel()
	if err := p.scrobbler.NowPlaying(ctx, *t); err != nil {
		zlog.Debug().Msgf("player: now playing update failed: %v", err)
	}
}

func (p *Player) onTrackEnded(t *track.Track) {
	if t == nil || p.scrobbler == nil {
		return
	}
	p.mu.Lock()
	startedAt := p.startedAt
	p.mu.Unlock()
	if startedAt.IsZero() || !p.scrobbler.ShouldScrobble(*t, t.Duration) {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.config.RemoteTimeout)
	defer cancel()
	if err := p.scrobbler.Scrobble(ctx, *t, startedAt); err != nil {
		zlog.Warn().Msgf("player: scrobble failed: track=%s err=%v", t.ID, err)
	}
}

// onTrackEnd runs on the device status goroutine when a track finishes. A
// command may have replaced the handle while the end report waited for the
// lock; such a report is dropped.
func (p *Player) onTrackEnd(gen uint64, t track.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if !p.engine.IsCurrent(gen) {
		zlog.Debug().Msgf("player: ignoring end of replaced track: track=%s gen=%d", t.ID, gen)
		return
	}

	action := p.queue.OnTrackEnd()
	zlog.Debug().Msgf("player: track end: track=%s action=%s index=%d", t.ID, action, p.queue.Index())

	switch action {
	case queue.ActionReplay:
		if err := p.engine.Restart(); err != nil {
			p.setErrorLocked(commandError(CodePlaybackFailed, err))
		}
	case queue.ActionPlay:
		_ = p.playCurrentLocked(p.ctx)
	case queue.ActionStop:
		zlog.Info().Msg("player: reached end of queue")
	}
	p.saveLocked()
	p.notifyChanged()
}

// notifyChanged schedules a snapshot broadcast. Bursts are coalesced.
func (p *Player) notifyChanged() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *Player) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.changed:
			if p.notification.SubscriberCount() == 0 {
				continue
			}
			p.notification.Broadcast(NotificationSnapshot, p.Snapshot())
		}
	}
}

// save persists the session.
func (p *Player) save() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saveLocked()
}

func (p *Player) saveLocked() {
	if p.sessions == nil {
		return
	}
	qs := p.queue.State()
	st := p.engine.Status()
	recent := p.store.ViewIDs(library.ViewRecentlyPlayed)

	ids := make([]string, 0, len(qs.Original)+len(recent))
	ids = append(ids, qs.Original...)
	ids = append(ids, recent...)

	p.sessions.Save(session.State{
		UserID:         p.config.Identity.ID,
		Order:          qs.Order,
		Original:       qs.Original,
		Index:          qs.Index,
		Shuffled:       qs.Shuffled,
		Repeat:         qs.Repeat.String(),
		Volume:         st.Volume,
		Position:       st.Position,
		RecentlyPlayed: recent,
		Tracks:         p.store.Tracks(uniqueIDs(ids)),
		SavedAt:        time.Now(),
	})
}

// restore loads the saved session. Playback is not resumed automatically.
func (p *Player) restore(ctx context.Context) error {
	s, err := p.sessions.Load(ctx, p.config.Identity.ID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	repeat, err := queue.ParseRepeatMode(s.Repeat)
	if err != nil {
		repeat = queue.RepeatOff
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.store.Put(s.Tracks...)
	if err := p.queue.Restore(queue.State{
		Order:    s.Order,
		Original: s.Original,
		Index:    s.Index,
		Shuffled: s.Shuffled,
		Repeat:   repeat,
	}); err != nil {
		return err
	}
	p.store.SetViewIDs(library.ViewRecentlyPlayed, s.RecentlyPlayed)
	if _, err := p.engine.SetVolume(s.Volume); err != nil {
		return err
	}
	zlog.Info().Msgf("player: session restored: tracks=%d index=%d saved_at=%s", len(s.Order), s.Index, s.SavedAt.Format(time.RFC3339))
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
