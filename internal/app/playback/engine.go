package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/domain/audio"
	"github.com/osa030/19tune/internal/domain/track"
)

// Errors
var (
	ErrClosed     = errors.New("playback engine closed")
	ErrUnplayable = errors.New("track has no audio url")
	ErrNoTrack    = errors.New("no track loaded")
)

// Config holds engine configuration.
type Config struct {
	InitialVolume float64 // [0,1]
	EventBuffer   int     // size of the event channel
}

// EndHandler is called when the device reports the end of a track. It runs on
// the goroutine that delivered the status, after the engine lock is released,
// so gen may already be superseded by the time it runs; see IsCurrent.
type EndHandler func(gen uint64, t track.Track)

// Status is a point-in-time view of the engine.
type Status struct {
	State    State
	Track    *track.Track
	Position time.Duration
	Duration time.Duration
	Volume   float64
	Err      error
}

// IsPlaying reports whether the device is playing.
func (s Status) IsPlaying() bool {
	return s.State == StatePlaying
}

// Engine owns the single audio device handle.
type Engine struct {
	// opMu serializes device operations so that a handle is always released
	// before the next one is opened.
	opMu sync.Mutex
	mu   sync.RWMutex

	device audio.Device
	handle audio.Handle
	gen    uint64 // generation of the current handle

	state    State
	current  *track.Track
	position time.Duration
	duration time.Duration
	volume   float64
	lastErr  error
	started  bool // EventTrackStarted sent for the current generation
	closed   bool

	onEnd   EndHandler
	eventCh chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a new playback engine.
func NewEngine(device audio.Device, config Config) *Engine {
	if config.EventBuffer <= 0 {
		config.EventBuffer = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		device:  device,
		state:   StateIdle,
		volume:  audio.ClampVolume(config.InitialVolume),
		eventCh: make(chan Event, config.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Events returns the event channel.
func (e *Engine) Events() <-chan Event {
	return e.eventCh
}

// OnTrackEnd registers the end-of-track handler.
func (e *Engine) OnTrackEnd(fn EndHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnd = fn
}

// Play releases the current handle, opens a new one for t and asks the device
// to start. The state becomes Playing only once the device confirms.
func (e *Engine) Play(ctx context.Context, t track.Track) error {
	if !t.IsPlayable() {
		return errors.Wrapf(ErrUnplayable, "track %s", t.ID)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	old := e.handle
	e.handle = nil
	e.gen++
	gen := e.gen
	e.current = &t
	e.position = 0
	e.duration = t.Duration
	e.lastErr = nil
	e.started = false
	e.setStateLocked(StateLoading)
	volume := e.volume
	e.mu.Unlock()

	if old != nil {
		if err := old.Unload(); err != nil {
			zlog.Warn().Msgf("playback: failed to unload previous handle: %v", err)
		}
	}

	zlog.Debug().Msgf("playback: opening: track=%s gen=%d", t.ID, gen)
	h, err := e.device.Open(ctx, audio.Source{TrackID: t.ID, URL: t.AudioURL, Duration: t.Duration}, func(s audio.Status) {
		e.handleStatus(gen, s)
	})
	if err != nil {
		e.fail(gen, err)
		return errors.Wrapf(err, "failed to open track %s", t.ID)
	}
	if err := h.SetVolume(volume); err != nil {
		zlog.Warn().Msgf("playback: failed to set volume: %v", err)
	}

	e.mu.Lock()
	e.handle = h
	e.mu.Unlock()

	if err := h.Play(); err != nil {
		e.mu.Lock()
		e.handle = nil
		e.mu.Unlock()
		if uerr := h.Unload(); uerr != nil {
			zlog.Warn().Msgf("playback: failed to unload failed handle: %v", uerr)
		}
		e.fail(gen, err)
		return errors.Wrapf(err, "failed to play track %s", t.ID)
	}
	return nil
}

// Pause forwards to the device. No-op without a handle.
func (e *Engine) Pause() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	h := e.currentHandle()
	if h == nil {
		return nil
	}
	return errors.Wrap(h.Pause(), "failed to pause")
}

// Resume forwards to the device. No-op without a handle. An ended track is
// restarted from the beginning.
func (e *Engine) Resume() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	h := e.currentHandle()
	if h == nil {
		return nil
	}

	e.mu.RLock()
	ended := e.state == StateEnded
	e.mu.RUnlock()
	if ended {
		return e.restartLocked(h)
	}
	return errors.Wrap(h.Play(), "failed to resume")
}

// Restart seeks the current track to 0 and plays it.
func (e *Engine) Restart() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	h := e.currentHandle()
	if h == nil {
		return ErrNoTrack
	}
	return e.restartLocked(h)
}

func (e *Engine) restartLocked(h audio.Handle) error {
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()

	if err := h.Seek(0); err != nil {
		return errors.Wrap(err, "failed to seek to start")
	}
	return errors.Wrap(h.Play(), "failed to restart")
}

// Seek forwards to the device, which clamps to the track duration.
func (e *Engine) Seek(pos time.Duration) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	h := e.currentHandle()
	if h == nil {
		return nil
	}
	if pos < 0 {
		pos = 0
	}
	return errors.Wrap(h.Seek(pos), "failed to seek")
}

// SetVolume clamps v to [0,1], remembers it for later handles and forwards it
// to the current one. Returns the applied volume.
func (e *Engine) SetVolume(v float64) (float64, error) {
	v = audio.ClampVolume(v)

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	e.volume = v
	h := e.handle
	e.mu.Unlock()

	if h == nil {
		return v, nil
	}
	return v, errors.Wrap(h.SetVolume(v), "failed to set volume")
}

// Stop releases the handle. The last track stays visible in Status.
func (e *Engine) Stop() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.releaseLocked()
}

// Close releases the handle and rejects further playback.
func (e *Engine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	err := e.releaseLocked()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	return err
}

// releaseLocked unloads the current handle. opMu must be held.
func (e *Engine) releaseLocked() error {
	e.mu.Lock()
	h := e.handle
	e.handle = nil
	e.gen++ // drop any late status from the released handle
	e.setStateLocked(StateIdle)
	e.mu.Unlock()

	if h == nil {
		return nil
	}
	return errors.Wrap(h.Unload(), "failed to unload")
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var t *track.Track
	if e.current != nil {
		c := *e.current
		t = &c
	}
	return Status{
		State:    e.state,
		Track:    t,
		Position: e.position,
		Duration: e.duration,
		Volume:   e.volume,
		Err:      e.lastErr,
	}
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsCurrent reports whether gen is the generation of the live handle.
func (e *Engine) IsCurrent(gen uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return gen == e.gen && !e.closed
}

func (e *Engine) currentHandle() audio.Handle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handle
}

// handleStatus applies a device status report. Reports from a superseded
// generation are ignored.
func (e *Engine) handleStatus(gen uint64, s audio.Status) {
	e.mu.Lock()
	if gen != e.gen || e.closed {
		e.mu.Unlock()
		zlog.Debug().Msgf("playback: dropping stale status: gen=%d current=%d", gen, e.gen)
		return
	}

	if s.Duration > 0 {
		e.duration = s.Duration
	}
	e.position = s.Position

	var (
		ended   *track.Track
		onEnd   EndHandler
		release audio.Handle
	)

	switch {
	case s.Err != nil:
		zlog.Error().Msgf("playback: device error: track=%s err=%v", e.trackIDLocked(), s.Err)
		e.lastErr = s.Err
		release = e.handle
		e.handle = nil
		e.setStateLocked(StateError)
		e.sendEventLocked(EventPlaybackError, s.Err)
	case s.Finished:
		e.position = e.duration
		if e.state != StateEnded && e.setStateLocked(StateEnded) {
			zlog.Debug().Msgf("playback: track ended: track=%s", e.trackIDLocked())
			e.sendEventLocked(EventTrackEnded, nil)
			if e.current != nil {
				c := *e.current
				ended = &c
			}
			onEnd = e.onEnd
		}
	case !s.Loaded:
		// still loading
	default:
		next := StatePaused
		if s.Playing {
			next = StatePlaying
		}
		e.setStateLocked(next)
		if s.Playing && !e.started {
			e.started = true
			zlog.Info().Msgf("playback: track started: track=%s duration=%v", e.trackIDLocked(), e.duration)
			e.sendEventLocked(EventTrackStarted, nil)
		}
	}
	e.mu.Unlock()

	if release != nil {
		if err := release.Unload(); err != nil {
			zlog.Warn().Msgf("playback: failed to unload failed handle: %v", err)
		}
	}
	if ended != nil && onEnd != nil {
		onEnd(gen, *ended)
	}
}

// fail moves to the error state if gen is still current.
func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen {
		return
	}
	zlog.Error().Msgf("playback: failed: track=%s err=%v", e.trackIDLocked(), err)
	e.lastErr = err
	e.setStateLocked(StateError)
	e.sendEventLocked(EventPlaybackError, err)
}

// setStateLocked moves the state machine. Returns false for a rejected transition.
func (e *Engine) setStateLocked(s State) bool {
	if e.state == s {
		return true
	}
	if !CanTransition(e.state, s) {
		zlog.Warn().Msgf("playback: ignoring transition: from=%s to=%s", e.state, s)
		return false
	}
	zlog.Debug().Msgf("playback: state: from=%s to=%s", e.state, s)
	e.state = s
	e.sendEventLocked(EventStateChanged, nil)
	return true
}

func (e *Engine) sendEventLocked(typ EventType, err error) {
	var t *track.Track
	if e.current != nil {
		c := *e.current
		t = &c
	}
	ev := Event{Type: typ, Track: t, State: e.state, Err: err}
	select {
	case e.eventCh <- ev:
	case <-e.ctx.Done():
	default:
		zlog.Debug().Msgf("playback: event dropped: type=%s", typ)
	}
}

func (e *Engine) trackIDLocked() string {
	if e.current == nil {
		return ""
	}
	return e.current.ID
}
