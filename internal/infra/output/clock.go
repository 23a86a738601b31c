// Package output provides the audio devices the player can drive.
package output

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/domain/audio"
)

// ErrUnloaded is returned by transport calls on an unloaded handle.
var ErrUnloaded = errors.New("handle is unloaded")

// ClockSettings configures the clock device.
type ClockSettings struct {
	TickMs          int `yaml:"tick_ms" mapstructure:"tick_ms" default:"250" validate:"gte=1"`
	DefaultDuration int `yaml:"default_duration_sec" mapstructure:"default_duration_sec" default:"180" validate:"gte=1"`
}

// ClockDevice plays nothing: it advances a position clock at real speed and
// reports progress and end of track. It serves headless deployments where
// the client renders audio itself from the track URL.
type ClockDevice struct {
	tick            time.Duration
	defaultDuration time.Duration
	now             func() time.Time
}

var _ audio.Device = (*ClockDevice)(nil)

// NewClockDevice creates a clock device.
func NewClockDevice(s ClockSettings) *ClockDevice {
	d := &ClockDevice{
		tick:            time.Duration(s.TickMs) * time.Millisecond,
		defaultDuration: time.Duration(s.DefaultDuration) * time.Second,
		now:             time.Now,
	}
	if d.tick <= 0 {
		d.tick = 250 * time.Millisecond
	}
	if d.defaultDuration <= 0 {
		d.defaultDuration = 180 * time.Second
	}
	return d
}

// Open loads src. Nothing is reported until Play.
func (d *ClockDevice) Open(_ context.Context, src audio.Source, onStatus audio.StatusFunc) (audio.Handle, error) {
	if src.URL == "" {
		return nil, errors.Newf("track %s has no audio url", src.TrackID)
	}
	duration := src.Duration
	if duration <= 0 {
		duration = d.defaultDuration
	}
	zlog.Debug().Msgf("output: clock opened: track=%s duration=%v", src.TrackID, duration)
	return &clockHandle{
		device:   d,
		trackID:  src.TrackID,
		duration: duration,
		volume:   1,
		onStatus: onStatus,
		done:     make(chan struct{}),
	}, nil
}

type clockHandle struct {
	device   *ClockDevice
	trackID  string
	duration time.Duration
	onStatus audio.StatusFunc

	mu       sync.Mutex
	playing  bool
	offset   time.Duration // position when playing last started
	since    time.Time
	volume   float64
	started  bool
	finished bool
	unloaded bool
	done     chan struct{}
}

func (h *clockHandle) Play() error {
	h.mu.Lock()
	if h.unloaded {
		h.mu.Unlock()
		return ErrUnloaded
	}
	if !h.playing {
		if h.finished {
			h.offset = 0
			h.finished = false
		}
		h.playing = true
		h.since = h.device.now()
	}
	if !h.started {
		h.started = true
		go h.run()
	}
	st := h.statusLocked()
	h.mu.Unlock()

	h.onStatus(st)
	return nil
}

func (h *clockHandle) Pause() error {
	h.mu.Lock()
	if h.unloaded {
		h.mu.Unlock()
		return ErrUnloaded
	}
	h.offset = h.positionLocked()
	h.playing = false
	st := h.statusLocked()
	h.mu.Unlock()

	h.onStatus(st)
	return nil
}

func (h *clockHandle) Seek(pos time.Duration) error {
	h.mu.Lock()
	if h.unloaded {
		h.mu.Unlock()
		return ErrUnloaded
	}
	h.offset = min(max(pos, 0), h.duration)
	h.since = h.device.now()
	h.finished = false
	st := h.statusLocked()
	h.mu.Unlock()

	h.onStatus(st)
	return nil
}

func (h *clockHandle) SetVolume(v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = audio.ClampVolume(v)
	return nil
}

// Unload stops reporting. It does not wait for the clock goroutine.
func (h *clockHandle) Unload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unloaded {
		return nil
	}
	h.unloaded = true
	h.playing = false
	close(h.done)
	zlog.Debug().Msgf("output: clock unloaded: track=%s", h.trackID)
	return nil
}

func (h *clockHandle) run() {
	ticker := time.NewTicker(h.device.tick)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		h.mu.Lock()
		if h.unloaded {
			h.mu.Unlock()
			return
		}
		if !h.playing {
			h.mu.Unlock()
			continue
		}
		st := h.statusLocked()
		if st.Position >= h.duration {
			h.playing = false
			h.finished = true
			h.offset = h.duration
			st = audio.Status{Loaded: true, Finished: true, Position: h.duration, Duration: h.duration}
		}
		h.mu.Unlock()

		h.onStatus(st)
	}
}

func (h *clockHandle) positionLocked() time.Duration {
	if !h.playing {
		return h.offset
	}
	return min(h.offset+h.device.now().Sub(h.since), h.duration)
}

func (h *clockHandle) statusLocked() audio.Status {
	return audio.Status{
		Loaded:   true,
		Playing:  h.playing,
		Position: h.positionLocked(),
		Duration: h.duration,
	}
}
