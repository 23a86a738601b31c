package output

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/domain/audio"
)

// SpeakerSettings configures the speaker device.
type SpeakerSettings struct {
	BufferMs       int   `yaml:"buffer_ms" mapstructure:"buffer_ms" default:"100" validate:"gte=10"`
	FetchTimeoutMs int   `yaml:"fetch_timeout_ms" mapstructure:"fetch_timeout_ms" default:"30000" validate:"gte=1"`
	MaxBytes       int64 `yaml:"max_bytes" mapstructure:"max_bytes" default:"104857600" validate:"gte=1"`
	ProgressMs     int   `yaml:"progress_ms" mapstructure:"progress_ms" default:"500" validate:"gte=1"`
}

// SpeakerDevice downloads mp3 tracks and plays them on the local sound card.
type SpeakerDevice struct {
	settings SpeakerSettings
	client   *http.Client

	mu          sync.Mutex
	initialized bool
	sampleRate  beep.SampleRate
}

var _ audio.Device = (*SpeakerDevice)(nil)

// NewSpeakerDevice creates a speaker device. The sound card is initialized
// on first use with the sample rate of the first track.
func NewSpeakerDevice(s SpeakerSettings) *SpeakerDevice {
	return &SpeakerDevice{
		settings: s,
		client:   &http.Client{Timeout: time.Duration(s.FetchTimeoutMs) * time.Millisecond},
	}
}

type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

// Open fetches and decodes src. The stream is buffered in memory, so it
// outlives ctx.
func (d *SpeakerDevice) Open(ctx context.Context, src audio.Source, onStatus audio.StatusFunc) (audio.Handle, error) {
	data, err := d.fetch(ctx, src.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch track %s", src.TrackID)
	}

	streamer, format, err := mp3.Decode(memFile{bytes.NewReader(data)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode track %s", src.TrackID)
	}

	sampleRate, err := d.init(format.SampleRate)
	if err != nil {
		_ = streamer.Close()
		return nil, err
	}

	var s beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		s = beep.Resample(4, format.SampleRate, sampleRate, streamer)
	}
	ctrl := &beep.Ctrl{Streamer: s, Paused: true}
	h := &speakerHandle{
		trackID:  src.TrackID,
		streamer: streamer,
		format:   format,
		ctrl:     ctrl,
		volume:   &effects.Volume{Streamer: ctrl, Base: 2},
		duration: format.SampleRate.D(streamer.Len()),
		progress: time.Duration(d.settings.ProgressMs) * time.Millisecond,
		onStatus: onStatus,
		done:     make(chan struct{}),
	}
	if h.duration <= 0 {
		h.duration = src.Duration
	}
	if h.progress <= 0 {
		h.progress = 500 * time.Millisecond
	}
	zlog.Debug().Msgf("output: speaker opened: track=%s duration=%v rate=%d", src.TrackID, h.duration, format.SampleRate)
	return h, nil
}

func (d *SpeakerDevice) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("unexpected status: %s", resp.Status)
	}
	limit := d.settings.MaxBytes
	if limit <= 0 {
		limit = 100 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.Newf("track exceeds %d bytes", limit)
	}
	return data, nil
}

func (d *SpeakerDevice) init(rate beep.SampleRate) (beep.SampleRate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return d.sampleRate, nil
	}
	buffer := time.Duration(d.settings.BufferMs) * time.Millisecond
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	if err := speaker.Init(rate, rate.N(buffer)); err != nil {
		return 0, errors.Wrap(err, "failed to initialize speaker")
	}
	d.initialized = true
	d.sampleRate = rate
	zlog.Info().Msgf("output: speaker initialized: rate=%d buffer=%v", rate, buffer)
	return rate, nil
}

type speakerHandle struct {
	trackID  string
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	duration time.Duration
	progress time.Duration
	onStatus audio.StatusFunc

	mu       sync.Mutex
	queued   bool // the stream is on the speaker
	started  bool
	unloaded bool
	done     chan struct{}
}

func (h *speakerHandle) Play() error {
	h.mu.Lock()
	if h.unloaded {
		h.mu.Unlock()
		return ErrUnloaded
	}
	enqueue := !h.queued
	first := !h.started
	h.queued = true
	h.started = true
	h.mu.Unlock()

	speaker.Lock()
	if h.streamer.Position() >= h.streamer.Len() {
		_ = h.streamer.Seek(0)
	}
	h.ctrl.Paused = false
	speaker.Unlock()

	if enqueue {
		// the callback runs with the speaker locked
		speaker.Play(beep.Seq(h.volume, beep.Callback(func() {
			h.mu.Lock()
			h.queued = false
			h.mu.Unlock()
			go h.finish()
		})))
	}
	if first {
		go h.report()
	}
	h.onStatus(h.status())
	return nil
}

func (h *speakerHandle) Pause() error {
	if h.isUnloaded() {
		return ErrUnloaded
	}
	speaker.Lock()
	h.ctrl.Paused = true
	speaker.Unlock()
	h.onStatus(h.status())
	return nil
}

func (h *speakerHandle) Seek(pos time.Duration) error {
	if h.isUnloaded() {
		return ErrUnloaded
	}
	pos = min(max(pos, 0), h.duration)
	n := min(h.format.SampleRate.N(pos), h.streamer.Len())

	speaker.Lock()
	err := h.streamer.Seek(n)
	speaker.Unlock()
	if err != nil {
		return errors.Wrapf(err, "failed to seek track %s", h.trackID)
	}
	h.onStatus(h.status())
	return nil
}

func (h *speakerHandle) SetVolume(v float64) error {
	v = audio.ClampVolume(v)
	speaker.Lock()
	h.volume.Volume = levelToVolume(v)
	h.volume.Silent = v == 0
	speaker.Unlock()
	return nil
}

func (h *speakerHandle) Unload() error {
	h.mu.Lock()
	if h.unloaded {
		h.mu.Unlock()
		return nil
	}
	h.unloaded = true
	close(h.done)
	h.mu.Unlock()

	speaker.Lock()
	h.ctrl.Streamer = nil
	speaker.Unlock()
	return h.streamer.Close()
}

func (h *speakerHandle) isUnloaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unloaded
}

func (h *speakerHandle) finish() {
	if h.isUnloaded() {
		return
	}
	h.onStatus(audio.Status{Loaded: true, Finished: true, Position: h.duration, Duration: h.duration})
}

func (h *speakerHandle) report() {
	ticker := time.NewTicker(h.progress)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}
		st := h.status()
		if st.Playing && !h.isUnloaded() {
			h.onStatus(st)
		}
	}
}

func (h *speakerHandle) status() audio.Status {
	speaker.Lock()
	defer speaker.Unlock()
	return audio.Status{
		Loaded:   true,
		Playing:  !h.ctrl.Paused && h.ctrl.Streamer != nil,
		Position: h.format.SampleRate.D(h.streamer.Position()),
		Duration: h.duration,
	}
}

// levelToVolume maps a linear level onto the base 2 scale of effects.Volume.
func levelToVolume(level float64) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 1 {
		return 0
	}
	return math.Log2(level)
}
