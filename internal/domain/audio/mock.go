package audio

import (
	"context"
	"sync"
	"time"
)

// MockDevice is a test double for Device. It tracks how many handles are
// live so tests can assert that at most one output exists at a time.
type MockDevice struct {
	mu       sync.Mutex
	handles  []*MockHandle
	live     int
	maxLive  int
	openErr  error
	playErr  error
	duration time.Duration
}

// NewMockDevice creates a new mock device.
func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

// Open allocates a new mock handle.
func (d *MockDevice) Open(_ context.Context, src Source, onStatus StatusFunc) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openErr != nil {
		return nil, d.openErr
	}

	duration := src.Duration
	if d.duration > 0 {
		duration = d.duration
	}
	h := &MockHandle{
		device:   d,
		src:      src,
		onStatus: onStatus,
		duration: duration,
		volume:   1,
		playErr:  d.playErr,
	}
	d.handles = append(d.handles, h)
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	return h, nil
}

// SetOpenError makes subsequent Open calls fail.
func (d *MockDevice) SetOpenError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// SetPlayError makes Play fail on handles opened afterwards.
func (d *MockDevice) SetPlayError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playErr = err
}

// SetDuration overrides the duration reported by new handles.
func (d *MockDevice) SetDuration(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.duration = dur
}

// LiveHandles returns the number of handles not yet unloaded.
func (d *MockDevice) LiveHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

// MaxLiveHandles returns the highest number of simultaneously live handles.
func (d *MockDevice) MaxLiveHandles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxLive
}

// Handles returns every handle opened so far.
func (d *MockDevice) Handles() []*MockHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MockHandle(nil), d.handles...)
}

// Last returns the most recently opened handle, or nil.
func (d *MockDevice) Last() *MockHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

func (d *MockDevice) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live--
}

// MockHandle is a handle of MockDevice. Transport calls report a status
// synchronously, like a device acknowledging a command.
type MockHandle struct {
	mu       sync.Mutex
	device   *MockDevice
	src      Source
	onStatus StatusFunc
	playing  bool
	position time.Duration
	duration time.Duration
	volume   float64
	unloaded bool
	playErr  error
	seeks    []time.Duration
}

// Play starts playback.
func (h *MockHandle) Play() error {
	h.mu.Lock()
	if h.playErr != nil {
		h.mu.Unlock()
		return h.playErr
	}
	h.playing = true
	h.mu.Unlock()
	h.report()
	return nil
}

// Pause pauses playback.
func (h *MockHandle) Pause() error {
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
	h.report()
	return nil
}

// Seek moves the position, clamped to the duration.
func (h *MockHandle) Seek(pos time.Duration) error {
	h.mu.Lock()
	if pos < 0 {
		pos = 0
	}
	if pos > h.duration {
		pos = h.duration
	}
	h.position = pos
	h.seeks = append(h.seeks, pos)
	h.mu.Unlock()
	h.report()
	return nil
}

// SetVolume stores the volume.
func (h *MockHandle) SetVolume(v float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = v
	return nil
}

// Unload releases the handle.
func (h *MockHandle) Unload() error {
	h.mu.Lock()
	if h.unloaded {
		h.mu.Unlock()
		return nil
	}
	h.unloaded = true
	h.playing = false
	h.mu.Unlock()
	h.device.release()
	return nil
}

// Test helpers

// Source returns the source the handle was opened with.
func (h *MockHandle) Source() Source { return h.src }

// Unloaded reports whether Unload was called.
func (h *MockHandle) Unloaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unloaded
}

// Playing reports the device play flag.
func (h *MockHandle) Playing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

// Volume returns the last volume set.
func (h *MockHandle) Volume() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume
}

// Seeks returns every seek position requested.
func (h *MockHandle) Seeks() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.seeks...)
}

// SimulateProgress reports a playback tick at pos. It is delivered even after
// Unload, to exercise stale event handling.
func (h *MockHandle) SimulateProgress(pos time.Duration) {
	h.mu.Lock()
	h.position = pos
	h.mu.Unlock()
	h.report()
}

// SimulateFinished reports end of track. It is delivered even after Unload.
func (h *MockHandle) SimulateFinished() {
	h.mu.Lock()
	h.playing = false
	h.position = h.duration
	st := Status{Loaded: true, Finished: true, Position: h.duration, Duration: h.duration}
	h.mu.Unlock()
	h.onStatus(st)
}

// SimulateError reports a device failure.
func (h *MockHandle) SimulateError(err error) {
	h.mu.Lock()
	h.playing = false
	st := Status{Loaded: true, Position: h.position, Duration: h.duration, Err: err}
	h.mu.Unlock()
	h.onStatus(st)
}

func (h *MockHandle) report() {
	h.mu.Lock()
	st := Status{Loaded: true, Playing: h.playing, Position: h.position, Duration: h.duration}
	h.mu.Unlock()
	h.onStatus(st)
}
