// Package audio defines the audio output device contract.
//
// A Device opens Handles; each Handle is one loaded track on the output.
// Handles report their state through the StatusFunc given to Open. Devices
// must not invoke the StatusFunc from within Open, must not report Finished
// from within a Handle method, and should stop invoking it once Unload
// returns. Transport acknowledgements (Play, Pause, Seek) may be reported
// synchronously.
package audio

import (
	"context"
	"time"
)

// Source describes what to load.
type Source struct {
	TrackID  string
	URL      string
	Duration time.Duration // hint from the catalog; the device may report a better value
}

// Status is a device-level status report.
type Status struct {
	Loaded   bool
	Playing  bool
	Finished bool // end of track reached
	Position time.Duration
	Duration time.Duration
	Err      error
}

// StatusFunc receives status reports for one handle.
type StatusFunc func(Status)

// Device allocates handles.
type Device interface {
	Open(ctx context.Context, src Source, onStatus StatusFunc) (Handle, error)
}

// Handle is a single loaded track.
type Handle interface {
	Play() error
	Pause() error
	Seek(pos time.Duration) error
	SetVolume(v float64) error
	Unload() error
}

// ClampVolume limits v to [0,1].
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
