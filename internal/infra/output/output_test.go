package output

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19tune/internal/domain/audio"
)

type statusLog struct {
	mu       sync.Mutex
	statuses []audio.Status
}

func (l *statusLog) add(s audio.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, s)
}

func (l *statusLog) last() audio.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.statuses) == 0 {
		return audio.Status{}
	}
	return l.statuses[len(l.statuses)-1]
}

func (l *statusLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.statuses)
}

func (l *statusLog) finished() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.statuses {
		if s.Finished {
			n++
		}
	}
	return n
}

func openClock(t *testing.T, d *ClockDevice, dur time.Duration) (audio.Handle, *statusLog) {
	t.Helper()
	log := &statusLog{}
	h, err := d.Open(context.Background(), audio.Source{TrackID: "t1", URL: "https://storage.test/audio/t1.mp3", Duration: dur}, log.add)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Unload() })
	return h, log
}

func TestClock_PlaysToEnd(t *testing.T) {
	d := NewClockDevice(ClockSettings{TickMs: 5})
	h, log := openClock(t, d, 60*time.Millisecond)

	assert.Zero(t, log.len(), "open reports nothing")

	require.NoError(t, h.Play())
	first := log.last()
	assert.True(t, first.Playing)
	assert.Equal(t, 60*time.Millisecond, first.Duration)

	require.Eventually(t, func() bool { return log.finished() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 60*time.Millisecond, log.last().Position)

	// no second end report while idle
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, log.finished())
}

func TestClock_PauseAndSeek(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewClockDevice(ClockSettings{TickMs: 1000})
	d.now = func() time.Time { return now }
	h, log := openClock(t, d, 3*time.Minute)

	require.NoError(t, h.Play())
	now = now.Add(10 * time.Second)
	require.NoError(t, h.Pause())
	assert.False(t, log.last().Playing)
	assert.Equal(t, 10*time.Second, log.last().Position)

	// paused clocks do not advance
	now = now.Add(time.Minute)
	require.NoError(t, h.Seek(30*time.Second))
	assert.Equal(t, 30*time.Second, log.last().Position)

	require.NoError(t, h.Seek(time.Hour))
	assert.Equal(t, 3*time.Minute, log.last().Position)

	require.NoError(t, h.Seek(-time.Second))
	assert.Equal(t, time.Duration(0), log.last().Position)
}

func TestClock_UnloadStopsReports(t *testing.T) {
	d := NewClockDevice(ClockSettings{TickMs: 5})
	h, log := openClock(t, d, time.Minute)

	require.NoError(t, h.Play())
	require.NoError(t, h.Unload())
	time.Sleep(10 * time.Millisecond)
	n := log.len()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, log.len())
	assert.ErrorIs(t, h.Play(), ErrUnloaded)
	assert.NoError(t, h.Unload())
}

func TestClock_DefaultDuration(t *testing.T) {
	d := NewClockDevice(ClockSettings{})
	h, log := openClock(t, d, 0)
	require.NoError(t, h.Play())
	assert.Equal(t, 180*time.Second, log.last().Duration)

	_, err := d.Open(context.Background(), audio.Source{TrackID: "x"}, log.add)
	assert.Error(t, err)
}

func TestNewDevice(t *testing.T) {
	tests := []struct {
		name     string
		typ      string
		settings map[string]any
		want     any
		wantErr  bool
	}{
		{name: "clock", typ: "clock", settings: map[string]any{"tick_ms": 100}, want: &ClockDevice{}},
		{name: "default type", typ: "", want: &ClockDevice{}},
		{name: "speaker", typ: "speaker", settings: map[string]any{"buffer_ms": 200}, want: &SpeakerDevice{}},
		{name: "invalid setting", typ: "speaker", settings: map[string]any{"buffer_ms": 1}, wantErr: true},
		{name: "wrong type", typ: "clock", settings: map[string]any{"tick_ms": "fast"}, wantErr: true},
		{name: "unknown", typ: "alsa", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDevice(tt.typ, tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, d)
		})
	}
}

func TestNewDevice_ClockSettings(t *testing.T) {
	d, err := NewDevice("clock", map[string]any{"tick_ms": 100})
	require.NoError(t, err)
	c := d.(*ClockDevice)
	assert.Equal(t, 100*time.Millisecond, c.tick)
	assert.Equal(t, 180*time.Second, c.defaultDuration)
}

func TestSpeaker_OpenErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.mp3":
			http.NotFound(w, r)
		case "/large.mp3":
			_, _ = w.Write(make([]byte, 64))
		default:
			_, _ = w.Write([]byte("not an mp3 stream"))
		}
	}))
	defer srv.Close()

	d := NewSpeakerDevice(SpeakerSettings{BufferMs: 100, FetchTimeoutMs: 1000, MaxBytes: 32})
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "not found", path: "/missing.mp3", want: "unexpected status"},
		{name: "too large", path: "/large.mp3", want: "exceeds"},
		{name: "not mp3", path: "/bad.mp3", want: "failed to decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Open(context.Background(), audio.Source{TrackID: "t1", URL: srv.URL + tt.path}, func(audio.Status) {})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLevelToVolume(t *testing.T) {
	tests := []struct {
		level float64
		want  float64
	}{
		{level: 1, want: 0},
		{level: 0.5, want: -1},
		{level: 0.25, want: -2},
		{level: 0, want: -10},
		{level: 2, want: 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, levelToVolume(tt.level), 1e-9)
	}
}
