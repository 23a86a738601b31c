package lastfm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19tune/internal/domain/session"
	"github.com/osa030/19tune/internal/domain/track"
)

type fakeLastfm struct {
	mu       sync.Mutex
	requests []url.Values
	respond  func(method string) (int, string)
}

func (f *fakeLastfm) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		form := r.PostForm

		// the signature covers everything but format and api_sig
		signed := url.Values{}
		for k, v := range form {
			signed[k] = v
		}
		assert.Equal(t, sign(signed, "secret"), form.Get("api_sig"))
		assert.Equal(t, "json", form.Get("format"))

		f.mu.Lock()
		f.requests = append(f.requests, form)
		f.mu.Unlock()

		status, body := http.StatusOK, `{}`
		if f.respond != nil {
			status, body = f.respond(form.Get("method"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

func (f *fakeLastfm) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLastfm) last() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, f *fakeLastfm) *Client {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	client, err := New(Config{APIKey: "key", APISecret: "secret", SessionKey: "session", BaseURL: server.URL + "/"})
	require.NoError(t, err)
	return client
}

type memoryQueue struct {
	mu      sync.Mutex
	nextID  int64
	pending []session.PendingScrobble
}

func (q *memoryQueue) AddPendingScrobble(_ context.Context, s session.PendingScrobble) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	s.ID = q.nextID
	q.pending = append(q.pending, s)
	return nil
}

func (q *memoryQueue) PendingScrobbles(_ context.Context, limit int) ([]session.PendingScrobble, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]session.PendingScrobble(nil), q.pending...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *memoryQueue) DeletePendingScrobble(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if p.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return nil
		}
	}
	return errors.Newf("no pending scrobble %d", id)
}

func (q *memoryQueue) MarkScrobbleFailed(_ context.Context, id int64, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.pending {
		if q.pending[i].ID == id {
			q.pending[i].Attempts++
			q.pending[i].LastError = reason
		}
	}
	return nil
}

func (q *memoryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

var song = track.Track{
	ID:         "t1",
	Title:      "Harder Better",
	ArtistName: "Daft Punk",
	AlbumName:  "Discovery",
	Duration:   224 * time.Second,
}

func TestNew(t *testing.T) {
	_, err := New(Config{APIKey: "key"})
	assert.Error(t, err)

	c, err := New(Config{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.False(t, c.IsAuthenticated())

	_, err = c.Scrobble(context.Background(), Play{Artist: "a", Track: "b"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSign(t *testing.T) {
	params := url.Values{}
	params.Set("method", "track.scrobble")
	params.Set("api_key", "key")
	params.Set("format", "json")
	// api_keykeymethodtrack.scrobblesecret
	assert.Equal(t, "d7a2d80e182cf1fea315ddc2d0bbfe44", sign(params, "secret"))
}

func TestClient_UpdateNowPlaying(t *testing.T) {
	f := &fakeLastfm{}
	c := newTestClient(t, f)

	require.NoError(t, c.UpdateNowPlaying(context.Background(), Play{Artist: "Daft Punk", Track: "One More Time", Duration: 320 * time.Second}))

	form := f.last()
	assert.Equal(t, "track.updateNowPlaying", form.Get("method"))
	assert.Equal(t, "Daft Punk", form.Get("artist"))
	assert.Equal(t, "One More Time", form.Get("track"))
	assert.Equal(t, "320", form.Get("duration"))
	assert.Equal(t, "session", form.Get("sk"))
	assert.Empty(t, form.Get("album"))
}

func TestClient_Scrobble(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantOK    bool
		wantErr   bool
		wantRetry bool
	}{
		{name: "accepted", status: 200, body: `{"scrobbles":{"@attr":{"accepted":1,"ignored":0}}}`, wantOK: true},
		{name: "ignored", status: 200, body: `{"scrobbles":{"@attr":{"accepted":0,"ignored":1}}}`, wantOK: false},
		{name: "invalid session", status: 403, body: `{"error":9,"message":"Invalid session key"}`, wantErr: true},
		{name: "service offline", status: 503, body: `{"error":11,"message":"Service Offline"}`, wantErr: true, wantRetry: true},
		{name: "server error", status: 500, body: `oops`, wantErr: true, wantRetry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeLastfm{respond: func(string) (int, string) { return tt.status, tt.body }}
			c := newTestClient(t, f)

			ts := time.Unix(1700000000, 0)
			ok, err := c.Scrobble(context.Background(), Play{Artist: "a", Track: "b", Album: "c", Timestamp: ts})
			assert.Equal(t, "1700000000", f.last().Get("timestamp"))
			assert.Equal(t, "c", f.last().Get("album"))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantRetry, retryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestScrobbler_ShouldScrobble(t *testing.T) {
	s := NewScrobbler(nil, nil)
	tests := []struct {
		name     string
		duration time.Duration
		played   time.Duration
		want     bool
	}{
		{name: "too short", duration: 29 * time.Second, played: 29 * time.Second, want: false},
		{name: "half played", duration: 3 * time.Minute, played: 90 * time.Second, want: true},
		{name: "under half", duration: 3 * time.Minute, played: 89 * time.Second, want: false},
		{name: "four minutes of a long track", duration: 20 * time.Minute, played: 4 * time.Minute, want: true},
		{name: "long track not enough", duration: 20 * time.Minute, played: 3 * time.Minute, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.ShouldScrobble(track.Track{Duration: tt.duration}, tt.played))
		})
	}
}

func TestScrobbler_QueuesTemporaryFailures(t *testing.T) {
	var (
		mu   sync.Mutex
		down = true
	)
	f := &fakeLastfm{respond: func(string) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		if down {
			return 503, `{"error":16,"message":"Temporarily unavailable"}`
		}
		return 200, `{"scrobbles":{"@attr":{"accepted":1,"ignored":0}}}`
	}}
	q := &memoryQueue{}
	s := NewScrobbler(newTestClient(t, f), q)
	ctx := context.Background()
	started := time.Unix(1700000000, 0)

	require.NoError(t, s.Scrobble(ctx, song, started))
	require.Equal(t, 1, q.len())
	assert.Equal(t, "Harder Better", q.pending[0].Title)
	assert.Equal(t, started, q.pending[0].StartedAt)

	// still down: the entry stays with one more attempt
	sent, err := s.RetryPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	require.Equal(t, 1, q.len())
	assert.Equal(t, 1, q.pending[0].Attempts)

	mu.Lock()
	down = false
	mu.Unlock()

	sent, err = s.RetryPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Zero(t, q.len())
	assert.Equal(t, "1700000000", f.last().Get("timestamp"))
}

func TestScrobbler_PermanentFailureNotQueued(t *testing.T) {
	f := &fakeLastfm{respond: func(string) (int, string) {
		return 403, `{"error":9,"message":"Invalid session key"}`
	}}
	q := &memoryQueue{}
	s := NewScrobbler(newTestClient(t, f), q)

	err := s.Scrobble(context.Background(), song, time.Now())
	require.Error(t, err)
	assert.Zero(t, q.len())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 9, apiErr.Code)
}

func TestScrobbler_RetryDropsExhaustedEntries(t *testing.T) {
	f := &fakeLastfm{respond: func(string) (int, string) {
		return 503, `{"error":11,"message":"Service Offline"}`
	}}
	q := &memoryQueue{}
	require.NoError(t, q.AddPendingScrobble(context.Background(), session.PendingScrobble{Artist: "a", Title: "b", Attempts: maxAttempts - 1}))
	s := NewScrobbler(newTestClient(t, f), q)

	sent, err := s.RetryPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, q.len())
	assert.Equal(t, 1, f.count())
}

func TestScrobbler_NowPlaying(t *testing.T) {
	f := &fakeLastfm{}
	s := NewScrobbler(newTestClient(t, f), nil)

	require.NoError(t, s.NowPlaying(context.Background(), song))
	assert.Equal(t, "track.updateNowPlaying", f.last().Get("method"))
	assert.Equal(t, "Discovery", f.last().Get("album"))
	assert.Equal(t, "224", f.last().Get("duration"))
}
