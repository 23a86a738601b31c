package lastfm

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/domain/session"
	"github.com/osa030/19tune/internal/domain/track"
)

const (
	minScrobbleLength = 30 * time.Second
	maxScrobbleWait   = 4 * time.Minute
	retryBatch        = 50
	maxAttempts       = 10
)

// Scrobbler reports plays to Last.fm. Scrobbles that cannot be submitted are
// queued and retried by RetryPending.
type Scrobbler struct {
	client *Client
	queue  session.ScrobbleQueue
}

// NewScrobbler creates a scrobbler. queue may be nil, in which case failed
// scrobbles are dropped.
func NewScrobbler(client *Client, queue session.ScrobbleQueue) *Scrobbler {
	return &Scrobbler{client: client, queue: queue}
}

// ShouldScrobble applies the Last.fm rule: the track is longer than 30
// seconds and was played for half its length or four minutes.
func (s *Scrobbler) ShouldScrobble(t track.Track, played time.Duration) bool {
	if t.Duration < minScrobbleLength {
		return false
	}
	return played >= min(t.Duration/2, maxScrobbleWait)
}

// NowPlaying reports the track that started.
func (s *Scrobbler) NowPlaying(ctx context.Context, t track.Track) error {
	return errors.Wrap(s.client.UpdateNowPlaying(ctx, playOf(t, time.Time{})), "failed to update now playing")
}

// Scrobble submits a play, queueing it when the submission fails.
func (s *Scrobbler) Scrobble(ctx context.Context, t track.Track, startedAt time.Time) error {
	p := playOf(t, startedAt)
	_, err := s.client.Scrobble(ctx, p)
	if err == nil {
		zlog.Info().Msgf("lastfm: scrobbled: artist=%s track=%s", p.Artist, p.Track)
		return nil
	}
	if s.queue == nil || !retryable(err) {
		return errors.Wrap(err, "failed to scrobble")
	}

	qerr := s.queue.AddPendingScrobble(ctx, session.PendingScrobble{
		TrackID:   t.ID,
		Artist:    p.Artist,
		Title:     p.Track,
		Album:     p.Album,
		Duration:  p.Duration,
		StartedAt: startedAt,
		LastError: err.Error(),
	})
	if qerr != nil {
		return errors.CombineErrors(errors.Wrap(err, "failed to scrobble"), errors.Wrap(qerr, "failed to queue scrobble"))
	}
	zlog.Warn().Msgf("lastfm: scrobble queued for retry: track=%s err=%v", t.ID, err)
	return nil
}

// RetryPending submits queued scrobbles, oldest first. Entries that keep
// failing are dropped after maxAttempts. Returns the number submitted.
func (s *Scrobbler) RetryPending(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, nil
	}
	pending, err := s.queue.PendingScrobbles(ctx, retryBatch)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load pending scrobbles")
	}

	sent := 0
	for _, ps := range pending {
		_, err := s.client.Scrobble(ctx, Play{
			Artist:    ps.Artist,
			Track:     ps.Title,
			Album:     ps.Album,
			Duration:  ps.Duration,
			Timestamp: ps.StartedAt,
		})
		switch {
		case err == nil, !retryable(err), ps.Attempts+1 >= maxAttempts:
			if err != nil {
				zlog.Warn().Msgf("lastfm: dropping pending scrobble: id=%d attempts=%d err=%v", ps.ID, ps.Attempts+1, err)
			} else {
				sent++
			}
			if derr := s.queue.DeletePendingScrobble(ctx, ps.ID); derr != nil {
				return sent, errors.Wrap(derr, "failed to delete pending scrobble")
			}
		default:
			if merr := s.queue.MarkScrobbleFailed(ctx, ps.ID, err.Error()); merr != nil {
				return sent, errors.Wrap(merr, "failed to mark pending scrobble")
			}
			// Last.fm is still unavailable; keep the rest for the next round
			return sent, nil
		}
	}
	if sent > 0 {
		zlog.Info().Msgf("lastfm: retried pending scrobbles: sent=%d", sent)
	}
	return sent, nil
}

// RunRetryLoop calls RetryPending every interval until ctx is done.
func (s *Scrobbler) RunRetryLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RetryPending(ctx); err != nil {
			zlog.Error().Msgf("lastfm: retry failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// retryable reports whether a failed call should be queued. Rejections of
// the request itself are not.
func retryable(err error) bool {
	if errors.Is(err, ErrNotAuthenticated) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

func playOf(t track.Track, startedAt time.Time) Play {
	return Play{
		Artist:    t.ArtistName,
		Track:     t.Title,
		Album:     t.AlbumName,
		Duration:  t.Duration,
		Timestamp: startedAt,
	}
}
