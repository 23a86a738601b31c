// Package store persists listening sessions and pending scrobbles in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/osa030/19tune/internal/domain/session"
)

// DefaultSaveDebounce is used when Config.SaveDebounce is zero.
const DefaultSaveDebounce = 500 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id  TEXT PRIMARY KEY,
	data     TEXT NOT NULL,
	saved_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_scrobbles (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	track_id         TEXT NOT NULL,
	artist           TEXT NOT NULL,
	title            TEXT NOT NULL,
	album            TEXT,
	duration_seconds INTEGER NOT NULL,
	started_at       INTEGER NOT NULL,
	attempts         INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT,
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_scrobbles_created ON pending_scrobbles(created_at);
`

// Config holds store configuration.
type Config struct {
	Path         string
	SaveDebounce time.Duration
}

// Store is a SQLite backed session.Store and session.ScrobbleQueue.
type Store struct {
	db       *sql.DB
	debounce time.Duration

	saveMu    sync.Mutex
	saveTimer *time.Timer
	pending   *session.State
}

var (
	_ session.Store         = (*Store)(nil)
	_ session.ScrobbleQueue = (*Store)(nil)
)

// Open opens (and creates) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: database path is required")
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = DefaultSaveDebounce
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// a single connection keeps :memory: databases and write ordering sane
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	zlog.Debug().Msgf("store: opened: path=%s", cfg.Path)
	return &Store{db: db, debounce: cfg.SaveDebounce}, nil
}

// Load returns the saved session of userID.
func (s *Store) Load(ctx context.Context, userID string) (session.State, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return session.State{}, session.ErrNotFound
	}
	if err != nil {
		return session.State{}, errors.Wrap(err, "failed to load session")
	}

	var st session.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return session.State{}, errors.Wrap(err, "failed to decode session")
	}
	return st, nil
}

// Save schedules a write. Writes within the debounce window collapse into
// the last one.
func (s *Store) Save(st session.State) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.pending = &st
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.debounce, s.flush)
}

// Flush writes a pending session immediately.
func (s *Store) Flush() error {
	s.saveMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	pending := s.pending
	s.pending = nil
	s.saveMu.Unlock()

	if pending == nil {
		return nil
	}
	return s.write(context.Background(), *pending)
}

func (s *Store) flush() {
	if err := s.Flush(); err != nil {
		zlog.Error().Msgf("store: failed to save session: %v", err)
	}
}

func (s *Store) write(ctx context.Context, st session.State) error {
	if st.SavedAt.IsZero() {
		st.SavedAt = time.Now()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, data, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			data = excluded.data,
			saved_at = excluded.saved_at
	`, st.UserID, string(data), st.SavedAt.Unix())
	if err != nil {
		return errors.Wrap(err, "failed to save session")
	}
	zlog.Debug().Msgf("store: session saved: user=%s tracks=%d", st.UserID, len(st.Order))
	return nil
}

// Close flushes a pending session and closes the database.
func (s *Store) Close() error {
	return errors.CombineErrors(s.Flush(), s.db.Close())
}

// AddPendingScrobble queues a scrobble for a later retry.
func (s *Store) AddPendingScrobble(ctx context.Context, p session.PendingScrobble) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_scrobbles
		(track_id, artist, title, album, duration_seconds, started_at, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.TrackID, p.Artist, p.Title, p.Album, int64(p.Duration.Seconds()), p.StartedAt.Unix(),
		p.Attempts, p.LastError, time.Now().UnixNano())
	return errors.Wrap(err, "failed to add pending scrobble")
}

// PendingScrobbles returns up to limit pending scrobbles, oldest first.
func (s *Store) PendingScrobbles(ctx context.Context, limit int) ([]session.PendingScrobble, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, track_id, artist, title, album, duration_seconds, started_at, attempts, last_error
		FROM pending_scrobbles
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query pending scrobbles")
	}
	defer rows.Close()

	var out []session.PendingScrobble
	for rows.Next() {
		var (
			p          session.PendingScrobble
			album      sql.NullString
			lastError  sql.NullString
			durationS  int64
			startedAtS int64
		)
		if err := rows.Scan(&p.ID, &p.TrackID, &p.Artist, &p.Title, &album, &durationS, &startedAtS, &p.Attempts, &lastError); err != nil {
			return nil, errors.Wrap(err, "failed to scan pending scrobble")
		}
		p.Album = album.String
		p.LastError = lastError.String
		p.Duration = time.Duration(durationS) * time.Second
		p.StartedAt = time.Unix(startedAtS, 0)
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "failed to read pending scrobbles")
}

// DeletePendingScrobble removes a submitted scrobble.
func (s *Store) DeletePendingScrobble(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_scrobbles WHERE id = ?`, id)
	return errors.Wrap(err, "failed to delete pending scrobble")
}

// MarkScrobbleFailed increments the attempt count and records the reason.
func (s *Store) MarkScrobbleFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_scrobbles
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
	`, reason, id)
	return errors.Wrap(err, "failed to update pending scrobble")
}

// DeleteOldPendingScrobbles drops scrobbles queued before now-maxAge.
func (s *Store) DeleteOldPendingScrobbles(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_scrobbles WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old pending scrobbles")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
