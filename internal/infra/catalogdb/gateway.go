// Package catalogdb implements the catalog gateway on a MySQL database
// through gorm.
package catalogdb

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/playlist"
	"github.com/osa030/19tune/internal/domain/track"
)

// Config holds database configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string // "silent", "error", "warn", "info"
}

// Open connects to the catalog database.
func Open(cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel(cfg.LogLevel)),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect catalog database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	zlog.Info().Msg("catalogdb: connected")
	return db, nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the tables owned by the player: likes, playlists,
// playlist tracks and plays. Catalog tables are managed elsewhere.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Like{}, &Playlist{}, &PlaylistTrack{}, &Play{}); err != nil {
		return errors.Wrap(err, "failed to migrate catalog tables")
	}
	return nil
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// Gateway is a catalog.Gateway backed by gorm.
type Gateway struct {
	db       *gorm.DB
	resolver track.URLResolver
}

var _ catalog.Gateway = (*Gateway)(nil)

// NewGateway creates a new gateway. Storage references are resolved with
// resolver.
func NewGateway(db *gorm.DB, resolver track.URLResolver) *Gateway {
	return &Gateway{db: db, resolver: resolver}
}

// tracks returns the base track query.
func (g *Gateway) tracks(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx).
		Table("tracks AS t").
		Select(trackColumns).
		Joins("LEFT JOIN albums AS al ON al.id = t.album_id").
		Joins("LEFT JOIN artists AS ar ON ar.id = t.artist_id")
}

func (g *Gateway) tracksQuery(ctx context.Context, filter catalog.Filter) *gorm.DB {
	q := g.tracks(ctx)
	if filter.PublishedOnly {
		q = q.Where("t.is_published = ?", true)
	}
	q = q.Order(orderColumn(filter.OrderBy))
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return q
}

func orderColumn(order catalog.OrderBy) string {
	switch order {
	case catalog.OrderByNewest:
		return "COALESCE(t.release_date, al.release_date) DESC, t.created_at DESC"
	case catalog.OrderByPlayCount:
		return "t.play_count DESC, t.id"
	case catalog.OrderByLikeCount:
		return "t.like_count DESC, t.id"
	case catalog.OrderByTitle:
		return "t.title, t.id"
	default:
		return "t.created_at DESC"
	}
}

// QueryTracks runs a track query.
func (g *Gateway) QueryTracks(ctx context.Context, filter catalog.Filter) ([]track.RawRow, error) {
	var rows []trackRow
	if err := g.tracksQuery(ctx, filter).Scan(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query tracks ordered by %s", filter.OrderBy)
	}
	zlog.Debug().Msgf("catalogdb: tracks: order=%s rows=%d", filter.OrderBy, len(rows))
	return rawRows(rows), nil
}

func (g *Gateway) likedQuery(ctx context.Context, userID string) *gorm.DB {
	return g.tracks(ctx).
		Joins("JOIN likes AS l ON l.track_id = t.id AND l.user_id = ?", userID).
		Order("l.created_at DESC")
}

// QueryLikedTracks returns the tracks liked by userID, most recent first.
func (g *Gateway) QueryLikedTracks(ctx context.Context, userID string) ([]track.RawRow, error) {
	var rows []trackRow
	if err := g.likedQuery(ctx, userID).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query liked tracks")
	}
	return rawRows(rows), nil
}

// QueryPlaylists returns the playlists of userID with their tracks in
// playlist order.
func (g *Gateway) QueryPlaylists(ctx context.Context, userID string) ([]playlist.Row, error) {
	var pls []Playlist
	err := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&pls).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query playlists")
	}
	if len(pls) == 0 {
		return []playlist.Row{}, nil
	}

	ids := make([]string, len(pls))
	for i, p := range pls {
		ids[i] = p.ID
	}
	var rows []trackRow
	if err := g.playlistTracksQuery(ctx, ids).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query playlist tracks")
	}

	byPlaylist := make(map[string][]track.RawRow, len(pls))
	for _, r := range rows {
		pid := deref(r.PlaylistID)
		byPlaylist[pid] = append(byPlaylist[pid], r.raw())
	}

	out := make([]playlist.Row, 0, len(pls))
	for _, p := range pls {
		out = append(out, p.row(byPlaylist[p.ID]))
	}
	return out, nil
}

func (g *Gateway) playlistTracksQuery(ctx context.Context, playlistIDs []string) *gorm.DB {
	return g.tracks(ctx).
		Select(append(append([]string{}, trackColumns...), "pt.playlist_id AS playlist_id")).
		Joins("JOIN playlist_tracks AS pt ON pt.track_id = t.id").
		Where("pt.playlist_id IN ?", playlistIDs).
		Order("pt.playlist_id, pt.position")
}

func (g *Gateway) searchQuery(ctx context.Context, query string, sort catalog.Sort, limit int) *gorm.DB {
	pattern := "%" + escapeLike(query) + "%"
	q := g.tracks(ctx).
		Where("t.is_published = ?", true).
		Where(g.db.Where("t.title LIKE ?", pattern).
			Or("ar.name LIKE ?", pattern).
			Or("al.title LIKE ?", pattern))

	switch sort {
	case catalog.SortNewest:
		q = q.Order(orderColumn(catalog.OrderByNewest))
	case catalog.SortPopular:
		q = q.Order(orderColumn(catalog.OrderByPlayCount))
	default:
		// exact title, then title prefix, then anything else
		q = q.Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN t.title = ? THEN 0 WHEN t.title LIKE ? THEN 1 ELSE 2 END, t.play_count DESC",
			Vars:               []any{query, escapeLike(query) + "%"},
			WithoutParentheses: true,
		}})
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

// SearchTracks searches published tracks by title, artist and album.
func (g *Gateway) SearchTracks(ctx context.Context, query string, sort catalog.Sort, limit int) ([]track.RawRow, error) {
	var rows []trackRow
	if err := g.searchQuery(ctx, query, sort, limit).Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to search tracks")
	}
	return rawRows(rows), nil
}

// MutateLike adds or removes a like. Adding an existing like and removing a
// missing one are no-ops.
func (g *Gateway) MutateLike(ctx context.Context, userID, trackID string, op catalog.Op) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res *gorm.DB
		delta := 1
		switch op {
		case catalog.OpAdd:
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Like{UserID: userID, TrackID: trackID})
		case catalog.OpRemove:
			res = tx.Where("user_id = ? AND track_id = ?", userID, trackID).Delete(&Like{})
			delta = -1
		default:
			return errors.Newf("unknown op: %s", op)
		}
		if res.Error != nil {
			return errors.Wrapf(res.Error, "failed to %s like", op)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Table("tracks").
			Where("id = ?", trackID).
			UpdateColumn("like_count", gorm.Expr("GREATEST(COALESCE(like_count, 0) + ?, 0)", delta)).Error
	})
}

// MutatePlaylistTrack appends a track to or removes it from a playlist.
func (g *Gateway) MutatePlaylistTrack(ctx context.Context, playlistID, trackID string, op catalog.Op) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Playlist{}).Where("id = ?", playlistID).Count(&count).Error; err != nil {
			return errors.Wrap(err, "failed to look up playlist")
		}
		if count == 0 {
			return errors.Wrapf(catalog.ErrNotFound, "playlist %s", playlistID)
		}

		switch op {
		case catalog.OpAdd:
			var next int
			err := tx.Model(&PlaylistTrack{}).
				Where("playlist_id = ?", playlistID).
				Select("COALESCE(MAX(position), -1) + 1").
				Scan(&next).Error
			if err != nil {
				return errors.Wrap(err, "failed to compute position")
			}
			err = tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&PlaylistTrack{PlaylistID: playlistID, TrackID: trackID, Position: next}).Error
			return errors.Wrap(err, "failed to add playlist track")
		case catalog.OpRemove:
			err := tx.Where("playlist_id = ? AND track_id = ?", playlistID, trackID).Delete(&PlaylistTrack{}).Error
			return errors.Wrap(err, "failed to remove playlist track")
		default:
			return errors.Newf("unknown op: %s", op)
		}
	})
}

// CreatePlaylist inserts an empty private playlist.
func (g *Gateway) CreatePlaylist(ctx context.Context, userID, title, description string) (playlist.Row, error) {
	p := Playlist{
		ID:          uuid.New().String(),
		UserID:      userID,
		Title:       title,
		Description: description,
	}
	if err := g.db.WithContext(ctx).Create(&p).Error; err != nil {
		return playlist.Row{}, errors.Wrap(err, "failed to create playlist")
	}
	return p.row(nil), nil
}

// RecordPlay stores a play event and bumps the play counter.
func (g *Gateway) RecordPlay(ctx context.Context, trackID, artistID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&Play{TrackID: trackID, ArtistID: artistID}).Error; err != nil {
			return errors.Wrap(err, "failed to record play")
		}
		return tx.Table("tracks").
			Where("id = ?", trackID).
			UpdateColumn("play_count", gorm.Expr("COALESCE(play_count, 0) + 1")).Error
	})
}

// ResolvePublicURL delegates to the storage resolver.
func (g *Gateway) ResolvePublicURL(bucket, path string) string {
	if g.resolver == nil {
		return ""
	}
	return g.resolver.ResolvePublicURL(bucket, path)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
