// Package cache caches shared catalog queries in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/domain/catalog"
	"github.com/osa030/19tune/internal/domain/track"
)

const keyPrefix = "19tune:"

// Config holds redis configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Connect opens a redis client and checks the connection.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}
	return client, nil
}

// kv is the subset of the redis client used by Gateway.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Gateway wraps a catalog gateway and caches the queries that do not depend
// on the listener: trending and new-release lists and search results. Cache
// failures are logged and fall through to the wrapped gateway.
type Gateway struct {
	catalog.Gateway
	kv  kv
	ttl time.Duration
}

var _ catalog.Gateway = (*Gateway)(nil)

// NewGateway creates a caching gateway.
func NewGateway(inner catalog.Gateway, client *redis.Client, ttl time.Duration) *Gateway {
	return newGateway(inner, client, ttl)
}

func newGateway(inner catalog.Gateway, kv kv, ttl time.Duration) *Gateway {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Gateway{Gateway: inner, kv: kv, ttl: ttl}
}

func (g *Gateway) QueryTracks(ctx context.Context, filter catalog.Filter) ([]track.RawRow, error) {
	key := tracksKey(filter)
	return g.cached(ctx, key, func() ([]track.RawRow, error) {
		return g.Gateway.QueryTracks(ctx, filter)
	})
}

func (g *Gateway) SearchTracks(ctx context.Context, query string, sort catalog.Sort, limit int) ([]track.RawRow, error) {
	key := searchKey(query, sort, limit)
	return g.cached(ctx, key, func() ([]track.RawRow, error) {
		return g.Gateway.SearchTracks(ctx, query, sort, limit)
	})
}

func (g *Gateway) cached(ctx context.Context, key string, load func() ([]track.RawRow, error)) ([]track.RawRow, error) {
	data, err := g.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rows []track.RawRow
		if err := json.Unmarshal(data, &rows); err == nil {
			zlog.Debug().Msgf("cache: hit: key=%s rows=%d", key, len(rows))
			return rows, nil
		}
		zlog.Warn().Msgf("cache: corrupt entry: key=%s", key)
	case errors.Is(err, redis.Nil):
	default:
		zlog.Warn().Msgf("cache: get failed: key=%s err=%v", key, err)
	}

	rows, err := load()
	if err != nil {
		return nil, err
	}

	data, err = json.Marshal(rows)
	if err != nil {
		zlog.Warn().Msgf("cache: failed to encode rows: key=%s err=%v", key, err)
		return rows, nil
	}
	if err := g.kv.Set(ctx, key, data, g.ttl).Err(); err != nil {
		zlog.Warn().Msgf("cache: set failed: key=%s err=%v", key, err)
	}
	return rows, nil
}

func tracksKey(f catalog.Filter) string {
	return fmt.Sprintf("%stracks:%s:%t:%d", keyPrefix, f.OrderBy, f.PublishedOnly, f.Limit)
}

func searchKey(query string, sort catalog.Sort, limit int) string {
	q := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return fmt.Sprintf("%ssearch:%s:%d:%s", keyPrefix, sort, limit, q)
}
