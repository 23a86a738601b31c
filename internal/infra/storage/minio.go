// Package storage resolves storage references into URLs on a MinIO or S3
// compatible object store.
package storage

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	zlog "github.com/rs/zerolog/log"
)

// Config holds object storage configuration.
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	Presign       bool
	PresignExpiry time.Duration
}

type presigned struct {
	url     string
	renewAt time.Time
}

// Resolver turns (bucket, path) references into absolute URLs. Public URLs
// are built locally; presigned URLs are cached for half their lifetime.
type Resolver struct {
	client *minio.Client
	config Config
	base   *url.URL

	mu    sync.Mutex
	cache map[string]presigned
	now   func() time.Time
}

// NewResolver creates a new resolver. No request is made.
func NewResolver(cfg Config) (*Resolver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}

	base := client.EndpointURL()
	if cfg.PublicBaseURL != "" {
		base, err = url.Parse(strings.TrimRight(cfg.PublicBaseURL, "/"))
		if err != nil {
			return nil, errors.Wrap(err, "invalid public base url")
		}
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	return &Resolver{
		client: client,
		config: cfg,
		base:   base,
		cache:  make(map[string]presigned),
		now:    time.Now,
	}, nil
}

// ResolvePublicURL returns the URL of an object, or "" when it cannot be
// built.
func (r *Resolver) ResolvePublicURL(bucket, path string) string {
	path = strings.TrimLeft(path, "/")
	if bucket == "" || path == "" {
		return ""
	}
	if r.config.Presign {
		return r.presign(bucket, path)
	}

	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + bucket + "/" + path
	u.RawPath = ""
	return u.String()
}

func (r *Resolver) presign(bucket, path string) string {
	key := bucket + "/" + path
	now := r.now()

	r.mu.Lock()
	if p, ok := r.cache[key]; ok && now.Before(p.renewAt) {
		r.mu.Unlock()
		return p.url
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, err := r.client.PresignedGetObject(ctx, bucket, path, r.config.PresignExpiry, url.Values{})
	if err != nil {
		zlog.Warn().Msgf("storage: failed to presign: bucket=%s path=%s err=%v", bucket, path, err)
		return ""
	}

	r.mu.Lock()
	r.cache[key] = presigned{url: u.String(), renewAt: now.Add(r.config.PresignExpiry / 2)}
	r.mu.Unlock()
	return u.String()
}

// CheckBuckets verifies that the buckets exist.
func (r *Resolver) CheckBuckets(ctx context.Context, buckets ...string) error {
	var errs error
	for _, b := range buckets {
		exists, err := r.client.BucketExists(ctx, b)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "failed to check bucket %s", b))
			continue
		}
		if !exists {
			errs = errors.CombineErrors(errs, errors.Newf("bucket %s does not exist", b))
			continue
		}
		zlog.Debug().Msgf("storage: bucket ok: bucket=%s", b)
	}
	return errs
}
