package storage

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_PublicURL(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		bucket string
		path   string
		want   string
	}{
		{
			name:   "endpoint",
			config: Config{Endpoint: "localhost:9000"},
			bucket: "audio",
			path:   "t1.mp3",
			want:   "http://localhost:9000/audio/t1.mp3",
		},
		{
			name:   "ssl endpoint",
			config: Config{Endpoint: "s3.example.com", UseSSL: true},
			bucket: "covers",
			path:   "/albums/a1.jpg",
			want:   "https://s3.example.com/covers/albums/a1.jpg",
		},
		{
			name:   "public base url",
			config: Config{Endpoint: "minio:9000", PublicBaseURL: "https://cdn.example.com/media/"},
			bucket: "audio",
			path:   "t1.mp3",
			want:   "https://cdn.example.com/media/audio/t1.mp3",
		},
		{
			name:   "escaped path",
			config: Config{Endpoint: "localhost:9000"},
			bucket: "audio",
			path:   "my song.mp3",
			want:   "http://localhost:9000/audio/my%20song.mp3",
		},
		{
			name:   "empty path",
			config: Config{Endpoint: "localhost:9000"},
			bucket: "audio",
			path:   "",
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResolver(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.ResolvePublicURL(tt.bucket, tt.path))
		})
	}
}

func TestResolver_Presigned(t *testing.T) {
	r, err := NewResolver(Config{
		Endpoint:      "localhost:9000",
		AccessKey:     "access",
		SecretKey:     "secret",
		Region:        "us-east-1",
		Presign:       true,
		PresignExpiry: 10 * time.Minute,
	})
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	first := r.ResolvePublicURL("audio", "t1.mp3")
	require.NotEmpty(t, first)
	u, err := url.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/audio/t1.mp3", u.Path)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))

	// cached within half the lifetime
	now = now.Add(4 * time.Minute)
	assert.Equal(t, first, r.ResolvePublicURL("audio", "t1.mp3"))

	r.mu.Lock()
	_, cached := r.cache["audio/t1.mp3"]
	r.mu.Unlock()
	assert.True(t, cached)
}

func TestNewResolver_InvalidEndpoint(t *testing.T) {
	_, err := NewResolver(Config{Endpoint: "http://localhost:9000"})
	assert.Error(t, err)
}
