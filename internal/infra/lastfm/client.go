// Package lastfm submits listening activity to the Last.fm API.
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Last.fm API endpoint.
const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// ErrNotAuthenticated is returned when no session key is configured.
var ErrNotAuthenticated = errors.New("last.fm session key is not set")

// Client is a Last.fm API client for authenticated write calls.
type Client struct {
	apiKey     string
	apiSecret  string
	sessionKey string
	baseURL    string
	httpClient *http.Client
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey     string
	APISecret  string
	SessionKey string
	BaseURL    string
	Timeout    time.Duration
}

// Play is one listened track as submitted to Last.fm.
type Play struct {
	Artist    string
	Track     string
	Album     string
	Duration  time.Duration
	Timestamp time.Time
}

// APIError represents an error response from the Last.fm API.
type APIError struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return "last.fm API error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// Temporary reports whether the call may succeed when retried.
// Codes 11 and 16 are service outages, 29 is rate limiting.
func (e *APIError) Temporary() bool {
	switch e.Code {
	case 11, 16, 29:
		return true
	}
	return false
}

type scrobbleResponse struct {
	Scrobbles struct {
		Attr struct {
			Accepted int `json:"accepted"`
			Ignored  int `json:"ignored"`
		} `json:"@attr"`
	} `json:"scrobbles"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("last.fm API key and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		sessionKey: cfg.SessionKey,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// IsAuthenticated returns true if a session key is set.
func (c *Client) IsAuthenticated() bool {
	return c.sessionKey != ""
}

// UpdateNowPlaying sends a "now playing" notification.
// Reference: https://www.last.fm/api/show/track.updateNowPlaying
func (c *Client) UpdateNowPlaying(ctx context.Context, p Play) error {
	params := playParams(p)
	_, err := c.call(ctx, "track.updateNowPlaying", params)
	return err
}

// Scrobble submits a finished play. Returns false when Last.fm accepted the
// request but ignored the play.
// Reference: https://www.last.fm/api/show/track.scrobble
func (c *Client) Scrobble(ctx context.Context, p Play) (bool, error) {
	params := playParams(p)
	params.Set("timestamp", strconv.FormatInt(p.Timestamp.Unix(), 10))

	body, err := c.call(ctx, "track.scrobble", params)
	if err != nil {
		return false, err
	}
	var response scrobbleResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return false, errors.Wrap(err, "failed to parse response")
	}
	if response.Scrobbles.Attr.Ignored > 0 {
		zlog.Warn().Msgf("lastfm: scrobble ignored: artist=%s track=%s", p.Artist, p.Track)
		return false, nil
	}
	return true, nil
}

func playParams(p Play) url.Values {
	params := url.Values{}
	params.Set("artist", p.Artist)
	params.Set("track", p.Track)
	if p.Album != "" {
		params.Set("album", p.Album)
	}
	if p.Duration > 0 {
		params.Set("duration", strconv.Itoa(int(p.Duration.Seconds())))
	}
	return params
}

func (c *Client) call(ctx context.Context, method string, params url.Values) ([]byte, error) {
	if !c.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	params.Set("method", method)
	params.Set("api_key", c.apiKey)
	params.Set("sk", c.sessionKey)
	params.Set("api_sig", sign(params, c.apiSecret))
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	var apiError APIError
	if err := json.Unmarshal(body, &apiError); err == nil && apiError.Code != 0 {
		return nil, &apiError
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("last.fm returned status %d", resp.StatusCode)
	}
	zlog.Debug().Msgf("lastfm: %s ok", method)
	return body, nil
}

// sign computes api_sig: the md5 of every parameter except format and
// callback, sorted by name and concatenated as name+value, then the secret.
func sign(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "format" || k == "callback" || k == "api_sig" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}
	b.WriteString(secret)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
