package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the player service.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	token      string
	userID     string
}

// NewClient creates a client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL, token, userID string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userID:     userID,
	}
}

func (c *Client) setHeaders(h http.Header) {
	if c.token != "" {
		h.Set(AuthorizationHeader, "Bearer "+c.token)
	}
	if c.userID != "" {
		h.Set(UserIDHeader, c.userID)
	}
}

func call[Req, Res any](ctx context.Context, c *Client, procedure string, msg *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](c.httpClient, c.baseURL+procedure, connect.WithCodec(jsonCodec{}))
	req := connect.NewRequest(msg)
	c.setHeaders(req.Header())
	res, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) PlayTrack(ctx context.Context, trackID string, queueIDs []string) (*Result, error) {
	return call[PlayTrackRequest, Result](ctx, c, ProcedurePlayTrack, &PlayTrackRequest{TrackID: trackID, QueueIDs: queueIDs})
}

func (c *Client) Pause(ctx context.Context) (*Result, error) {
	return call[Empty, Result](ctx, c, ProcedurePause, &Empty{})
}

func (c *Client) Resume(ctx context.Context) (*Result, error) {
	return call[Empty, Result](ctx, c, ProcedureResume, &Empty{})
}

func (c *Client) Next(ctx context.Context) (*Result, error) {
	return call[Empty, Result](ctx, c, ProcedureNext, &Empty{})
}

func (c *Client) Previous(ctx context.Context) (*Result, error) {
	return call[Empty, Result](ctx, c, ProcedurePrevious, &Empty{})
}

func (c *Client) ToggleShuffle(ctx context.Context) (*ToggleShuffleResponse, error) {
	return call[Empty, ToggleShuffleResponse](ctx, c, ProcedureToggleShuffle, &Empty{})
}

func (c *Client) ToggleRepeat(ctx context.Context) (*ToggleRepeatResponse, error) {
	return call[Empty, ToggleRepeatResponse](ctx, c, ProcedureToggleRepeat, &Empty{})
}

func (c *Client) Seek(ctx context.Context, seconds float64) (*Result, error) {
	return call[SeekRequest, Result](ctx, c, ProcedureSeek, &SeekRequest{Seconds: seconds})
}

func (c *Client) SetVolume(ctx context.Context, volume float64) (*SetVolumeResponse, error) {
	return call[SetVolumeRequest, SetVolumeResponse](ctx, c, ProcedureSetVolume, &SetVolumeRequest{Volume: volume})
}

func (c *Client) ToggleLike(ctx context.Context, trackID string) (*ToggleLikeResponse, error) {
	return call[TrackRequest, ToggleLikeResponse](ctx, c, ProcedureToggleLike, &TrackRequest{TrackID: trackID})
}

func (c *Client) AddToPlaylist(ctx context.Context, playlistID, trackID string) (*ChangeResponse, error) {
	return call[PlaylistTrackRequest, ChangeResponse](ctx, c, ProcedureAddToPlaylist, &PlaylistTrackRequest{PlaylistID: playlistID, TrackID: trackID})
}

func (c *Client) RemoveFromPlaylist(ctx context.Context, playlistID, trackID string) (*ChangeResponse, error) {
	return call[PlaylistTrackRequest, ChangeResponse](ctx, c, ProcedureRemoveFromPlaylist, &PlaylistTrackRequest{PlaylistID: playlistID, TrackID: trackID})
}

func (c *Client) CreatePlaylist(ctx context.Context, title, description string) (*CreatePlaylistResponse, error) {
	return call[CreatePlaylistRequest, CreatePlaylistResponse](ctx, c, ProcedureCreatePlaylist, &CreatePlaylistRequest{Title: title, Description: description})
}

func (c *Client) Refresh(ctx context.Context) (*Result, error) {
	return call[Empty, Result](ctx, c, ProcedureRefresh, &Empty{})
}

func (c *Client) Search(ctx context.Context, query, sort string) (*SearchResponse, error) {
	return call[SearchRequest, SearchResponse](ctx, c, ProcedureSearch, &SearchRequest{Query: query, Sort: sort})
}

func (c *Client) Enqueue(ctx context.Context, trackIDs ...string) (*Result, error) {
	return call[EnqueueRequest, Result](ctx, c, ProcedureEnqueue, &EnqueueRequest{TrackIDs: trackIDs})
}

func (c *Client) RemoveFromQueue(ctx context.Context, trackID string) (*ChangeResponse, error) {
	return call[TrackRequest, ChangeResponse](ctx, c, ProcedureRemoveFromQueue, &TrackRequest{TrackID: trackID})
}

func (c *Client) DismissError(ctx context.Context) (*Result, error) {
	return call[Empty, Result](ctx, c, ProcedureDismissError, &Empty{})
}

func (c *Client) GetSnapshot(ctx context.Context) (*SnapshotResponse, error) {
	return call[Empty, SnapshotResponse](ctx, c, ProcedureGetSnapshot, &Empty{})
}

// Subscribe opens the notification stream. The caller closes it.
func (c *Client) Subscribe(ctx context.Context) (*connect.ServerStreamForClient[Notification], error) {
	client := connect.NewClient[Empty, Notification](c.httpClient, c.baseURL+ProcedureSubscribe, connect.WithCodec(jsonCodec{}))
	req := connect.NewRequest(&Empty{})
	c.setHeaders(req.Header())
	return client.CallServerStream(ctx, req)
}
