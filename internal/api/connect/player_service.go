// Package connect exposes the player over Connect RPC with JSON messages.
package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19tune/internal/app/player"
)

// ServiceName is the fully qualified name of the player service.
const ServiceName = "tune.v1.PlayerService"

// Procedure paths.
const (
	ProcedurePlayTrack          = "/" + ServiceName + "/PlayTrack"
	ProcedurePause              = "/" + ServiceName + "/Pause"
	ProcedureResume             = "/" + ServiceName + "/Resume"
	ProcedureNext               = "/" + ServiceName + "/Next"
	ProcedurePrevious           = "/" + ServiceName + "/Previous"
	ProcedureToggleShuffle      = "/" + ServiceName + "/ToggleShuffle"
	ProcedureToggleRepeat       = "/" + ServiceName + "/ToggleRepeat"
	ProcedureSeek               = "/" + ServiceName + "/Seek"
	ProcedureSetVolume          = "/" + ServiceName + "/SetVolume"
	ProcedureToggleLike         = "/" + ServiceName + "/ToggleLike"
	ProcedureAddToPlaylist      = "/" + ServiceName + "/AddToPlaylist"
	ProcedureRemoveFromPlaylist = "/" + ServiceName + "/RemoveFromPlaylist"
	ProcedureCreatePlaylist     = "/" + ServiceName + "/CreatePlaylist"
	ProcedureRefresh            = "/" + ServiceName + "/Refresh"
	ProcedureSearch             = "/" + ServiceName + "/Search"
	ProcedureEnqueue            = "/" + ServiceName + "/Enqueue"
	ProcedureRemoveFromQueue    = "/" + ServiceName + "/RemoveFromQueue"
	ProcedureDismissError       = "/" + ServiceName + "/DismissError"
	ProcedureGetSnapshot        = "/" + ServiceName + "/GetSnapshot"
	ProcedureSubscribe          = "/" + ServiceName + "/Subscribe"
)

// NotificationInitialState is the type of the first message of a subscription.
const NotificationInitialState = "initial_state"

// PlayerService implements the player RPC service.
type PlayerService struct {
	player *player.Player
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(p *player.Player) *PlayerService {
	return &PlayerService{player: p}
}

// Handler returns the service path prefix and its handler.
func (s *PlayerService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	p := s.player

	mux := http.NewServeMux()
	mux.Handle(ProcedurePlayTrack, unary(ProcedurePlayTrack, func(ctx context.Context, req *PlayTrackRequest) (*Result, error) {
		return result(p.PlayTrack(ctx, req.TrackID, req.QueueIDs))
	}, opts...))
	mux.Handle(ProcedurePause, command(ProcedurePause, p.Pause, opts...))
	mux.Handle(ProcedureResume, command(ProcedureResume, p.Resume, opts...))
	mux.Handle(ProcedureNext, command(ProcedureNext, p.Next, opts...))
	mux.Handle(ProcedurePrevious, command(ProcedurePrevious, p.Previous, opts...))
	mux.Handle(ProcedureRefresh, command(ProcedureRefresh, p.Refresh, opts...))
	mux.Handle(ProcedureToggleShuffle, unary(ProcedureToggleShuffle, func(ctx context.Context, _ *Empty) (*ToggleShuffleResponse, error) {
		shuffled, err := p.ToggleShuffle(ctx)
		r, err := result(err)
		return &ToggleShuffleResponse{Result: *r, Shuffled: shuffled}, err
	}, opts...))
	mux.Handle(ProcedureToggleRepeat, unary(ProcedureToggleRepeat, func(ctx context.Context, _ *Empty) (*ToggleRepeatResponse, error) {
		mode, err := p.ToggleRepeat(ctx)
		r, err := result(err)
		return &ToggleRepeatResponse{Result: *r, RepeatMode: mode.String()}, err
	}, opts...))
	mux.Handle(ProcedureSeek, unary(ProcedureSeek, func(ctx context.Context, req *SeekRequest) (*Result, error) {
		return result(p.SeekTo(ctx, req.Seconds))
	}, opts...))
	mux.Handle(ProcedureSetVolume, unary(ProcedureSetVolume, func(ctx context.Context, req *SetVolumeRequest) (*SetVolumeResponse, error) {
		v, err := p.SetVolume(ctx, req.Volume)
		r, err := result(err)
		return &SetVolumeResponse{Result: *r, Volume: v}, err
	}, opts...))
	mux.Handle(ProcedureToggleLike, unary(ProcedureToggleLike, func(ctx context.Context, req *TrackRequest) (*ToggleLikeResponse, error) {
		liked, err := p.ToggleLike(ctx, req.TrackID)
		r, err := result(err)
		return &ToggleLikeResponse{Result: *r, Liked: liked}, err
	}, opts...))
	mux.Handle(ProcedureAddToPlaylist, unary(ProcedureAddToPlaylist, func(ctx context.Context, req *PlaylistTrackRequest) (*ChangeResponse, error) {
		changed, err := p.AddToPlaylist(ctx, req.PlaylistID, req.TrackID)
		r, err := result(err)
		return &ChangeResponse{Result: *r, Changed: changed}, err
	}, opts...))
	mux.Handle(ProcedureRemoveFromPlaylist, unary(ProcedureRemoveFromPlaylist, func(ctx context.Context, req *PlaylistTrackRequest) (*ChangeResponse, error) {
		changed, err := p.RemoveFromPlaylist(ctx, req.PlaylistID, req.TrackID)
		r, err := result(err)
		return &ChangeResponse{Result: *r, Changed: changed}, err
	}, opts...))
	mux.Handle(ProcedureCreatePlaylist, unary(ProcedureCreatePlaylist, func(ctx context.Context, req *CreatePlaylistRequest) (*CreatePlaylistResponse, error) {
		pl, err := p.CreatePlaylist(ctx, req.Title, req.Description)
		r, err := result(err)
		res := &CreatePlaylistResponse{Result: *r}
		if r.OK {
			res.Playlist = &pl
		}
		return res, err
	}, opts...))
	mux.Handle(ProcedureSearch, unary(ProcedureSearch, func(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
		tracks, err := p.Search(ctx, req.Query, req.Sort)
		r, err := result(err)
		return &SearchResponse{Result: *r, Tracks: tracks}, err
	}, opts...))
	mux.Handle(ProcedureEnqueue, unary(ProcedureEnqueue, func(ctx context.Context, req *EnqueueRequest) (*Result, error) {
		return result(p.Enqueue(ctx, req.TrackIDs...))
	}, opts...))
	mux.Handle(ProcedureRemoveFromQueue, unary(ProcedureRemoveFromQueue, func(ctx context.Context, req *TrackRequest) (*ChangeResponse, error) {
		changed, err := p.RemoveFromQueue(ctx, req.TrackID)
		r, err := result(err)
		return &ChangeResponse{Result: *r, Changed: changed}, err
	}, opts...))
	mux.Handle(ProcedureDismissError, unary(ProcedureDismissError, func(ctx context.Context, _ *Empty) (*Result, error) {
		p.DismissError(ctx)
		return &Result{OK: true}, nil
	}, opts...))
	mux.Handle(ProcedureGetSnapshot, unary(ProcedureGetSnapshot, func(_ context.Context, _ *Empty) (*SnapshotResponse, error) {
		return &SnapshotResponse{Snapshot: p.Snapshot()}, nil
	}, opts...))
	mux.Handle(ProcedureSubscribe, connect.NewServerStreamHandler(ProcedureSubscribe, s.Subscribe, opts...))

	return "/" + ServiceName + "/", mux
}

// Subscribe streams player snapshots. The first message carries the current
// state; later ones follow every change until the client goes away or the
// player closes.
func (s *PlayerService) Subscribe(
	ctx context.Context,
	_ *connect.Request[Empty],
	stream *connect.ServerStream[Notification],
) error {
	notifManager := s.player.Notifications()

	initial := &Notification{
		Type:       NotificationInitialState,
		SequenceNo: notifManager.NextSequenceNo(),
		Payload:    s.player.Snapshot(),
	}
	if err := stream.Send(initial); err != nil {
		return err
	}

	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifManager.Subscribe(adapter)
	defer notifManager.Unsubscribe(subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.player.Done():
	}
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized since broadcasts may overlap.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[Notification]
}

func (a *notificationStreamAdapter) Send(n *Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(n)
}

func unary[Req, Res any](procedure string, fn func(context.Context, *Req) (*Res, error), opts ...connect.HandlerOption) http.Handler {
	return connect.NewUnaryHandler(procedure, func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(res), nil
	}, opts...)
}

func command(procedure string, fn func(context.Context) error, opts ...connect.HandlerOption) http.Handler {
	return unary(procedure, func(ctx context.Context, _ *Empty) (*Result, error) {
		return result(fn(ctx))
	}, opts...)
}

// result turns a command error into a Result. Errors that are not command
// errors become internal RPC errors.
func result(err error) (*Result, error) {
	if err == nil {
		return &Result{OK: true}, nil
	}
	var ce *player.CommandError
	if errors.As(err, &ce) {
		zlog.Debug().Msgf("connect: command failed: code=%s err=%v", ce.Code, ce.Err)
		return &Result{Code: string(ce.Code), Message: ce.Message()}, nil
	}
	zlog.Error().Msgf("connect: unexpected error: %v", err)
	return &Result{}, connect.NewError(connect.CodeInternal, err)
}
