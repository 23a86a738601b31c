package connect

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/19tune/internal/domain/listener"
)

const (
	// AuthorizationHeader carries the API token as a bearer token.
	AuthorizationHeader = "Authorization"
	// UserIDHeader names the listener a request acts for.
	UserIDHeader = "X-User-ID"
	// UserTokenHeader carries the listener's own token.
	UserTokenHeader = "X-User-Token"
)

// authInterceptor checks the API token and attaches the listener identity
// of the request to the context.
type authInterceptor struct {
	token string
}

// NewAuthInterceptor creates an interceptor requiring "Bearer <token>" on
// every call. An empty token disables the check.
func NewAuthInterceptor(token string) connect.Interceptor {
	return &authInterceptor{token: token}
}

func (i *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		ctx, err := i.authenticate(ctx, req.Header())
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (i *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		ctx, err := i.authenticate(ctx, conn.RequestHeader())
		if err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (i *authInterceptor) authenticate(ctx context.Context, header http.Header) (context.Context, error) {
	if i.token != "" {
		token, ok := strings.CutPrefix(header.Get(AuthorizationHeader), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(i.token)) != 1 {
			return ctx, connect.NewError(connect.CodeUnauthenticated, nil)
		}
	}
	if id := header.Get(UserIDHeader); id != "" {
		ctx = listener.NewContext(ctx, listener.Identity{ID: id, Token: header.Get(UserTokenHeader)})
	}
	return ctx, nil
}
