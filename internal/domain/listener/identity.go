// Package listener provides the identity of the person using the player.
package listener

import "context"

// Identity is the opaque identity handed over by the authentication layer.
type Identity struct {
	ID    string // catalog user id; empty for anonymous listeners
	Token string // authorization token, never logged
}

// Anonymous is the identity used when no listener is signed in.
var Anonymous = Identity{}

// IsAnonymous reports whether the identity carries no user id.
func (i Identity) IsAnonymous() bool {
	return i.ID == ""
}

type contextKey struct{}

// NewContext returns a context carrying the identity.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Resolve returns the identity from ctx, or fallback when ctx carries none
// or an anonymous one.
func Resolve(ctx context.Context, fallback Identity) Identity {
	if id, ok := FromContext(ctx); ok && !id.IsAnonymous() {
		return id
	}
	return fallback
}
