// Package principal carries the resolved identity of an authenticated
// request through context.Context. It exists as its own leaf package so
// both internal/server (which attaches it in AuthMiddleware) and
// internal/server/handlers (which reads it) can depend on it without a
// cycle between those two packages.
package principal

import (
	"context"

	"github.com/relay-onprem/control-plane/internal/identity"
)

type contextKey struct{}

// Principal is the authenticated caller attached to a request's context.
type Principal struct {
	User      *identity.User
	SessionID string
}

func WithContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the authenticated principal, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}
