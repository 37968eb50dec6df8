package server

import (
	"context"

	"github.com/relay-onprem/control-plane/internal/principal"
)

// Principal is the resolved identity of an authenticated request, attached
// to the context by AuthMiddleware.
type Principal = principal.Principal

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	return principal.FromContext(ctx)
}
