package server

import (
	"net/http"
	"strings"

	"github.com/relay-onprem/control-plane/internal/accesstoken"
	"github.com/relay-onprem/control-plane/internal/identity"
	"github.com/relay-onprem/control-plane/internal/principal"
	"github.com/relay-onprem/control-plane/internal/server/handlers"
)

// AuthConfig wires the pieces AuthMiddleware needs to resolve a principal.
type AuthConfig struct {
	Tokens   *accesstoken.Issuer
	Identity *identity.Store
	// Optional permits an anonymous request through with no principal
	// attached instead of rejecting it with 401; handlers that allow
	// public/anonymous access (e.g. public share reads) use this.
	Optional bool
}

// RequireAuth rejects any request without a valid, non-expired access
// token bound to an active user, attaching the resolved Principal to the
// request context on success.
func RequireAuth(tokens *accesstoken.Issuer, identityStore *identity.Store) Middleware {
	return AuthMiddleware(AuthConfig{Tokens: tokens, Identity: identityStore})
}

// OptionalAuth resolves a Principal when a valid bearer token is present
// but lets anonymous requests through otherwise — used for endpoints that
// serve both members and the public (e.g. a public/protected share read).
func OptionalAuth(tokens *accesstoken.Issuer, identityStore *identity.Store) Middleware {
	return AuthMiddleware(AuthConfig{Tokens: tokens, Identity: identityStore, Optional: true})
}

// AuthMiddleware decodes the bearer token, verifies its signature and
// expiry, loads the User by sub, rejects if is_active=false, and attaches
// the resolved principal to the request — per the access-token issuer's
// public request-processing contract.
func AuthMiddleware(cfg AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				handlers.Unauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := cfg.Tokens.Verify(token)
			if err != nil {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				handlers.Unauthorized(w, r, "invalid or expired token")
				return
			}

			user, err := cfg.Identity.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				handlers.Unauthorized(w, r, "invalid or expired token")
				return
			}
			if !user.IsActive {
				if cfg.Optional {
					next.ServeHTTP(w, r)
					return
				}
				handlers.Forbidden(w, r, "account is inactive")
				return
			}

			ctx := principal.WithContext(r.Context(), &principal.Principal{User: user, SessionID: claims.SessionID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects any request whose resolved principal is not an
// admin; it must be chained after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok || !principal.User.IsAdmin {
			handlers.Forbidden(w, r, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
