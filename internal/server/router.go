package server

import (
	"net/http"
	"strings"

	"github.com/relay-onprem/control-plane/internal/ratelimit"
	"github.com/relay-onprem/control-plane/internal/server/handlers"
)

// Router mounts every handler group onto the route table and wraps the
// whole mux in the cross-cutting middleware chain.
type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
	limits      *ratelimit.Registry
}

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
		limits: ratelimit.NewRegistry(ratelimit.DefaultRules()),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))

	if r.server.cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(r.server.cfg.Server.CORS))
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// mount registers a handler at path under both the versioned prefix
// and a bare-root compatibility mirror, per the public HTTP surface.
func (r *Router) mount(pattern string, handler http.HandlerFunc) {
	parts := strings.SplitN(pattern, " ", 2)
	method, path := parts[0], parts[1]
	r.mux.HandleFunc(method+" /v1"+path, handler)
	r.mux.HandleFunc(method+" "+path, handler)
}

func (r *Router) rateLimited(routeClass string, handler http.HandlerFunc) http.HandlerFunc {
	writeTooManyRequests := func(w http.ResponseWriter, req *http.Request) {
		handlers.TooManyRequests(w, req, "rate limit exceeded")
	}
	mw := r.limits.Middleware(routeClass, writeTooManyRequests)
	wrapped := mw(handler)
	return wrapped.ServeHTTP
}

func (r *Router) setupRoutes() {
	srv := r.server
	requireAuth := RequireAuth(srv.tokens, srv.identity)
	optionalAuth := OptionalAuth(srv.tokens, srv.identity)

	auth := handlers.NewAuthHandlers(srv.sessions, srv.identity, srv.audit, srv.notify)
	r.mount("POST /auth/register", r.rateLimited(ratelimit.RouteLogin, auth.Register))
	r.mount("POST /auth/login", r.rateLimited(ratelimit.RouteLogin, auth.Login))
	r.mount("POST /auth/login/2fa", r.rateLimited(ratelimit.RouteLogin, auth.LoginTOTP))
	r.mount("POST /auth/refresh", r.rateLimited(ratelimit.RouteRefresh, auth.Refresh))
	r.mount("POST /auth/password-reset/request", r.rateLimited(ratelimit.RoutePasswordReset, auth.RequestPasswordReset))
	r.mount("POST /auth/password-reset/complete", r.rateLimited(ratelimit.RoutePasswordReset, auth.CompletePasswordReset))
	r.mount("POST /auth/logout", requireAuth(http.HandlerFunc(auth.Logout)).ServeHTTP)
	r.mount("GET /auth/me", requireAuth(http.HandlerFunc(auth.Me)).ServeHTTP)
	r.mount("GET /auth/sessions", requireAuth(http.HandlerFunc(auth.Sessions)).ServeHTTP)
	r.mount("DELETE /auth/sessions/{id}", requireAuth(http.HandlerFunc(auth.RevokeSession)).ServeHTTP)
	r.mount("DELETE /auth/sessions", requireAuth(http.HandlerFunc(auth.RevokeAllSessions)).ServeHTTP)
	r.mount("POST /auth/email/verify/request", requireAuth(http.HandlerFunc(auth.RequestEmailVerification)).ServeHTTP)
	r.mount("POST /auth/email/verify/{token}", r.rateLimited(ratelimit.RoutePasswordReset, auth.CompleteEmailVerification))
	r.mount("GET /auth/email/verify/{token}", r.rateLimited(ratelimit.RoutePasswordReset, auth.CompleteEmailVerification))

	oauth := handlers.NewOAuthHandlers(srv.oauth, srv.audit)
	r.mount("GET /auth/oauth/providers", oauth.Providers)
	r.mount("GET /auth/oauth/{provider}/authorize", oauth.Authorize)
	r.mount("GET /auth/oauth/{provider}/callback", oauth.Callback)

	totp := handlers.NewTOTPHandlers(srv.identity, srv.audit)
	r.mount("GET /auth/2fa/status", requireAuth(http.HandlerFunc(totp.Status)).ServeHTTP)
	r.mount("POST /auth/2fa/enable", requireAuth(http.HandlerFunc(totp.Enable)).ServeHTTP)
	r.mount("POST /auth/2fa/verify", requireAuth(http.HandlerFunc(totp.Verify)).ServeHTTP)
	r.mount("POST /auth/2fa/disable", requireAuth(http.HandlerFunc(totp.Disable)).ServeHTTP)

	relayHandlers := handlers.NewRelayHandlers(srv.minter, srv.audit)
	r.mount("GET /keys/public", relayHandlers.PublicKey)
	r.mount("POST /tokens/relay", optionalAuth(http.HandlerFunc(relayHandlers.IssueToken)).ServeHTTP)

	shareHandlers := handlers.NewShareHandlers(srv.shares, srv.audit, srv.notify)
	r.mount("POST /shares", requireAuth(http.HandlerFunc(r.rateLimited(ratelimit.RouteShareCreate, shareHandlers.Create))).ServeHTTP)
	r.mount("GET /shares", requireAuth(http.HandlerFunc(shareHandlers.List)).ServeHTTP)
	r.mount("GET /shares/{id}", optionalAuth(http.HandlerFunc(shareHandlers.Get)).ServeHTTP)
	r.mount("PATCH /shares/{id}", requireAuth(http.HandlerFunc(shareHandlers.Update)).ServeHTTP)
	r.mount("DELETE /shares/{id}", requireAuth(http.HandlerFunc(shareHandlers.Delete)).ServeHTTP)
	r.mount("GET /shares/{id}/members", requireAuth(http.HandlerFunc(shareHandlers.ListMembers)).ServeHTTP)
	r.mount("POST /shares/{id}/members", requireAuth(http.HandlerFunc(r.rateLimited(ratelimit.RouteMemberAdd, shareHandlers.AddMember))).ServeHTTP)
	r.mount("DELETE /shares/{id}/members/{user_id}", requireAuth(http.HandlerFunc(shareHandlers.RemoveMember)).ServeHTTP)

	inviteHandlers := handlers.NewInviteHandlers(srv.invites, srv.redeemer, srv.shares, srv.audit, srv.notify)
	r.mount("POST /shares/{id}/invites", requireAuth(http.HandlerFunc(r.rateLimited(ratelimit.RouteInviteCreate, inviteHandlers.Create))).ServeHTTP)
	r.mount("GET /shares/{id}/invites", requireAuth(http.HandlerFunc(inviteHandlers.List)).ServeHTTP)
	r.mount("DELETE /shares/{id}/invites/{invite_id}", requireAuth(http.HandlerFunc(inviteHandlers.Revoke)).ServeHTTP)
	r.mount("GET /invite/{token}", inviteHandlers.PublicInfo)
	r.mount("POST /invite/{token}/redeem", optionalAuth(http.HandlerFunc(r.rateLimited(ratelimit.RouteInviteRedeem, inviteHandlers.Redeem))).ServeHTTP)

	webhookHandlers := handlers.NewWebhookHandlers(srv.webhooks, srv.webhookWorker, srv.cfg.Webhook.Debug)
	r.mount("GET /webhooks", requireAuth(http.HandlerFunc(webhookHandlers.List)).ServeHTTP)
	r.mount("POST /webhooks", requireAuth(http.HandlerFunc(r.rateLimited(ratelimit.RouteWebhookCreate, webhookHandlers.Create))).ServeHTTP)
	r.mount("PATCH /webhooks/{id}", requireAuth(http.HandlerFunc(webhookHandlers.Update)).ServeHTTP)
	r.mount("DELETE /webhooks/{id}", requireAuth(http.HandlerFunc(webhookHandlers.Delete)).ServeHTTP)
	r.mount("POST /webhooks/{id}/rotate-secret", requireAuth(http.HandlerFunc(webhookHandlers.RotateSecret)).ServeHTTP)
	r.mount("POST /webhooks/{id}/test", requireAuth(http.HandlerFunc(webhookHandlers.Test)).ServeHTTP)

	adminHandlers := handlers.NewAdminHandlers(srv.identity, srv.audit, srv.cfg.Auth.Password)
	r.mount("GET /admin/users", requireAuth(RequireAdmin(http.HandlerFunc(adminHandlers.ListUsers))).ServeHTTP)
	r.mount("POST /admin/users", requireAuth(RequireAdmin(http.HandlerFunc(adminHandlers.CreateUser))).ServeHTTP)
	r.mount("GET /admin/users/{id}", requireAuth(RequireAdmin(http.HandlerFunc(adminHandlers.GetUser))).ServeHTTP)
	r.mount("PATCH /admin/users/{id}", requireAuth(RequireAdmin(http.HandlerFunc(adminHandlers.UpdateUser))).ServeHTTP)
	r.mount("DELETE /admin/users/{id}", requireAuth(RequireAdmin(http.HandlerFunc(adminHandlers.DeleteUser))).ServeHTTP)
	r.mount("GET /admin/audit-logs", requireAuth(RequireAdmin(http.HandlerFunc(adminHandlers.AuditLogs))).ServeHTTP)
	r.mount("GET /admin/webhooks", requireAuth(RequireAdmin(http.HandlerFunc(webhookHandlers.ListAdmin))).ServeHTTP)
	r.mount("POST /admin/webhooks", requireAuth(RequireAdmin(http.HandlerFunc(webhookHandlers.CreateAdmin))).ServeHTTP)

	settingsHandlers := handlers.NewInstanceSettingsHandlers(srv.settings)
	r.mount("GET /admin/settings", requireAuth(RequireAdmin(http.HandlerFunc(settingsHandlers.List))).ServeHTTP)
	r.mount("GET /admin/settings/{key}", requireAuth(RequireAdmin(http.HandlerFunc(settingsHandlers.Get))).ServeHTTP)
	r.mount("PUT /admin/settings/{key}", requireAuth(RequireAdmin(http.HandlerFunc(settingsHandlers.Put))).ServeHTTP)

	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		handlers.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}

func PathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

func QueryParams(r *http.Request, name string) []string {
	return r.URL.Query()[name]
}

func QueryParam(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}
