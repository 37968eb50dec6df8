package handlers

import (
	"net/http"

	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/oauthbroker"
	"github.com/relay-onprem/control-plane/internal/ratelimit"
)

// OAuthHandlers implements the OAuth/OIDC login flow (C5): provider
// discovery, authorization redirect, and callback completion.
type OAuthHandlers struct {
	broker *oauthbroker.Broker
	audit  *audit.Store
}

func NewOAuthHandlers(broker *oauthbroker.Broker, auditStore *audit.Store) *OAuthHandlers {
	return &OAuthHandlers{broker: broker, audit: auditStore}
}

// Providers lists the configured provider names a client may authorize with.
func (h *OAuthHandlers) Providers(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"providers": h.broker.ListProviders()})
}

// Authorize redirects the browser to the provider's authorization URL,
// or returns it as JSON for API clients that pass Accept: application/json.
func (h *OAuthHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	returnURL := r.URL.Query().Get("return_url")

	result, err := h.broker.Authorize(provider, r, returnURL)
	if err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	if r.Header.Get("Accept") == "application/json" {
		JSON(w, http.StatusOK, map[string]string{"authorize_url": result.AuthorizeURL, "state": result.State})
		return
	}
	http.Redirect(w, r, result.AuthorizeURL, http.StatusFound)
}

// Callback completes the flow and either redirects to the flow's
// return_url with the session attached, or returns the session as JSON.
func (h *OAuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	result, err := h.broker.Callback(r.Context(), provider, code, state, r.UserAgent(), ratelimit.ClientKey(r))
	if err != nil {
		BadRequest(w, r, err.Error())
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionOAuthLogin, result.Session.User.ID, "", "", map[string]any{"provider": provider}, ratelimit.ClientKey(r), r.UserAgent())

	if result.ReturnURL != "" {
		http.Redirect(w, r, result.ReturnURL, http.StatusFound)
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(result.Session))
}
