package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/oauthbroker"
)

// fakeOAuthProvider spins up a single httptest.Server serving both the
// token and userinfo endpoints a generic OIDC provider would expose.
func fakeOAuthProvider(t *testing.T, email string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fake-token", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"sub": "subject-1", "email": email, "name": "Test User"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOAuthHandlers_ProvidersAndAuthorize(t *testing.T) {
	f := newFixture(t)
	srv := fakeOAuthProvider(t, "newbie@example.com")

	registry := oauthbroker.NewRegistry(config.OAuthConfig{Providers: map[string]config.OAuthProviderConfig{
		"acme": {
			Enabled: true, ClientID: "client", ClientSecret: "secret",
			AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token", UserInfoURL: srv.URL + "/userinfo",
			AutoRegister: true,
		},
	}})
	broker := oauthbroker.NewBroker(registry, f.identity, f.sessions)
	h := NewOAuthHandlers(broker, f.audit)

	listReq := httptest.NewRequest(http.MethodGet, "/auth/oauth/providers", nil)
	w := httptest.NewRecorder()
	h.Providers(w, listReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var listed map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decoding providers: %v", err)
	}
	providers, _ := listed["providers"].([]any)
	if len(providers) != 1 || providers[0] != "acme" {
		t.Errorf("expected only acme listed, got %v", providers)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/auth/oauth/acme/authorize?return_url=https://app.example.com/done", nil)
	authReq.SetPathValue("provider", "acme")
	authReq.Header.Set("Accept", "application/json")
	w = httptest.NewRecorder()
	h.Authorize(w, authReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for a JSON authorize request, got %d: %s", w.Code, w.Body.String())
	}
	var authResp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &authResp); err != nil {
		t.Fatalf("decoding authorize response: %v", err)
	}
	if authResp["state"] == "" || authResp["authorize_url"] == "" {
		t.Fatalf("expected a non-empty state and authorize url, got %+v", authResp)
	}

	callbackReq := httptest.NewRequest(http.MethodGet, "/auth/oauth/acme/callback?code=fake-code&state="+authResp["state"], nil)
	callbackReq.SetPathValue("provider", "acme")
	w = httptest.NewRecorder()
	h.Callback(w, callbackReq)
	if w.Code != http.StatusFound {
		t.Fatalf("expected a redirect to the return_url, got %d: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "https://app.example.com/done" {
		t.Errorf("expected redirect to the return_url, got %q", loc)
	}
}

func TestOAuthHandlers_Authorize_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	broker := oauthbroker.NewBroker(f.oauth, f.identity, f.sessions)
	h := NewOAuthHandlers(broker, f.audit)

	req := httptest.NewRequest(http.MethodGet, "/auth/oauth/ghost/authorize", nil)
	req.SetPathValue("provider", "ghost")
	w := httptest.NewRecorder()
	h.Authorize(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown provider, got %d", w.Code)
	}
}
