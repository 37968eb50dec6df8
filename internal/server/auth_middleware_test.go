package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-onprem/control-plane/internal/accesstoken"
	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/database"
	"github.com/relay-onprem/control-plane/internal/identity"
)

func testAuthHarness(t *testing.T) (*accesstoken.Issuer, *identity.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(&config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	issuer := accesstoken.NewIssuer(config.JWTConfig{
		Secret:    "test-secret-test-secret",
		AccessTTL: time.Hour,
		Issuer:    "relay-control-plane",
	})
	return issuer, identity.NewStore(db)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	issuer, identityStore := testAuthHarness(t)

	handler := RequireAuth(issuer, identityStore)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_ValidToken(t *testing.T) {
	issuer, identityStore := testAuthHarness(t)

	user, err := identityStore.CreateUser(t.Context(), "member@example.com", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, _, err := issuer.Mint(user.ID, "session-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	var seen *Principal
	handler := RequireAuth(issuer, identityStore)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatal("expected a principal in context")
		}
		seen = p
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if seen == nil || seen.User.ID != user.ID || seen.SessionID != "session-1" {
		t.Errorf("unexpected principal: %+v", seen)
	}
}

func TestRequireAuth_InactiveUserRejected(t *testing.T) {
	issuer, identityStore := testAuthHarness(t)

	user, err := identityStore.CreateUser(t.Context(), "inactive@example.com", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := identityStore.UpdateActive(t.Context(), user.ID, false); err != nil {
		t.Fatalf("UpdateActive: %v", err)
	}
	token, _, err := issuer.Mint(user.ID, "session-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	handler := RequireAuth(issuer, identityStore)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached for an inactive user")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestOptionalAuth_AnonymousPassesThrough(t *testing.T) {
	issuer, identityStore := testAuthHarness(t)

	var sawPrincipal bool
	handler := OptionalAuth(issuer, identityStore)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawPrincipal = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if sawPrincipal {
		t.Error("expected no principal for an anonymous request")
	}
}

func TestRequireAdmin(t *testing.T) {
	issuer, identityStore := testAuthHarness(t)

	member, err := identityStore.CreateUser(t.Context(), "member2@example.com", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	admin, err := identityStore.CreateUser(t.Context(), "admin2@example.com", "hash", true)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	handler := RequireAuth(issuer, identityStore)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	memberToken, _, err := issuer.Mint(member.ID, "s1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+memberToken)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected member request to be forbidden, got %d", w.Code)
	}

	adminToken, _, err := issuer.Mint(admin.ID, "s2")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected admin request to succeed, got %d", w.Code)
	}
}
