package handlers

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-onprem/control-plane/internal/accesstoken"
	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/database"
	"github.com/relay-onprem/control-plane/internal/identity"
	"github.com/relay-onprem/control-plane/internal/instancesettings"
	"github.com/relay-onprem/control-plane/internal/invites"
	"github.com/relay-onprem/control-plane/internal/notify"
	"github.com/relay-onprem/control-plane/internal/oauthbroker"
	"github.com/relay-onprem/control-plane/internal/principal"
	"github.com/relay-onprem/control-plane/internal/relay"
	"github.com/relay-onprem/control-plane/internal/session"
	"github.com/relay-onprem/control-plane/internal/shares"
	"github.com/relay-onprem/control-plane/internal/webhooks"
)

// fixture wires every store a handler group might need against a single
// throwaway database, mirroring how internal/server.New assembles them.
type fixture struct {
	db *database.DB

	identity *identity.Store
	sessions *session.Service
	tokens   *accesstoken.Issuer
	shares   *shares.Store
	invites  *invites.Store
	redeemer *invites.Redeemer
	audit         *audit.Store
	webhooks      *webhooks.Store
	webhookWorker *webhooks.Worker
	notify        *notify.Dispatcher
	minter   *relay.Minter
	oauth    *oauthbroker.Registry
	settings *instancesettings.Store

	authCfg     config.AuthConfig
	passwordCfg config.PasswordConfig
}

func newFixture(t *testing.T) *fixture {
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

	passwordCfg := config.PasswordConfig{MinLength: 8}
	authCfg := config.AuthConfig{
		JWT:               config.JWTConfig{Secret: "test-secret-test-secret", AccessTTL: time.Hour, Issuer: "relay-control-plane"},
		Password:          passwordCfg,
		RefreshTTL:        30 * 24 * time.Hour,
		AllowRegistration: true,
	}

	identityStore := identity.NewStore(db)
	sessionStore := session.NewStore(db)
	tokens := accesstoken.NewIssuer(authCfg.JWT)
	sessions := session.NewService(identityStore, sessionStore, tokens, authCfg)

	sharesStore := shares.NewStore(db)
	invitesStore := invites.NewStore(db)
	redeemer := invites.NewRedeemer(db, invitesStore, sharesStore, identityStore, sessions, passwordCfg)

	auditStore := audit.NewStore(db)

	webhookStore := webhooks.NewStore(db)
	webhookWorker := webhooks.NewWorker(db, config.WebhookConfig{PollInterval: time.Minute, BatchSize: 10, AttemptTimeout: time.Second, UserAgent: "test"})
	emailStore := notify.NewEmailStore(db)
	preferenceStore := notify.NewPreferenceStore(db)
	dispatcher := notify.NewDispatcher(webhookStore, webhookWorker, emailStore, preferenceStore)

	privateKey, err := cryptoutil.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	minter := relay.NewMinter(sharesStore, privateKey, "wss://relay.example.com/ws", 30*time.Minute)

	oauthRegistry := oauthbroker.NewRegistry(config.OAuthConfig{})
	settingsStore := instancesettings.NewStore(db)

	return &fixture{
		db: db, identity: identityStore, sessions: sessions, tokens: tokens,
		shares: sharesStore, invites: invitesStore, redeemer: redeemer,
		audit: auditStore, webhooks: webhookStore, webhookWorker: webhookWorker, notify: dispatcher, minter: minter,
		oauth: oauthRegistry, settings: settingsStore, authCfg: authCfg, passwordCfg: passwordCfg,
	}
}

// createUser creates an active user and returns it; withPrincipal attaches
// it to a request the way RequireAuth would.
func (f *fixture) createUser(t *testing.T, email string, isAdmin bool) *identity.User {
	t.Helper()
	u, err := f.identity.CreateUser(context.Background(), email, "hash", isAdmin)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

// withPrincipal attaches user as the authenticated caller, the same
// context value RequireAuth/OptionalAuth would leave behind.
func withPrincipal(r *http.Request, user *identity.User) *http.Request {
	ctx := principal.WithContext(r.Context(), &principal.Principal{User: user, SessionID: "test-session"})
	return r.WithContext(ctx)
}
