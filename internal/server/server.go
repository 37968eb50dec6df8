// Package server wires the HTTP surface (C14): middleware chain, route
// table, and the dependency graph every handler group needs.
package server

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

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
	"github.com/relay-onprem/control-plane/internal/ratelimit"
	"github.com/relay-onprem/control-plane/internal/relay"
	"github.com/relay-onprem/control-plane/internal/session"
	"github.com/relay-onprem/control-plane/internal/shares"
	"github.com/relay-onprem/control-plane/internal/webhooks"
)

// Server owns every long-lived component the HTTP router dispatches into.
type Server struct {
	cfg *config.Config
	db  *database.DB

	identity *identity.Store
	sessions *session.Service
	tokens   *accesstoken.Issuer
	shares   *shares.Store
	invites  *invites.Store
	redeemer *invites.Redeemer
	minter   *relay.Minter
	audit    *audit.Store
	webhooks *webhooks.Store
	notify   *notify.Dispatcher
	oauth    *oauthbroker.Broker
	settings *instancesettings.Store

	webhookWorker *webhooks.Worker
	emailWorker   *notify.Worker

	router *Router
}

// New wires every component from an opened database connection and
// loaded configuration. The returned Server does not yet serve traffic;
// call Start to launch its background workers and hand Handler() to an
// http.Server to accept connections.
func New(cfg *config.Config, db *database.DB) (*Server, error) {
	identityStore := identity.NewStore(db)
	sessionStore := session.NewStore(db)
	tokens := accesstoken.NewIssuer(cfg.Auth.JWT)
	sessions := session.NewService(identityStore, sessionStore, tokens, cfg.Auth)

	sharesStore := shares.NewStore(db)
	invitesStore := invites.NewStore(db)
	redeemer := invites.NewRedeemer(db, invitesStore, sharesStore, identityStore, sessions, cfg.Auth.Password)

	auditStore := audit.NewStore(db)

	webhookStore := webhooks.NewStore(db)
	webhookWorker := webhooks.NewWorker(db, cfg.Webhook)
	emailStore := notify.NewEmailStore(db)
	preferenceStore := notify.NewPreferenceStore(db)
	dispatcher := notify.NewDispatcher(webhookStore, webhookWorker, emailStore, preferenceStore)
	emailWorker := notify.NewWorker(db, nil, cfg.SMTP)

	settingsStore := instancesettings.NewStore(db)

	oauthRegistry := oauthbroker.NewRegistry(cfg.OAuth)
	broker := oauthbroker.NewBroker(oauthRegistry, identityStore, sessions)

	privateKey, err := relayPrivateKey(cfg.Relay)
	if err != nil {
		return nil, fmt.Errorf("loading relay private key: %w", err)
	}
	minter := relay.NewMinter(sharesStore, privateKey, cfg.Relay.PublicURL, cfg.Relay.TokenTTL)

	srv := &Server{
		cfg: cfg, db: db,
		identity: identityStore, sessions: sessions, tokens: tokens,
		shares: sharesStore, invites: invitesStore, redeemer: redeemer,
		minter: minter, audit: auditStore, webhooks: webhookStore,
		notify: dispatcher, oauth: broker, settings: settingsStore,
		webhookWorker: webhookWorker, emailWorker: emailWorker,
	}
	srv.router = NewRouter(srv)
	return srv, nil
}

// relayPrivateKey loads the configured Ed25519 signing key, generating
// and logging a fresh one when none is configured — convenient for local
// development, unsuitable for a real deployment since the key then
// changes on every restart.
func relayPrivateKey(cfg config.RelayConfig) (ed25519.PrivateKey, error) {
	if cfg.PrivateKey != "" {
		return cryptoutil.ParseEd25519PrivateKey(cfg.PrivateKey)
	}
	priv, err := cryptoutil.GenerateEd25519Key()
	if err != nil {
		return nil, err
	}
	log.Warn().Str("key_id", cryptoutil.KeyID(priv.Public().(ed25519.PublicKey))).
		Msg("no relay private key configured, generating an ephemeral one for this process")
	return priv, nil
}

// Start launches the background workers: webhook delivery and email
// delivery both poll their queue tables on independent intervals.
func (s *Server) Start() {
	s.webhookWorker.Start()
	s.emailWorker.Start()
}

// Stop drains both background workers before returning.
func (s *Server) Stop(ctx context.Context) {
	s.webhookWorker.Stop()
	s.emailWorker.Stop()
}

// Handler returns the fully wrapped HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Config() *config.Config { return s.cfg }
func (s *Server) DB() *database.DB       { return s.db }
