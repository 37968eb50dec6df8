package oauthbroker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/identity"
	"github.com/relay-onprem/control-plane/internal/session"
)

// Broker drives the full authorize/callback state machine (C5): building
// the PKCE authorization URL, exchanging the code, resolving or creating
// the local user, and handing off to the session service for token
// issuance.
type Broker struct {
	registry *Registry
	identity *identity.Store
	sessions *session.Service
}

func NewBroker(registry *Registry, identityStore *identity.Store, sessions *session.Service) *Broker {
	return &Broker{registry: registry, identity: identityStore, sessions: sessions}
}

func (b *Broker) ListProviders() []string {
	return b.registry.List()
}

// AuthorizeResult carries both renderings the handler needs: a 302 for
// browser clients, or the same URL/state as JSON for API clients.
type AuthorizeResult struct {
	AuthorizeURL string
	State        string
}

// Authorize begins the flow for provider: generates a PKCE verifier,
// packages it with redirectURI/returnURL into the self-contained state,
// and returns the provider's authorization URL.
func (b *Broker) Authorize(providerName string, r *http.Request, returnURL string) (*AuthorizeResult, error) {
	provider, err := b.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, err
	}
	redirectURI := redirectURIFor(r, provider.Name)

	state, err := encodeState(statePayload{
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		ReturnURL:    returnURL,
	})
	if err != nil {
		return nil, err
	}

	challenge := codeChallengeS256(verifier)
	return &AuthorizeResult{
		AuthorizeURL: authorizeURL(provider, redirectURI, state, challenge),
		State:        state,
	}, nil
}

// CallbackResult is what the handler needs to finish the request: the
// issued session, and the return_url to redirect to when one was present
// (empty for API-initiated flows, which get the session as JSON instead).
type CallbackResult struct {
	Session   *session.Result
	ReturnURL string
}

// Callback completes the flow: decodes state, exchanges code for a token
// with the matching PKCE verifier, fetches userinfo, resolves or creates
// the local user, and issues a session.
func (b *Broker) Callback(ctx context.Context, providerName, code, state, userAgent, ipAddress string) (*CallbackResult, error) {
	provider, err := b.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	payload, err := decodeState(state)
	if err != nil {
		return nil, err
	}

	token, err := exchangeCode(ctx, provider, code, payload.CodeVerifier, payload.RedirectURI)
	if err != nil {
		return nil, err
	}

	info, err := fetchUserInfo(ctx, provider, token)
	if err != nil {
		return nil, err
	}

	user, err := b.resolveUser(ctx, provider, info)
	if err != nil {
		return nil, err
	}

	result, err := b.sessions.OAuthSession(ctx, user, provider.Name, userAgent, ipAddress)
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID).Str("provider", provider.Name).Msg("oauth login")
	return &CallbackResult{Session: result, ReturnURL: payload.ReturnURL}, nil
}

// resolveUser implements spec.md §4.4 step 3: match by provider identity,
// else by email (linking), else auto-register when the provider allows it.
func (b *Broker) resolveUser(ctx context.Context, provider Provider, info *UserInfo) (*identity.User, error) {
	targetAdmin := b.isAdminFromGroups(provider, info.Groups)

	account, err := b.identity.GetOAuthAccount(ctx, provider.Name, info.Subject)
	if err == nil {
		user, err := b.identity.GetByID(ctx, account.UserID)
		if err != nil {
			return nil, fmt.Errorf("loading linked user: %w", err)
		}
		if provider.SyncUserInfo && len(info.Groups) > 0 && user.IsAdmin != targetAdmin {
			if err := b.identity.UpdateAdmin(ctx, user.ID, targetAdmin); err != nil {
				return nil, fmt.Errorf("syncing admin flag: %w", err)
			}
			user.IsAdmin = targetAdmin
		}
		return user, nil
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		return nil, fmt.Errorf("looking up oauth account: %w", err)
	}

	existing, err := b.identity.GetByEmail(ctx, info.Email)
	if err == nil {
		if linkErr := b.identity.LinkOAuthAccount(ctx, existing.ID, provider.Name, info.Subject, info.Email, info.Name, info.Picture); linkErr != nil {
			return nil, linkErr
		}
		log.Info().Str("user_id", existing.ID).Str("provider", provider.Name).Msg("oauth account linked")
		return existing, nil
	}
	if !errors.Is(err, identity.ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}

	if !provider.AutoRegister {
		return nil, ErrAutoRegisterDisabled
	}

	user, err := b.identity.CreateUser(ctx, info.Email, "", targetAdmin)
	if err != nil {
		return nil, err
	}
	if err := b.identity.LinkOAuthAccount(ctx, user.ID, provider.Name, info.Subject, info.Email, info.Name, info.Picture); err != nil {
		return nil, err
	}
	return user, nil
}

func (b *Broker) isAdminFromGroups(provider Provider, groups []string) bool {
	for _, g := range groups {
		if _, ok := provider.AdminGroups[g]; ok {
			return true
		}
	}
	if len(provider.AdminGroups) > 0 {
		return false
	}
	return provider.DefaultRole == "admin"
}
