package oauthbroker

import (
	"sort"
	"strings"

	"github.com/relay-onprem/control-plane/internal/config"
)

// Registry holds the env-configured OAuth/OIDC providers (spec.md §4.4:
// "may be env-configured, materialized lazily on first use"). Providers
// missing a client id/secret or an auth/token URL are skipped rather than
// erroring, so partial configuration never prevents startup.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(cfg config.OAuthConfig) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for name, pc := range cfg.Providers {
		if !pc.Enabled || pc.ClientID == "" || pc.ClientSecret == "" || pc.AuthURL == "" || pc.TokenURL == "" {
			continue
		}
		admin := make(map[string]struct{}, len(pc.AdminGroups))
		for _, g := range pc.AdminGroups {
			admin[g] = struct{}{}
		}
		defaultRole := pc.DefaultRole
		if defaultRole == "" {
			defaultRole = "user"
		}
		r.providers[strings.ToLower(name)] = Provider{
			Name:         strings.ToLower(name),
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			Scopes:       pc.Scopes,
			AuthURL:      pc.AuthURL,
			TokenURL:     pc.TokenURL,
			UserInfoURL:  pc.UserInfoURL,
			AutoRegister: pc.AutoRegister,
			SyncUserInfo: pc.SyncUserInfo,
			AdminGroups:  admin,
			DefaultRole:  defaultRole,
		}
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return Provider{}, ErrProviderNotFound
	}
	return p, nil
}

// List returns the names of every enabled provider, sorted for stable
// output from the `/auth/oauth/providers` endpoint.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
