package oauthbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// authorizeURL builds the provider's authorization-code request URL.
func authorizeURL(p Provider, redirectURI, state, codeChallenge string) string {
	params := url.Values{}
	params.Set("client_id", p.ClientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("state", state)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", "S256")
	if len(p.Scopes) > 0 {
		params.Set("scope", strings.Join(p.Scopes, " "))
	}
	return p.AuthURL + "?" + params.Encode()
}

// exchangeCode trades an authorization code plus its PKCE verifier for an
// access token at the provider's token endpoint.
func exchangeCode(ctx context.Context, p Provider, code, verifier, redirectURI string) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", p.ClientID)
	data.Set("client_secret", p.ClientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("grant_type", "authorization_code")
	data.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrTokenExchange, resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access_token in response", ErrTokenExchange)
	}

	token := &Token{
		AccessToken:  tokenResp.AccessToken,
		TokenType:    tokenResp.TokenType,
		RefreshToken: tokenResp.RefreshToken,
	}
	if tokenResp.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return token, nil
}

// fetchUserInfo calls the provider's userinfo endpoint and normalizes the
// standard OIDC claims plus a best-effort group/role claim, accepting any
// of the common claim names a provider may use for group membership.
func fetchUserInfo(ctx context.Context, p Provider, token *Token) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrUserInfoFetch, resp.StatusCode, string(body))
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFetch, err)
	}

	info := &UserInfo{Provider: p.Name, Raw: data}
	if sub, ok := data["sub"].(string); ok {
		info.Subject = sub
	} else if id, ok := data["id"].(string); ok {
		info.Subject = id
	}
	if email, ok := data["email"].(string); ok {
		info.Email = email
	}
	if name, ok := data["name"].(string); ok {
		info.Name = name
	}
	if picture, ok := data["picture"].(string); ok {
		info.Picture = picture
	}
	info.Groups = extractGroups(data)

	if info.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrUserInfoFetch)
	}
	if info.Email == "" {
		return nil, ErrEmailRequired
	}
	return info, nil
}

// extractGroups accepts any of the claim names a provider commonly uses
// for group/role membership, as either a JSON array or a comma-separated
// string.
func extractGroups(data map[string]any) []string {
	for _, claim := range []string{"groups", "roles", "group", "memberOf"} {
		raw, ok := data[claim]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case []any:
			groups := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					groups = append(groups, s)
				}
			}
			return groups
		case string:
			parts := strings.Split(v, ",")
			groups := make([]string, 0, len(parts))
			for _, p := range parts {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					groups = append(groups, trimmed)
				}
			}
			return groups
		}
	}
	return nil
}
