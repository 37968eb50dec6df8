package oauthbroker

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// statePayload is the self-contained, unguessable PKCE state: instead of
// the teacher's server-side state→TTL map, the verifier round-trips
// through the client inside state itself, so the broker stays stateless
// across restarts and there is nothing to garbage-collect.
type statePayload struct {
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
	ReturnURL    string `json:"return_url,omitempty"`
}

// generateCodeVerifier returns a PKCE code_verifier of 96 URL-safe base64
// characters, within the RFC 7636 43–128 character range.
func generateCodeVerifier() (string, error) {
	b := make([]byte, 72) // base64url(72 bytes) == 96 chars, no padding
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// codeChallengeS256 computes the PKCE S256 code_challenge for a verifier.
func codeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// encodeState packages the PKCE verifier and redirect context into the
// opaque, URL-safe base64 JSON handed back to the client as `state`.
func encodeState(p statePayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeState reverses encodeState, failing with ErrInvalidState on any
// parse error (callback step 2 of the spec's broker flow).
func decodeState(state string) (statePayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return statePayload{}, ErrInvalidState
	}
	var p statePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return statePayload{}, ErrInvalidState
	}
	if p.CodeVerifier == "" || p.RedirectURI == "" {
		return statePayload{}, ErrInvalidState
	}
	return p, nil
}
