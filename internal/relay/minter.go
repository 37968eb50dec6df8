// Package relay mints Ed25519-signed CWT relay capabilities (C9): the
// bridge between a share authorization decision and the token the
// downstream document relay accepts over its WebSocket endpoint.
package relay

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/shares"
)

const issuer = "relay-control-plane"

var ErrForbidden = errors.New("not authorized to mint a relay token for this share")

// Minter issues relay capability tokens.
type Minter struct {
	shares     *shares.Store
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	keyID      string
	relayURL   string
	ttl        time.Duration
}

func NewMinter(sharesStore *shares.Store, privateKey ed25519.PrivateKey, relayURL string, ttl time.Duration) *Minter {
	pub := privateKey.Public().(ed25519.PublicKey)
	return &Minter{
		shares:     sharesStore,
		privateKey: privateKey,
		publicKey:  pub,
		keyID:      cryptoutil.KeyID(pub),
		relayURL:   relayURL,
		ttl:        ttl,
	}
}

// PublicKeyInfo is the unauthenticated verifier-discovery response.
type PublicKeyInfo struct {
	KeyID     string
	PublicKey ed25519.PublicKey
	Algorithm string
}

// PublicKeyInfo returns what the relay's verifier needs to check tokens
// this Minter issues.
func (m *Minter) PublicKeyInfo() PublicKeyInfo {
	return PublicKeyInfo{KeyID: m.keyID, PublicKey: m.publicKey, Algorithm: "EdDSA"}
}

// Mode is the capability requested for a document.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// IssueRequest carries the parameters of a relay token request.
type IssueRequest struct {
	ShareID  string
	DocID    string
	Mode     Mode
	FilePath string // optional: resolves a more specific share within a folder
	Password string
}

// IssueResult is the response handed back to the caller.
type IssueResult struct {
	RelayURL  string
	Token     string
	DocID     string
	ExpiresAt time.Time
}

// IssueRelayToken authorizes and mints a capability per spec.md §4.8:
// load the share, optionally narrow it via the folder resolver, check
// authz, then sign a CWT scoped to DocID for the requested mode.
func (m *Minter) IssueRelayToken(ctx context.Context, req IssueRequest, principal *authz.Principal, verify authz.PasswordVerifier) (*IssueResult, error) {
	share, err := m.shares.GetByID(ctx, req.ShareID)
	if err != nil {
		return nil, err
	}

	if req.FilePath != "" && share.Kind == shares.KindFolder {
		resolved, err := m.shares.FindShareForPath(ctx, principal, req.FilePath, verify)
		if err != nil {
			return nil, err
		}
		if resolved != nil && isMoreSpecific(resolved, share) {
			share = resolved
		}
	}

	action := authz.ActionRead
	if req.Mode == ModeWrite {
		action = authz.ActionWrite
	}

	var member *authz.Membership
	if principal != nil {
		m2, err := m.shares.GetMember(ctx, share.ID, principal.ID)
		if err != nil && err != shares.ErrMemberNotFound {
			return nil, err
		}
		if m2 != nil {
			member = &authz.Membership{Role: m2.Role}
		}
	}

	allowed := authz.Authorize(principal, authz.Share{
		OwnerUserID:  share.OwnerUserID,
		Visibility:   share.Visibility,
		PasswordHash: share.PasswordHash,
	}, action, member, req.Password, verify)
	if !allowed {
		return nil, ErrForbidden
	}

	now := time.Now().UTC()
	token, err := cryptoutil.SignCWT(m.privateKey, cryptoutil.CWTClaims{
		Issuer:   issuer,
		IssuedAt: now,
		Scope:    cryptoutil.Scope(req.DocID, req.Mode == ModeWrite),
	})
	if err != nil {
		return nil, fmt.Errorf("minting relay token: %w", err)
	}

	return &IssueResult{
		RelayURL:  m.relayURL,
		Token:     token,
		DocID:     req.DocID,
		ExpiresAt: now.Add(m.ttl),
	}, nil
}

// isMoreSpecific reports whether candidate is a strictly narrower match
// than current — a nested doc share, or a deeper folder path.
func isMoreSpecific(candidate, current *shares.Share) bool {
	if candidate.ID == current.ID {
		return false
	}
	if candidate.Kind == shares.KindDoc && current.Kind == shares.KindFolder {
		return true
	}
	return len(candidate.Path) > len(current.Path)
}
