// Package session implements the session manager (C3): opaque refresh
// tokens, single-use rotation, per-device metadata, and multi-device
// listing/revocation. Access tokens themselves are minted by
// internal/accesstoken; this package only manages the refresh-token-backed
// session rows that back them.
package session

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
)

// Session is one logged-in device/browser for a user.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	DeviceName       string
	UserAgent        string
	IPAddress        string
	LastActivity     time.Time
	ExpiresAt        time.Time
	CreatedAt        time.Time
	// IsCurrent is populated by the caller (the server knows which
	// session id matches the requester's own access-token claim); it is
	// never loaded from storage.
	IsCurrent bool
}

// Issued is returned on session creation and on rotation: the session row
// plus the plaintext refresh token, which is never stored and cannot be
// recovered once returned.
type Issued struct {
	Session      *Session
	RefreshToken string
}
