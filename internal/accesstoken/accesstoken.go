// Package accesstoken mints and verifies the JWT access tokens issued on
// login, refresh, and OAuth callback (C4). Refresh tokens are a
// separate, opaque, DB-backed mechanism handled by internal/session.
package accesstoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relay-onprem/control-plane/internal/config"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidIssuer    = errors.New("invalid token issuer")
	ErrMissingSubject   = errors.New("token missing subject")
	ErrInvalidSignature = errors.New("invalid token signature")
)

type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"session_id,omitempty"`
}

// Claims is the resolved identity of an access token's bearer.
type Claims struct {
	UserID    string
	SessionID string // may be empty on very old tokens
}

// Issuer mints and verifies access tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewIssuer(cfg config.JWTConfig) *Issuer {
	return &Issuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTTL,
	}
}

// Mint issues a new access token bound to userID and, when present, a
// session id — refresh rotation re-mints a token whose session_id
// claim equals the (stable) session row id.
func (i *Issuer) Mint(userID, sessionID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(i.ttl)

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify validates signature and expiry and returns the resolved claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if c.Issuer != i.issuer {
		return nil, ErrInvalidIssuer
	}
	if c.Subject == "" {
		return nil, ErrMissingSubject
	}

	return &Claims{UserID: c.Subject, SessionID: c.SessionID}, nil
}
