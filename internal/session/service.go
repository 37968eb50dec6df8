package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/accesstoken"
	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/identity"
)

var (
	ErrRegistrationClosed = errors.New("registration is disabled")
	ErrUserInactive        = errors.New("user account is inactive")
)

// ErrTOTPRequired is returned by Login when the account has TOTP enabled: no
// tokens are issued, and the caller must resubmit to LoginWithTOTP.
var ErrTOTPRequired = identity.ErrTOTPRequired

// Service composes the identity store, the session store, and the
// access-token issuer into the login/refresh/logout operations described
// for C2+C3: the three pieces a request's authentication lifecycle touch.
type Service struct {
	identity *identity.Store
	sessions *Store
	tokens   *accesstoken.Issuer
	cfg      config.AuthConfig
}

func NewService(identityStore *identity.Store, sessionStore *Store, tokens *accesstoken.Issuer, cfg config.AuthConfig) *Service {
	return &Service{identity: identityStore, sessions: sessionStore, tokens: tokens, cfg: cfg}
}

// Result is returned by every operation that issues tokens.
type Result struct {
	User            *identity.User
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	SessionID       string
}

// Register creates a new account (the first user in the system becomes
// admin) and immediately logs it in.
func (s *Service) Register(ctx context.Context, email, password, userAgent, ipAddress string) (*Result, error) {
	hasUsers, err := s.identity.HasUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking for existing users: %w", err)
	}
	if hasUsers && !s.cfg.AllowRegistration {
		return nil, ErrRegistrationClosed
	}

	if err := cryptoutil.ValidatePassword(password, s.cfg.Password); err != nil {
		return nil, fmt.Errorf("password validation: %w", err)
	}

	passwordHash, err := cryptoutil.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user, err := s.identity.CreateUser(ctx, email, passwordHash, !hasUsers)
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("user registered")
	return s.issueSession(ctx, user, "", userAgent, ipAddress)
}

// Login authenticates (email, password). If the account has TOTP enabled
// it fails with ErrTOTPRequired and issues nothing; the caller must
// resubmit via LoginWithTOTP.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ipAddress string) (*Result, error) {
	user, err := s.identity.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if user.TOTPEnabled {
		return nil, identity.ErrTOTPRequired
	}

	log.Info().Str("user_id", user.ID).Msg("user logged in")
	return s.issueSession(ctx, user, "", userAgent, ipAddress)
}

// LoginWithTOTP completes a login for an account with TOTP enabled,
// additionally verifying a live TOTP code or an unused backup code.
func (s *Service) LoginWithTOTP(ctx context.Context, email, password, totpCode, userAgent, ipAddress string) (*Result, error) {
	user, err := s.identity.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !user.TOTPEnabled {
		return nil, identity.ErrTOTPNotEnabled
	}

	valid, _, err := s.identity.VerifyTOTPOrBackupCode(ctx, user.ID, totpCode)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, identity.ErrInvalidTOTPCode
	}

	log.Info().Str("user_id", user.ID).Msg("user logged in with totp")
	return s.issueSession(ctx, user, "", userAgent, ipAddress)
}

// OAuthSession issues tokens for an already-resolved user coming out of
// the OAuth/OIDC broker (C5), using a device label identifying the provider.
func (s *Service) OAuthSession(ctx context.Context, user *identity.User, provider, userAgent, ipAddress string) (*Result, error) {
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return s.issueSession(ctx, user, fmt.Sprintf("OAuth (%s)", provider), userAgent, ipAddress)
}

func (s *Service) issueSession(ctx context.Context, user *identity.User, deviceName, userAgent, ipAddress string) (*Result, error) {
	issued, err := s.sessions.Issue(ctx, user.ID, deviceName, userAgent, ipAddress, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	accessToken, expiresAt, err := s.tokens.Mint(user.ID, issued.Session.ID)
	if err != nil {
		return nil, fmt.Errorf("minting access token: %w", err)
	}

	return &Result{
		User:            user,
		AccessToken:     accessToken,
		AccessExpiresAt: expiresAt,
		RefreshToken:    issued.RefreshToken,
		SessionID:       issued.Session.ID,
	}, nil
}

// Refresh rotates a refresh token: single-use, in place, same session id,
// with a freshly minted access token bound to it.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Result, error) {
	issued, err := s.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.identity.GetByID(ctx, issued.Session.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.IsActive {
		_ = s.sessions.Delete(ctx, issued.Session.ID)
		return nil, ErrUserInactive
	}

	accessToken, expiresAt, err := s.tokens.Mint(user.ID, issued.Session.ID)
	if err != nil {
		return nil, fmt.Errorf("minting access token: %w", err)
	}

	return &Result{
		User:            user,
		AccessToken:     accessToken,
		AccessExpiresAt: expiresAt,
		RefreshToken:    issued.RefreshToken,
		SessionID:       issued.Session.ID,
	}, nil
}

// Logout deletes the session tied to refreshToken, if any. Unknown tokens
// are treated as already logged out rather than an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	sess, err := s.sessions.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return s.sessions.Delete(ctx, sess.ID)
}

// ListSessions returns every session belonging to userID, marking
// currentSessionID (from the caller's own access-token claim) as current.
func (s *Service) ListSessions(ctx context.Context, userID, currentSessionID string) ([]*Session, error) {
	sessions, err := s.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		sess.IsCurrent = sess.ID == currentSessionID
	}
	return sessions, nil
}

// RevokeSession deletes one of userID's own sessions.
func (s *Service) RevokeSession(ctx context.Context, sessionID, userID string) error {
	return s.sessions.RevokeOwned(ctx, sessionID, userID)
}

// RevokeAllSessions deletes every session belonging to userID and returns
// the count removed.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	return s.sessions.RevokeAll(ctx, userID)
}

// ChangePassword validates the current password, sets the new one, and
// mass-revokes every session for the user (forcing re-login everywhere).
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.identity.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := cryptoutil.VerifyPassword(currentPassword, user.PasswordHash); err != nil {
		return identity.ErrInvalidCredentials
	}
	if err := cryptoutil.ValidatePassword(newPassword, s.cfg.Password); err != nil {
		return fmt.Errorf("password validation: %w", err)
	}

	newHash, err := cryptoutil.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.identity.SetPasswordHash(ctx, userID, newHash); err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	return nil
}

// RequestPasswordReset issues a reset token for email if the account
// exists, queuing delivery; it always reports success to the caller to
// avoid user enumeration, so the returned token may be empty.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (userID, token string, err error) {
	user, err := s.identity.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return "", "", nil
		}
		return "", "", err
	}

	ttl := s.cfg.PasswordResetTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err = s.identity.CreatePasswordResetToken(ctx, user.ID, ttl)
	if err != nil {
		return "", "", err
	}
	return user.ID, token, nil
}

// CompletePasswordReset finishes a reset: new password hash, token marked
// used, and every session for the affected user revoked.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if err := cryptoutil.ValidatePassword(newPassword, s.cfg.Password); err != nil {
		return fmt.Errorf("password validation: %w", err)
	}
	newHash, err := cryptoutil.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	userID, err := s.identity.CompletePasswordReset(ctx, token, newHash)
	if err != nil {
		return err
	}

	if _, err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	return nil
}

// RequestEmailVerification issues a verification token for userID, queuing
// delivery to the caller.
func (s *Service) RequestEmailVerification(ctx context.Context, userID string) (string, error) {
	ttl := s.cfg.EmailVerifyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.identity.CreateEmailVerificationToken(ctx, userID, ttl)
}

// CompleteEmailVerification validates the token and marks the account
// verified, returning the affected user id.
func (s *Service) CompleteEmailVerification(ctx context.Context, token string) (string, error) {
	return s.identity.CompleteEmailVerification(ctx, token)
}
