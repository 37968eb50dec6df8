package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/identity"
	"github.com/relay-onprem/control-plane/internal/notify"
	"github.com/relay-onprem/control-plane/internal/ratelimit"
	"github.com/relay-onprem/control-plane/internal/session"
	"github.com/relay-onprem/control-plane/internal/webhooks"
)

// AuthHandlers implements the login/session-lifecycle routes (C2+C3).
type AuthHandlers struct {
	sessions *session.Service
	identity *identity.Store
	audit    *audit.Store
	notify   *notify.Dispatcher
}

func NewAuthHandlers(sessions *session.Service, identityStore *identity.Store, auditStore *audit.Store, dispatcher *notify.Dispatcher) *AuthHandlers {
	return &AuthHandlers{sessions: sessions, identity: identityStore, audit: auditStore, notify: dispatcher}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken     string `json:"access_token"`
	AccessExpiresAt string `json:"access_expires_at"`
	RefreshToken    string `json:"refresh_token"`
	User            userResponse `json:"user"`
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	IsAdmin       bool   `json:"is_admin"`
	EmailVerified bool   `json:"email_verified"`
	TOTPEnabled   bool   `json:"totp_enabled"`
}

func toUserResponse(u *identity.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin, EmailVerified: u.EmailVerified, TOTPEnabled: u.TOTPEnabled}
}

func toSessionResponse(r *session.Result) sessionResponse {
	return sessionResponse{
		AccessToken:     r.AccessToken,
		AccessExpiresAt: r.AccessExpiresAt.Format(httpTimeFormat),
		RefreshToken:    r.RefreshToken,
		User:            toUserResponse(r.User),
	}
}

// Register creates a user. The endpoint is public: the first account can
// always be created (and becomes admin); after that, session.Register
// rejects signups unless registration is enabled.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.sessions.Register(r.Context(), req.Email, req.Password, r.UserAgent(), ratelimit.ClientKey(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionUserCreated, result.User.ID, result.User.ID, "", nil, ratelimit.ClientKey(r), r.UserAgent())
	JSON(w, http.StatusCreated, toSessionResponse(result))
}

// Login authenticates by password. A TOTP-enabled account fails 403 with
// X-2FA-Required instead of issuing tokens.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.sessions.Login(r.Context(), req.Email, req.Password, r.UserAgent(), ratelimit.ClientKey(r))
	if err != nil {
		if errors.Is(err, identity.ErrTOTPRequired) {
			TwoFactorRequired(w, r, "two-factor authentication required")
			return
		}
		writeAuthError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionUserLogin, result.User.ID, "", "", nil, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "user.login", result.User.ID, map[string]any{"user_id": result.User.ID}, nil)
	JSON(w, http.StatusOK, toSessionResponse(result))
}

type loginTOTPRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

// LoginTOTP completes a login for an account with TOTP enabled.
func (h *AuthHandlers) LoginTOTP(w http.ResponseWriter, r *http.Request) {
	var req loginTOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.sessions.LoginWithTOTP(r.Context(), req.Email, req.Password, req.Code, r.UserAgent(), ratelimit.ClientKey(r))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionUserLogin, result.User.ID, "", "", map[string]any{"totp": true}, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "user.login", result.User.ID, map[string]any{"user_id": result.User.ID}, nil)
	JSON(w, http.StatusOK, toSessionResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a refresh token, single-use.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		Unauthorized(w, r, "invalid or expired refresh token")
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionTokenRefreshed, result.User.ID, "", "", nil, ratelimit.ClientKey(r), r.UserAgent())
	JSON(w, http.StatusOK, toSessionResponse(result))
}

// Logout ends the session tied to the presented refresh token.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		InternalError(w, r)
		return
	}

	if p, ok := principalFromRequest(r); ok {
		logAudit(r.Context(), h.audit, audit.ActionUserLogout, p.ID, "", "", nil, ratelimit.ClientKey(r), r.UserAgent())
	}
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Me returns the authenticated principal.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	JSON(w, http.StatusOK, toUserResponse(p))
}

type sessionListResponse struct {
	ID           string `json:"id"`
	DeviceName   string `json:"device_name,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	LastActivity string `json:"last_activity"`
	IsCurrent    bool   `json:"is_current"`
}

// Sessions lists every session belonging to the authenticated user.
func (h *AuthHandlers) Sessions(w http.ResponseWriter, r *http.Request) {
	p, sessionID, ok := principalAndSessionFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}

	sessions, err := h.sessions.ListSessions(r.Context(), p.ID, sessionID)
	if err != nil {
		InternalError(w, r)
		return
	}

	out := make([]sessionListResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionListResponse{
			ID: s.ID, DeviceName: s.DeviceName, UserAgent: s.UserAgent, IPAddress: s.IPAddress,
			LastActivity: s.LastActivity.Format(httpTimeFormat), IsCurrent: s.IsCurrent,
		})
	}
	JSON(w, http.StatusOK, out)
}

// RevokeSession revokes one of the caller's own sessions.
func (h *AuthHandlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	id := r.PathValue("id")
	if !isUUID(id) {
		BadRequest(w, r, "invalid session id")
		return
	}

	if err := h.sessions.RevokeSession(r.Context(), id, p.ID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			NotFound(w, r, "session not found")
			return
		}
		InternalError(w, r)
		return
	}
	logAudit(r.Context(), h.audit, audit.ActionSessionRevoked, p.ID, "", "", map[string]any{"session_id": id}, ratelimit.ClientKey(r), r.UserAgent())
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// RevokeAllSessions revokes every session belonging to the caller.
func (h *AuthHandlers) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}

	count, err := h.sessions.RevokeAllSessions(r.Context(), p.ID)
	if err != nil {
		InternalError(w, r)
		return
	}
	logAudit(r.Context(), h.audit, audit.ActionSessionRevoked, p.ID, "", "", map[string]any{"revoked_count": count}, ratelimit.ClientKey(r), r.UserAgent())
	JSON(w, http.StatusOK, map[string]any{"revoked_count": count})
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset always reports 200 to avoid account enumeration.
func (h *AuthHandlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID, token, err := h.sessions.RequestPasswordReset(r.Context(), req.Email)
	if err == nil && token != "" {
		logDispatch(r.Context(), h.notify, "user.password_reset", userID, map[string]any{"requested": true}, nil, notify.EmailNotification{
			RecipientUserID: userID,
			ToEmail:         req.Email,
			Category:        notify.CategorySecurityAlert,
			Subject:         "Reset your password",
			BodyText:        "A password reset was requested for your account. Token: " + token,
			EmailType:       "password_reset",
		})
	}
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type passwordResetCompleteRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// CompletePasswordReset finishes a reset flow.
func (h *AuthHandlers) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetCompleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.sessions.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, identity.ErrTokenNotFound) || errors.Is(err, identity.ErrTokenExpired) || errors.Is(err, identity.ErrTokenAlreadyUsed) {
			BadRequest(w, r, "invalid or expired reset token")
			return
		}
		BadRequest(w, r, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// RequestEmailVerification issues a verification token for the caller's
// own account and emails it.
func (h *AuthHandlers) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	if p.EmailVerified {
		JSON(w, http.StatusOK, map[string]any{"ok": true, "already_verified": true})
		return
	}

	token, err := h.sessions.RequestEmailVerification(r.Context(), p.ID)
	if err != nil {
		InternalError(w, r)
		return
	}
	logAudit(r.Context(), h.audit, audit.ActionEmailVerificationSent, p.ID, p.ID, "", nil, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, webhooks.EventEmailVerificationSent, p.ID, map[string]any{"user_id": p.ID}, nil, notify.EmailNotification{
		RecipientUserID: p.ID,
		ToEmail:         p.Email,
		Category:        notify.CategorySecurityAlert,
		Subject:         "Verify your email address",
		BodyText:        "Confirm your email address with this token: " + token,
		EmailType:       "email_verification",
	})
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type emailVerifyCompleteRequest struct {
	Token string `json:"token"`
}

// CompleteEmailVerification redeems a verification token and marks the
// account verified.
func (h *AuthHandlers) CompleteEmailVerification(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" && r.Method == http.MethodPost {
		var req emailVerifyCompleteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token = req.Token
	}
	if token == "" {
		BadRequest(w, r, "missing verification token")
		return
	}

	userID, err := h.sessions.CompleteEmailVerification(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrTokenNotFound) || errors.Is(err, identity.ErrTokenExpired) || errors.Is(err, identity.ErrTokenAlreadyUsed) {
			BadRequest(w, r, "invalid or expired verification token")
			return
		}
		InternalError(w, r)
		return
	}
	logAudit(r.Context(), h.audit, audit.ActionEmailVerified, userID, userID, "", nil, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, webhooks.EventEmailVerified, userID, map[string]any{"user_id": userID}, nil)
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		Unauthorized(w, r, "invalid email or password")
	case errors.Is(err, identity.ErrUserInactive), errors.Is(err, session.ErrUserInactive):
		Forbidden(w, r, "account is inactive")
	case errors.Is(err, session.ErrRegistrationClosed):
		Forbidden(w, r, "registration is closed")
	default:
		BadRequest(w, r, "unable to complete request")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, r, "malformed request body")
		return false
	}
	return true
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"
