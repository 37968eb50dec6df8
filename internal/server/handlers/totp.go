package handlers

import (
	"errors"
	"net/http"

	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/identity"
	"github.com/relay-onprem/control-plane/internal/ratelimit"
)

// TOTPHandlers implements the two-factor enrollment lifecycle: begin,
// confirm, and disable.
type TOTPHandlers struct {
	identity *identity.Store
	audit    *audit.Store
}

func NewTOTPHandlers(identityStore *identity.Store, auditStore *audit.Store) *TOTPHandlers {
	return &TOTPHandlers{identity: identityStore, audit: auditStore}
}

// Status reports whether the caller has two-factor enabled.
func (h *TOTPHandlers) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"totp_enabled": user.TOTPEnabled})
}

// Enable begins enrollment, returning a fresh secret, otpauth:// URI, and
// backup codes. Nothing is persisted until Verify confirms a live code.
func (h *TOTPHandlers) Enable(w http.ResponseWriter, r *http.Request) {
	user, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	if user.TOTPEnabled {
		Conflict(w, r, "totp is already enabled")
		return
	}

	enrollment, err := identity.BeginTOTPEnrollment(user.Email)
	if err != nil {
		InternalError(w, r)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"secret": enrollment.Secret, "uri": enrollment.URI, "backup_codes": enrollment.BackupCodes,
	})
}

type confirmTOTPRequest struct {
	Secret      string   `json:"secret"`
	Code        string   `json:"code"`
	BackupCodes []string `json:"backup_codes"`
}

// Verify confirms a just-enrolled secret with a live code and persists it.
func (h *TOTPHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	user, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	var req confirmTOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.identity.ConfirmTOTP(r.Context(), user.ID, req.Secret, req.Code, req.BackupCodes); err != nil {
		writeTOTPError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionTOTPEnabled, user.ID, user.ID, "", nil, ratelimit.ClientKey(r), r.UserAgent())
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type disableTOTPRequest struct {
	Code string `json:"code"`
}

// Disable turns off two-factor after confirming a live code.
func (h *TOTPHandlers) Disable(w http.ResponseWriter, r *http.Request) {
	user, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	var req disableTOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.identity.DisableTOTP(r.Context(), user.ID, req.Code); err != nil {
		writeTOTPError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionTOTPDisabled, user.ID, user.ID, "", nil, ratelimit.ClientKey(r), r.UserAgent())
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeTOTPError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrTOTPAlreadyEnabled):
		Conflict(w, r, err.Error())
	case errors.Is(err, identity.ErrTOTPNotEnabled), errors.Is(err, identity.ErrInvalidTOTPCode):
		BadRequest(w, r, err.Error())
	default:
		InternalError(w, r)
	}
}
