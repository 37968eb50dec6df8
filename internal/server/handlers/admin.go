package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/identity"
)

// AdminHandlers implements admin-only user management and audit-log
// inspection, gated on RequireAdmin at the router layer.
type AdminHandlers struct {
	identity       *identity.Store
	audit          *audit.Store
	passwordPolicy config.PasswordConfig
}

// NewAdminHandlers wires the stores an admin operator's routes need.
func NewAdminHandlers(identityStore *identity.Store, auditStore *audit.Store, passwordPolicy config.PasswordConfig) *AdminHandlers {
	return &AdminHandlers{identity: identityStore, audit: auditStore, passwordPolicy: passwordPolicy}
}

type adminUserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	IsAdmin       bool   `json:"is_admin"`
	IsActive      bool   `json:"is_active"`
	EmailVerified bool   `json:"email_verified"`
	TOTPEnabled   bool   `json:"totp_enabled"`
	CreatedAt     string `json:"created_at"`
}

func toAdminUserResponse(u *identity.User) adminUserResponse {
	return adminUserResponse{
		ID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin, IsActive: u.IsActive,
		EmailVerified: u.EmailVerified, TOTPEnabled: u.TOTPEnabled, CreatedAt: u.CreatedAt.Format(httpTimeFormat),
	}
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// CreateUser provisions a new account directly, bypassing the public
// registration toggle entirely.
func (h *AdminHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := cryptoutil.ValidatePassword(req.Password, h.passwordPolicy); err != nil {
		BadRequest(w, r, err.Error())
		return
	}
	passwordHash, err := cryptoutil.HashPassword(req.Password)
	if err != nil {
		InternalError(w, r)
		return
	}

	user, err := h.identity.CreateUser(r.Context(), req.Email, passwordHash, req.IsAdmin)
	if err != nil {
		writeAdminUserError(w, r, err)
		return
	}

	actor, _ := principalFromRequest(r)
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}
	logAudit(r.Context(), h.audit, audit.ActionUserCreated, actorID, user.ID, "", map[string]any{"email": user.Email}, "", r.UserAgent())
	JSON(w, http.StatusCreated, toAdminUserResponse(user))
}

// ListUsers returns the account directory, paginated via limit/offset
// query parameters.
func (h *AdminHandlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	users, err := h.identity.ListUsers(r.Context(), limit, offset)
	if err != nil {
		InternalError(w, r)
		return
	}
	out := make([]adminUserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toAdminUserResponse(u))
	}
	JSON(w, http.StatusOK, out)
}

// GetUser returns one account's admin-facing detail.
func (h *AdminHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAdminUserError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toAdminUserResponse(user))
}

type updateUserRequest struct {
	IsActive *bool `json:"is_active,omitempty"`
	IsAdmin  *bool `json:"is_admin,omitempty"`
}

// UpdateUser toggles an account's active and admin flags.
func (h *AdminHandlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.IsActive != nil {
		if err := h.identity.UpdateActive(r.Context(), id, *req.IsActive); err != nil {
			writeAdminUserError(w, r, err)
			return
		}
	}
	if req.IsAdmin != nil {
		if err := h.identity.UpdateAdmin(r.Context(), id, *req.IsAdmin); err != nil {
			writeAdminUserError(w, r, err)
			return
		}
	}

	user, err := h.identity.GetByID(r.Context(), id)
	if err != nil {
		writeAdminUserError(w, r, err)
		return
	}

	actor, _ := principalFromRequest(r)
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}
	logAudit(r.Context(), h.audit, audit.ActionUserUpdated, actorID, id, "", nil, "", r.UserAgent())
	JSON(w, http.StatusOK, toAdminUserResponse(user))
}

// DeleteUser permanently removes an account.
func (h *AdminHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.identity.DeleteUser(r.Context(), id); err != nil {
		writeAdminUserError(w, r, err)
		return
	}

	actor, _ := principalFromRequest(r)
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}
	logAudit(r.Context(), h.audit, audit.ActionUserDeleted, actorID, id, "", nil, "", r.UserAgent())
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type auditEntryResponse struct {
	ID            string         `json:"id"`
	Timestamp     string         `json:"timestamp"`
	Action        string         `json:"action"`
	ActorUserID   string         `json:"actor_user_id,omitempty"`
	TargetUserID  string         `json:"target_user_id,omitempty"`
	TargetShareID string         `json:"target_share_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
}

func toAuditEntryResponse(e *audit.Entry) auditEntryResponse {
	return auditEntryResponse{
		ID: e.ID, Timestamp: e.Timestamp.Format(httpTimeFormat), Action: string(e.Action),
		ActorUserID: e.ActorUserID, TargetUserID: e.TargetUserID, TargetShareID: e.TargetShareID,
		Details: e.Details, IPAddress: e.IPAddress, UserAgent: e.UserAgent,
	}
}

// AuditLogs lists audit entries filtered by the request's query
// parameters: action, actor_user_id, target_user_id, target_share_id,
// limit, offset.
func (h *AdminHandlers) AuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:        audit.Action(q.Get("action")),
		ActorUserID:   q.Get("actor_user_id"),
		TargetUserID:  q.Get("target_user_id"),
		TargetShareID: q.Get("target_share_id"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}

	entries, err := h.audit.ListEntries(r.Context(), filter)
	if err != nil {
		InternalError(w, r)
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditEntryResponse(e))
	}
	JSON(w, http.StatusOK, out)
}

func writeAdminUserError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		NotFound(w, r, err.Error())
	case errors.Is(err, identity.ErrUserAlreadyExists):
		Conflict(w, r, err.Error())
	default:
		InternalError(w, r)
	}
}
