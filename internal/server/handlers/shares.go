package handlers

import (
	"errors"
	"net/http"

	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/notify"
	"github.com/relay-onprem/control-plane/internal/ratelimit"
	"github.com/relay-onprem/control-plane/internal/shares"
)

// ShareHandlers implements the share and share-membership routes (C6).
type ShareHandlers struct {
	shares *shares.Store
	audit  *audit.Store
	notify *notify.Dispatcher
}

func NewShareHandlers(shareStore *shares.Store, auditStore *audit.Store, dispatcher *notify.Dispatcher) *ShareHandlers {
	return &ShareHandlers{shares: shareStore, audit: auditStore, notify: dispatcher}
}

type shareResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Path         string `json:"path"`
	Visibility   string `json:"visibility"`
	OwnerUserID  string `json:"owner_user_id"`
	WebPublished bool   `json:"web_published"`
	WebSlug      string `json:"web_slug,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toShareResponse(s *shares.Share) shareResponse {
	return shareResponse{
		ID: s.ID, Kind: string(s.Kind), Path: s.Path, Visibility: string(s.Visibility),
		OwnerUserID: s.OwnerUserID, WebPublished: s.WebPublished, WebSlug: s.WebSlug,
		CreatedAt: s.CreatedAt.Format(httpTimeFormat), UpdatedAt: s.UpdatedAt.Format(httpTimeFormat),
	}
}

// authorizeShareAccess loads the share and evaluates the access decision
// for the requesting principal (nil for anonymous), returning the share
// on allow or writing the appropriate error response on deny.
func (h *ShareHandlers) authorizeShareAccess(w http.ResponseWriter, r *http.Request, shareID string, action authz.Action, presentedPassword string) (*shares.Share, bool) {
	share, err := h.shares.GetByID(r.Context(), shareID)
	if err != nil {
		if errors.Is(err, shares.ErrShareNotFound) {
			NotFound(w, r, "share not found")
			return nil, false
		}
		InternalError(w, r)
		return nil, false
	}

	var p *authz.Principal
	var member *authz.Membership
	if u, ok := principalFromRequest(r); ok {
		p = &authz.Principal{ID: u.ID, IsAdmin: u.IsAdmin}
		if m, err := h.shares.GetMember(r.Context(), shareID, u.ID); err == nil {
			member = &authz.Membership{Role: m.Role}
		}
	}

	allowed := authz.Authorize(p, authz.Share{
		OwnerUserID: share.OwnerUserID, Visibility: share.Visibility, PasswordHash: share.PasswordHash,
	}, action, member, presentedPassword, verifyPassword)
	if !allowed {
		Forbidden(w, r, "not authorized for this share")
		return nil, false
	}
	return share, true
}

type createShareRequest struct {
	Kind       string `json:"kind"`
	Path       string `json:"path"`
	Visibility string `json:"visibility"`
	Password   string `json:"password,omitempty"`
}

// Create registers a new share owned by the caller.
func (h *ShareHandlers) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	var req createShareRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	share, err := h.shares.CreateShare(r.Context(), owner.ID, shares.Kind(req.Kind), req.Path, authz.Visibility(req.Visibility), req.Password)
	if err != nil {
		writeShareError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionShareCreated, owner.ID, "", share.ID, map[string]any{"path": share.Path}, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "share.created", owner.ID, map[string]any{"share_id": share.ID, "path": share.Path}, nil)
	JSON(w, http.StatusCreated, toShareResponse(share))
}

// Get reads one share, honoring public/protected/member visibility for
// anonymous and non-member callers alike.
func (h *ShareHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	share, ok := h.authorizeShareAccess(w, r, id, authz.ActionRead, r.URL.Query().Get("password"))
	if !ok {
		return
	}
	JSON(w, http.StatusOK, toShareResponse(share))
}

// List returns every share the caller owns or is a member of.
func (h *ShareHandlers) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	opts := shares.ListOptions{}
	if r.URL.Query().Get("owned") == "true" {
		opts.OwnedOnly = true
	}
	if k := r.URL.Query().Get("kind"); k != "" {
		opts.Kind = shares.Kind(k)
	}

	list, err := h.shares.ListForUser(r.Context(), owner.ID, opts)
	if err != nil {
		InternalError(w, r)
		return
	}
	out := make([]shareResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toShareResponse(s))
	}
	JSON(w, http.StatusOK, out)
}

type updateShareRequest struct {
	Path        *string `json:"path,omitempty"`
	Visibility  *string `json:"visibility,omitempty"`
	Password    *string `json:"password,omitempty"`
	WebNoindex  *bool   `json:"web_noindex,omitempty"`
	WebSyncMode *string `json:"web_sync_mode,omitempty"`
}

// Update applies a partial update; only the owner or an admin may mutate.
func (h *ShareHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	share, ok := h.authorizeShareAccess(w, r, id, authz.ActionWrite, "")
	if !ok {
		return
	}
	actor, _ := principalFromRequest(r)

	var req updateShareRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patch := shares.SharePatch{Path: req.Path, Password: req.Password, WebNoindex: req.WebNoindex, WebSyncMode: req.WebSyncMode}
	if req.Visibility != nil {
		v := authz.Visibility(*req.Visibility)
		patch.Visibility = &v
	}

	updated, err := h.shares.UpdateShare(r.Context(), share.ID, patch)
	if err != nil {
		writeShareError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionShareUpdated, actor.ID, "", share.ID, nil, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "share.updated", actor.ID, map[string]any{"share_id": share.ID}, nil)
	JSON(w, http.StatusOK, toShareResponse(updated))
}

// Delete removes a share; only the owner or an admin may delete.
func (h *ShareHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	share, ok := h.authorizeShareAccess(w, r, id, authz.ActionWrite, "")
	if !ok {
		return
	}
	actor, _ := principalFromRequest(r)

	if err := h.shares.DeleteShare(r.Context(), share.ID); err != nil {
		writeShareError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionShareDeleted, actor.ID, "", share.ID, nil, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "share.deleted", actor.ID, map[string]any{"share_id": share.ID}, nil)
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type memberResponse struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func toMemberResponse(m *shares.Member) memberResponse {
	return memberResponse{UserID: m.UserID, UserEmail: m.UserEmail, Role: string(m.Role), CreatedAt: m.CreatedAt.Format(httpTimeFormat)}
}

// ListMembers returns every member of a share the caller can write to.
func (h *ShareHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	share, ok := h.authorizeShareAccess(w, r, id, authz.ActionWrite, "")
	if !ok {
		return
	}
	members, err := h.shares.ListMembers(r.Context(), share.ID)
	if err != nil {
		InternalError(w, r)
		return
	}
	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberResponse(m))
	}
	JSON(w, http.StatusOK, out)
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// AddMember grants or updates a member's role.
func (h *ShareHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	share, ok := h.authorizeShareAccess(w, r, id, authz.ActionWrite, "")
	if !ok {
		return
	}
	actor, _ := principalFromRequest(r)

	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	member, err := h.shares.AddMember(r.Context(), share.ID, req.UserID, authz.Role(req.Role))
	if err != nil {
		writeShareError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionShareMemberAdded, actor.ID, req.UserID, share.ID, map[string]any{"role": req.Role}, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "share.member.added", actor.ID, map[string]any{"share_id": share.ID, "user_id": req.UserID}, nil, notify.EmailNotification{
		RecipientUserID: req.UserID,
		ToEmail:         member.UserEmail,
		Category:        notify.CategoryMember,
		Subject:         "You were added to a share",
		BodyText:        "You have been granted " + req.Role + " access to " + share.Path,
		EmailType:       "share_member_added",
	})
	JSON(w, http.StatusCreated, toMemberResponse(member))
}

// RemoveMember revokes a member's access.
func (h *ShareHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	share, ok := h.authorizeShareAccess(w, r, id, authz.ActionWrite, "")
	if !ok {
		return
	}
	actor, _ := principalFromRequest(r)
	targetUserID := r.PathValue("user_id")

	if err := h.shares.RemoveMember(r.Context(), share.ID, targetUserID); err != nil {
		writeShareError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionShareMemberRemoved, actor.ID, targetUserID, share.ID, nil, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "share.member.removed", actor.ID, map[string]any{"share_id": share.ID, "user_id": targetUserID}, nil)
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeShareError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shares.ErrShareNotFound), errors.Is(err, shares.ErrMemberNotFound):
		NotFound(w, r, err.Error())
	case errors.Is(err, shares.ErrInvalidPath), errors.Is(err, shares.ErrPasswordRequired), errors.Is(err, shares.ErrOwnerCannotBeMember):
		BadRequest(w, r, err.Error())
	case errors.Is(err, shares.ErrSlugTaken):
		Conflict(w, r, err.Error())
	default:
		InternalError(w, r)
	}
}
