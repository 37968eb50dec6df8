package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/invites"
	"github.com/relay-onprem/control-plane/internal/notify"
	"github.com/relay-onprem/control-plane/internal/ratelimit"
	"github.com/relay-onprem/control-plane/internal/shares"
)

// InviteHandlers implements share-invite issuance, listing, revocation, and
// public redemption (C7).
type InviteHandlers struct {
	invites  *invites.Store
	redeemer *invites.Redeemer
	shares   *shares.Store
	audit    *audit.Store
	notify   *notify.Dispatcher
}

func NewInviteHandlers(inviteStore *invites.Store, redeemer *invites.Redeemer, shareStore *shares.Store, auditStore *audit.Store, dispatcher *notify.Dispatcher) *InviteHandlers {
	return &InviteHandlers{invites: inviteStore, redeemer: redeemer, shares: shareStore, audit: auditStore, notify: dispatcher}
}

type inviteResponse struct {
	ID        string  `json:"id"`
	ShareID   string  `json:"share_id"`
	Token     string  `json:"token,omitempty"`
	Role      string  `json:"role"`
	ExpiresAt *string `json:"expires_at,omitempty"`
	MaxUses   *int    `json:"max_uses,omitempty"`
	UseCount  int     `json:"use_count"`
	Revoked   bool    `json:"revoked"`
	Email     string  `json:"email,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func toInviteResponse(inv *invites.Invite, includeToken bool) inviteResponse {
	resp := inviteResponse{
		ID: inv.ID, ShareID: inv.ShareID, Role: string(inv.Role), MaxUses: inv.MaxUses,
		UseCount: inv.UseCount, Revoked: inv.RevokedAt != nil, Email: inv.Email,
		CreatedAt: inv.CreatedAt.Format(httpTimeFormat),
	}
	if includeToken {
		resp.Token = inv.Token
	}
	if inv.ExpiresAt != nil {
		s := inv.ExpiresAt.Format(httpTimeFormat)
		resp.ExpiresAt = &s
	}
	return resp
}

// authorizeShareWrite loads a share and requires the caller have write
// access to it, matching the authorization an invite mutation needs.
func (h *InviteHandlers) authorizeShareWrite(w http.ResponseWriter, r *http.Request, shareID string) (*shares.Share, bool) {
	share, err := h.shares.GetByID(r.Context(), shareID)
	if err != nil {
		if errors.Is(err, shares.ErrShareNotFound) {
			NotFound(w, r, "share not found")
			return nil, false
		}
		InternalError(w, r)
		return nil, false
	}

	owner, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return nil, false
	}
	p := &authz.Principal{ID: owner.ID, IsAdmin: owner.IsAdmin}
	var member *authz.Membership
	if m, err := h.shares.GetMember(r.Context(), shareID, owner.ID); err == nil {
		member = &authz.Membership{Role: m.Role}
	}
	allowed := authz.Authorize(p, authz.Share{
		OwnerUserID: share.OwnerUserID, Visibility: share.Visibility, PasswordHash: share.PasswordHash,
	}, authz.ActionWrite, member, "", verifyPassword)
	if !allowed {
		Forbidden(w, r, "not authorized for this share")
		return nil, false
	}
	return share, true
}

type createInviteRequest struct {
	Role          string `json:"role"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty"`
	MaxUses       *int   `json:"max_uses,omitempty"`
	Email         string `json:"email,omitempty"`
}

// Create mints a new invite link for a share the caller can write to.
func (h *InviteHandlers) Create(w http.ResponseWriter, r *http.Request) {
	shareID := r.PathValue("id")
	share, ok := h.authorizeShareWrite(w, r, shareID)
	if !ok {
		return
	}
	actor, _ := principalFromRequest(r)

	var req createInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	inv, err := h.invites.CreateInvite(r.Context(), share.ID, actor.ID, authz.Role(req.Role), invites.CreateOptions{
		ExpiresInDays: req.ExpiresInDays, MaxUses: req.MaxUses, Email: req.Email,
	})
	if err != nil {
		writeInviteError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionInviteCreated, actor.ID, "", share.ID, map[string]any{"invite_id": inv.ID, "role": req.Role}, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "invite.created", actor.ID, map[string]any{"share_id": share.ID, "invite_id": inv.ID}, nil)
	JSON(w, http.StatusCreated, toInviteResponse(inv, true))
}

// List returns every invite issued for a share the caller can write to.
func (h *InviteHandlers) List(w http.ResponseWriter, r *http.Request) {
	shareID := r.PathValue("id")
	share, ok := h.authorizeShareWrite(w, r, shareID)
	if !ok {
		return
	}

	list, err := h.invites.ListForShare(r.Context(), share.ID)
	if err != nil {
		InternalError(w, r)
		return
	}
	out := make([]inviteResponse, 0, len(list))
	for _, inv := range list {
		out = append(out, toInviteResponse(inv, false))
	}
	JSON(w, http.StatusOK, out)
}

// Revoke disables an invite link; it stays on record for audit history.
func (h *InviteHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	shareID := r.PathValue("id")
	share, ok := h.authorizeShareWrite(w, r, shareID)
	if !ok {
		return
	}
	actor, _ := principalFromRequest(r)
	inviteID := r.PathValue("invite_id")

	if err := h.invites.RevokeInvite(r.Context(), inviteID); err != nil {
		writeInviteError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionInviteRevoked, actor.ID, "", share.ID, map[string]any{"invite_id": inviteID}, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "invite.revoked", actor.ID, map[string]any{"share_id": share.ID, "invite_id": inviteID}, nil)
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

// PublicInfo reports what an unauthenticated caller may learn about an
// invite before deciding whether to redeem it.
func (h *InviteHandlers) PublicInfo(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	inv, err := h.invites.GetByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, invites.ErrInviteNotFound) {
			NotFound(w, r, "invite not found")
			return
		}
		InternalError(w, r)
		return
	}
	share, err := h.shares.GetByID(r.Context(), inv.ShareID)
	if err != nil {
		InternalError(w, r)
		return
	}

	info := invites.PublicInfo{SharePath: share.Path, ShareKind: string(share.Kind), Role: inv.Role, ExpiresAt: inv.ExpiresAt}
	if verr := invites.ValidateInvite(inv, time.Now().UTC()); verr != nil {
		info.IsValid = false
		info.Error = verr.Error()
	} else {
		info.IsValid = true
	}
	JSON(w, http.StatusOK, info)
}

type redeemInviteRequest struct {
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// Redeem grants the invite's role to the caller, creating an account
// first when the request arrives unauthenticated.
func (h *InviteHandlers) Redeem(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	var req redeemInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	caller, _ := principalFromRequest(r)
	var newAccount *invites.NewAccount
	if caller == nil && (req.Email != "" || req.Password != "") {
		newAccount = &invites.NewAccount{Email: req.Email, Password: req.Password}
	}

	result, err := h.redeemer.Redeem(r.Context(), token, caller, newAccount)
	if err != nil {
		writeInviteError(w, r, err)
		return
	}

	logAudit(r.Context(), h.audit, audit.ActionInviteRedeemed, result.UserID, "", result.ShareID, nil, ratelimit.ClientKey(r), r.UserAgent())
	logDispatch(r.Context(), h.notify, "invite.redeemed", result.UserID, map[string]any{"share_id": result.ShareID}, nil)

	resp := map[string]any{
		"user_id": result.UserID, "share_id": result.ShareID, "share_path": result.SharePath, "role": string(result.Role),
	}
	if result.Session != nil {
		resp["session"] = toSessionResponse(result.Session)
	}
	JSON(w, http.StatusOK, resp)
}

func writeInviteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, invites.ErrInviteNotFound):
		NotFound(w, r, err.Error())
	case errors.Is(err, invites.ErrInviteRevoked), errors.Is(err, invites.ErrInviteExpired), errors.Is(err, invites.ErrInviteUsesExhausted):
		Gone(w, r, err.Error())
	case errors.Is(err, invites.ErrAlreadyOwner), errors.Is(err, invites.ErrRegistrationRequired):
		BadRequest(w, r, err.Error())
	default:
		InternalError(w, r)
	}
}
