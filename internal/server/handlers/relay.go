package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/relay-onprem/control-plane/internal/audit"
	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/ratelimit"
	"github.com/relay-onprem/control-plane/internal/relay"
)

// RelayHandlers implements relay-capability issuance and public-key
// discovery (C9).
type RelayHandlers struct {
	minter *relay.Minter
	audit  *audit.Store
}

func NewRelayHandlers(minter *relay.Minter, auditStore *audit.Store) *RelayHandlers {
	return &RelayHandlers{minter: minter, audit: auditStore}
}

type publicKeyResponse struct {
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"` // base64-encoded raw Ed25519 key
	Algorithm string `json:"algorithm"`
}

// PublicKey exposes the verifier information the document relay needs to
// check the tokens this control plane issues.
func (h *RelayHandlers) PublicKey(w http.ResponseWriter, r *http.Request) {
	info := h.minter.PublicKeyInfo()
	JSON(w, http.StatusOK, publicKeyResponse{
		KeyID:     info.KeyID,
		PublicKey: base64.StdEncoding.EncodeToString(info.PublicKey),
		Algorithm: info.Algorithm,
	})
}

type issueRelayTokenRequest struct {
	ShareID  string `json:"share_id"`
	DocID    string `json:"doc_id"`
	Mode     string `json:"mode"`
	FilePath string `json:"file_path,omitempty"`
	Password string `json:"password,omitempty"`
}

type relayTokenResponse struct {
	RelayURL  string `json:"relay_url"`
	Token     string `json:"token"`
	DocID     string `json:"doc_id"`
	ExpiresAt string `json:"expires_at"`
}

// IssueToken evaluates the caller's share authorization and, if allowed,
// mints a signed relay capability scoped to the requested document and mode.
func (h *RelayHandlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueRelayTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var p *authz.Principal
	if u, ok := principalFromRequest(r); ok {
		p = &authz.Principal{ID: u.ID, IsAdmin: u.IsAdmin}
	}

	result, err := h.minter.IssueRelayToken(r.Context(), relay.IssueRequest{
		ShareID: req.ShareID, DocID: req.DocID, Mode: relay.Mode(req.Mode), FilePath: req.FilePath, Password: req.Password,
	}, p, verifyPassword)
	if err != nil {
		writeRelayError(w, r, err)
		return
	}

	actorID := ""
	if p != nil {
		actorID = p.ID
	}
	logAudit(r.Context(), h.audit, audit.ActionTokenIssued, actorID, "", req.ShareID,
		map[string]any{"doc_id": result.DocID, "mode": req.Mode}, ratelimit.ClientKey(r), r.UserAgent())

	JSON(w, http.StatusOK, relayTokenResponse{
		RelayURL: result.RelayURL, Token: result.Token, DocID: result.DocID,
		ExpiresAt: result.ExpiresAt.Format(httpTimeFormat),
	})
}

func writeRelayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, relay.ErrForbidden):
		Forbidden(w, r, err.Error())
	default:
		writeShareError(w, r, err)
	}
}
