package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relay-onprem/control-plane/internal/webhooks"
)

// WebhookHandlers implements subscription CRUD for outbound event
// delivery (C10): per-user webhooks plus admin/global ones.
type WebhookHandlers struct {
	webhooks  *webhooks.Store
	worker    *webhooks.Worker
	debugURLs bool
}

func NewWebhookHandlers(store *webhooks.Store, worker *webhooks.Worker, debugURLs bool) *WebhookHandlers {
	return &WebhookHandlers{webhooks: store, worker: worker, debugURLs: debugURLs}
}

// validateSubscription enforces the URL/SSRF and event-vocabulary rules
// Store.Create and Store.Update both assume are already satisfied.
func (h *WebhookHandlers) validateSubscription(w http.ResponseWriter, r *http.Request, url string, events []string, isAdminScope bool) bool {
	if err := webhooks.ValidateURL(r.Context(), url, h.debugURLs); err != nil {
		BadRequest(w, r, err.Error())
		return false
	}
	if err := webhooks.ValidateEvents(events, isAdminScope); err != nil {
		BadRequest(w, r, err.Error())
		return false
	}
	return true
}

type webhookResponse struct {
	ID           string   `json:"id"`
	UserID       string   `json:"user_id,omitempty"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Active       bool     `json:"active"`
	FailureCount int      `json:"failure_count"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

func toWebhookResponse(wh *webhooks.Webhook) webhookResponse {
	return webhookResponse{
		ID: wh.ID, UserID: wh.UserID, Name: wh.Name, URL: wh.URL, Events: wh.Events,
		Active: wh.Active, FailureCount: wh.FailureCount,
		CreatedAt: wh.CreatedAt.Format(httpTimeFormat), UpdatedAt: wh.UpdatedAt.Format(httpTimeFormat),
	}
}

type createWebhookRequest struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// Create registers a new per-user webhook subscription.
func (h *WebhookHandlers) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	var req createWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.validateSubscription(w, r, req.URL, req.Events, false) {
		return
	}

	wh, err := h.webhooks.Create(r.Context(), owner.ID, req.Name, req.URL, req.Events)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, toWebhookResponseWithSecret(wh))
}

// CreateAdmin registers a new admin/global webhook subscribed across
// every user's events.
func (h *WebhookHandlers) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.validateSubscription(w, r, req.URL, req.Events, true) {
		return
	}

	wh, err := h.webhooks.Create(r.Context(), "", req.Name, req.URL, req.Events)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, toWebhookResponseWithSecret(wh))
}

func toWebhookResponseWithSecret(wh *webhooks.Webhook) map[string]any {
	resp := map[string]any{
		"id": wh.ID, "user_id": wh.UserID, "name": wh.Name, "url": wh.URL, "events": wh.Events,
		"active": wh.Active, "failure_count": wh.FailureCount, "secret": wh.Secret,
		"created_at": wh.CreatedAt.Format(httpTimeFormat), "updated_at": wh.UpdatedAt.Format(httpTimeFormat),
	}
	return resp
}

// authorizeWebhookOwner loads the webhook and requires the caller either
// own it or be an admin.
func (h *WebhookHandlers) authorizeWebhookOwner(w http.ResponseWriter, r *http.Request, id string) (*webhooks.Webhook, bool) {
	wh, err := h.webhooks.Get(r.Context(), id)
	if err != nil {
		writeWebhookError(w, r, err)
		return nil, false
	}
	caller, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return nil, false
	}
	if wh.UserID != "" && wh.UserID != caller.ID && !caller.IsAdmin {
		Forbidden(w, r, "not authorized for this webhook")
		return nil, false
	}
	if wh.UserID == "" && !caller.IsAdmin {
		Forbidden(w, r, "not authorized for this webhook")
		return nil, false
	}
	return wh, true
}

// List returns the caller's own webhook subscriptions.
func (h *WebhookHandlers) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := principalFromRequest(r)
	if !ok {
		Unauthorized(w, r, "authentication required")
		return
	}
	list, err := h.webhooks.ListForUser(r.Context(), owner.ID)
	if err != nil {
		InternalError(w, r)
		return
	}
	out := make([]webhookResponse, 0, len(list))
	for _, wh := range list {
		out = append(out, toWebhookResponse(wh))
	}
	JSON(w, http.StatusOK, out)
}

// ListAdmin returns every admin/global webhook subscription.
func (h *WebhookHandlers) ListAdmin(w http.ResponseWriter, r *http.Request) {
	list, err := h.webhooks.ListAdmin(r.Context())
	if err != nil {
		InternalError(w, r)
		return
	}
	out := make([]webhookResponse, 0, len(list))
	for _, wh := range list {
		out = append(out, toWebhookResponse(wh))
	}
	JSON(w, http.StatusOK, out)
}

type updateWebhookRequest struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

// Update replaces a webhook's name, URL, subscribed events, and active flag.
func (h *WebhookHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wh, ok := h.authorizeWebhookOwner(w, r, id)
	if !ok {
		return
	}
	var req updateWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.validateSubscription(w, r, req.URL, req.Events, wh.UserID == "") {
		return
	}

	updated, err := h.webhooks.Update(r.Context(), wh.ID, req.Name, req.URL, req.Events, req.Active)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toWebhookResponse(updated))
}

// RotateSecret issues a new HMAC signing secret, invalidating the old one.
func (h *WebhookHandlers) RotateSecret(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wh, ok := h.authorizeWebhookOwner(w, r, id)
	if !ok {
		return
	}
	secret, err := h.webhooks.RotateSecret(r.Context(), wh.ID)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"secret": secret})
}

type testDeliveryResponse struct {
	ID                 string `json:"id"`
	EventType          string `json:"event_type"`
	Status             string `json:"status"`
	ResponseStatusCode *int   `json:"response_status_code,omitempty"`
	ResponseBody       string `json:"response_body,omitempty"`
	CreatedAt          string `json:"created_at"`
}

// Test fires a single synchronous "ping" delivery at the webhook and
// reports the outcome immediately, without touching the retry schedule.
func (h *WebhookHandlers) Test(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wh, ok := h.authorizeWebhookOwner(w, r, id)
	if !ok {
		return
	}

	eventID := uuid.New().String()
	payload, err := webhooks.BuildPayload(eventID, webhooks.EventPing, time.Now(), map[string]any{"webhook_id": wh.ID}, nil)
	if err != nil {
		InternalError(w, r)
		return
	}

	delivery, err := h.worker.DeliverNow(r.Context(), wh, webhooks.EventPing, payload)
	if err != nil {
		InternalError(w, r)
		return
	}

	JSON(w, http.StatusOK, testDeliveryResponse{
		ID: delivery.ID, EventType: delivery.EventType, Status: string(delivery.Status),
		ResponseStatusCode: delivery.ResponseStatusCode, ResponseBody: delivery.ResponseBody,
		CreatedAt: delivery.CreatedAt.Format(httpTimeFormat),
	})
}

// Delete removes a webhook subscription.
func (h *WebhookHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wh, ok := h.authorizeWebhookOwner(w, r, id)
	if !ok {
		return
	}
	if err := h.webhooks.Delete(r.Context(), wh.ID); err != nil {
		writeWebhookError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, webhooks.ErrWebhookNotFound):
		NotFound(w, r, err.Error())
	default:
		InternalError(w, r)
	}
}
