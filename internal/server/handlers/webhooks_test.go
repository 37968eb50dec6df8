package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookHandlers_CreateListUpdateRotateDelete(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner@example.com", false)
	h := NewWebhookHandlers(f.webhooks, f.webhookWorker, true)

	createReq := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(`{"name":"n","url":"https://example.com/hook","events":["share.created"]}`))
	createReq = withPrincipal(createReq, owner)
	w := httptest.NewRecorder()
	h.Create(w, createReq)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	secret, _ := created["secret"].(string)
	if secret == "" {
		t.Error("expected the creation response to include the signing secret")
	}
	id, _ := created["id"].(string)

	listReq := httptest.NewRequest(http.MethodGet, "/webhooks", nil)
	listReq = withPrincipal(listReq, owner)
	w = httptest.NewRecorder()
	h.List(w, listReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []webhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one webhook, got %d", len(list))
	}

	updateReq := httptest.NewRequest(http.MethodPatch, "/webhooks/"+id, strings.NewReader(`{"name":"renamed","url":"https://example.com/hook2","events":["share.created"],"active":false}`))
	updateReq.SetPathValue("id", id)
	updateReq = withPrincipal(updateReq, owner)
	w = httptest.NewRecorder()
	h.Update(w, updateReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 updating, got %d: %s", w.Code, w.Body.String())
	}
	var updated webhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decoding update response: %v", err)
	}
	if updated.Name != "renamed" || updated.Active {
		t.Errorf("unexpected updated webhook: %+v", updated)
	}

	rotateReq := httptest.NewRequest(http.MethodPost, "/webhooks/"+id+"/rotate-secret", nil)
	rotateReq.SetPathValue("id", id)
	rotateReq = withPrincipal(rotateReq, owner)
	w = httptest.NewRecorder()
	h.RotateSecret(w, rotateReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 rotating secret, got %d", w.Code)
	}
	var rotated map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decoding rotate response: %v", err)
	}
	if rotated["secret"] == "" || rotated["secret"] == secret {
		t.Error("expected a freshly rotated, different secret")
	}

	deleteReq := httptest.NewRequest(http.MethodDelete, "/webhooks/"+id, nil)
	deleteReq.SetPathValue("id", id)
	deleteReq = withPrincipal(deleteReq, owner)
	w = httptest.NewRecorder()
	h.Delete(w, deleteReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhookHandlers_Test(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "pingowner@example.com", false)

	var receivedEvent string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedEvent = r.Header.Get("X-Relay-Event")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.Close)

	h := NewWebhookHandlers(f.webhooks, f.webhookWorker, true)
	wh, err := f.webhooks.Create(t.Context(), owner.ID, "n", target.URL, []string{"share.created"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+wh.ID+"/test", nil)
	req.SetPathValue("id", wh.ID)
	req = withPrincipal(req, owner)
	w := httptest.NewRecorder()
	h.Test(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp testDeliveryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("expected a successful test delivery, got status %q", resp.Status)
	}
	if receivedEvent != "ping" {
		t.Errorf("expected the target to receive a ping event, got %q", receivedEvent)
	}
}

func TestWebhookHandlers_NonOwnerCannotModify(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "owner2@example.com", false)
	outsider := f.createUser(t, "outsider@example.com", false)
	h := NewWebhookHandlers(f.webhooks, f.webhookWorker, true)

	wh, err := f.webhooks.Create(t.Context(), owner.ID, "n", "https://example.com/hook", []string{"share.created"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/webhooks/"+wh.ID, nil)
	req.SetPathValue("id", wh.ID)
	req = withPrincipal(req, outsider)
	w := httptest.NewRecorder()
	h.Delete(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a non-owner, got %d", w.Code)
	}
}

func TestWebhookHandlers_AdminGlobalWebhooks(t *testing.T) {
	f := newFixture(t)
	admin := f.createUser(t, "admin@example.com", true)
	member := f.createUser(t, "member@example.com", false)
	h := NewWebhookHandlers(f.webhooks, f.webhookWorker, true)

	createReq := httptest.NewRequest(http.MethodPost, "/admin/webhooks", strings.NewReader(`{"name":"global","url":"https://example.com/hook","events":["user.created"]}`))
	createReq = withPrincipal(createReq, admin)
	w := httptest.NewRecorder()
	h.CreateAdmin(w, createReq)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	listReq := httptest.NewRequest(http.MethodGet, "/admin/webhooks", nil)
	listReq = withPrincipal(listReq, admin)
	w = httptest.NewRecorder()
	h.ListAdmin(w, listReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list []webhookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one admin webhook, got %d", len(list))
	}

	deleteReq := httptest.NewRequest(http.MethodDelete, "/webhooks/"+list[0].ID, nil)
	deleteReq.SetPathValue("id", list[0].ID)
	deleteReq = withPrincipal(deleteReq, member)
	w = httptest.NewRecorder()
	h.Delete(w, deleteReq)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected a non-admin to be forbidden from deleting a global webhook, got %d", w.Code)
	}
}
