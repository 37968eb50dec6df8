package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestTOTPHandlers_EnableVerifyDisable(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "member@example.com", false)
	h := NewTOTPHandlers(f.identity, f.audit)

	statusReq := httptest.NewRequest(http.MethodGet, "/auth/2fa/status", nil)
	statusReq = withPrincipal(statusReq, user)
	w := httptest.NewRecorder()
	h.Status(w, statusReq)
	var status map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if status["totp_enabled"] {
		t.Fatal("expected totp to start disabled")
	}

	enableReq := httptest.NewRequest(http.MethodPost, "/auth/2fa/enable", nil)
	enableReq = withPrincipal(enableReq, user)
	w = httptest.NewRecorder()
	h.Enable(w, enableReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 enabling, got %d: %s", w.Code, w.Body.String())
	}
	var enrollment map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &enrollment); err != nil {
		t.Fatalf("decoding enrollment: %v", err)
	}
	secret, _ := enrollment["secret"].(string)
	if secret == "" {
		t.Fatal("expected a totp secret to be issued")
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	verifyReq := httptest.NewRequest(http.MethodPost, "/auth/2fa/verify", strings.NewReader(`{"secret":"`+secret+`","code":"`+code+`"}`))
	verifyReq = withPrincipal(verifyReq, user)
	w = httptest.NewRecorder()
	h.Verify(w, verifyReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 verifying, got %d: %s", w.Code, w.Body.String())
	}

	enableAgainReq := httptest.NewRequest(http.MethodPost, "/auth/2fa/enable", nil)
	enableAgainReq = withPrincipal(enableAgainReq, user)
	w = httptest.NewRecorder()
	h.Enable(w, enableAgainReq)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 re-enabling an already-enrolled account, got %d", w.Code)
	}

	disableCode, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	disableReq := httptest.NewRequest(http.MethodPost, "/auth/2fa/disable", strings.NewReader(`{"code":"`+disableCode+`"}`))
	disableReq = withPrincipal(disableReq, user)
	w = httptest.NewRecorder()
	h.Disable(w, disableReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 disabling, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTOTPHandlers_DisableWithoutEnrollmentFails(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "member2@example.com", false)
	h := NewTOTPHandlers(f.identity, f.audit)

	req := httptest.NewRequest(http.MethodPost, "/auth/2fa/disable", strings.NewReader(`{"code":"000000"}`))
	req = withPrincipal(req, user)
	w := httptest.NewRecorder()
	h.Disable(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 disabling totp that was never enabled, got %d", w.Code)
	}
}
