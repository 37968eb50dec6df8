package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRegistry_Allow(t *testing.T) {
	reg := NewRegistry(map[string]Rule{
		"login": {Max: 3, Window: 1 * time.Second},
	})
	defer reg.Stop()

	for i := 0; i < 3; i++ {
		if !reg.Allow("login", "1.2.3.4") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	if reg.Allow("login", "1.2.3.4") {
		t.Error("4th request should be blocked")
	}

	time.Sleep(1100 * time.Millisecond)

	if !reg.Allow("login", "1.2.3.4") {
		t.Error("request after window should be allowed")
	}
}

func TestRegistry_PerRouteIsolation(t *testing.T) {
	reg := NewRegistry(map[string]Rule{
		"login":          {Max: 2, Window: time.Minute},
		"password_reset": {Max: 1, Window: time.Minute},
	})
	defer reg.Stop()

	if !reg.Allow("login", "1.2.3.4") || !reg.Allow("login", "1.2.3.4") {
		t.Error("login should allow 2 requests")
	}
	if reg.Allow("login", "1.2.3.4") {
		t.Error("login 3rd request should be blocked")
	}

	if !reg.Allow("password_reset", "1.2.3.4") {
		t.Error("password_reset should still allow its own first request")
	}
	if reg.Allow("password_reset", "1.2.3.4") {
		t.Error("password_reset 2nd request should be blocked")
	}
}

func TestRegistry_PerKeyIsolation(t *testing.T) {
	reg := NewRegistry(map[string]Rule{
		"login": {Max: 1, Window: time.Minute},
	})
	defer reg.Stop()

	if !reg.Allow("login", "1.1.1.1") {
		t.Error("first IP should be allowed")
	}
	if !reg.Allow("login", "2.2.2.2") {
		t.Error("second IP should be allowed independently")
	}
	if reg.Allow("login", "1.1.1.1") {
		t.Error("first IP should now be blocked")
	}
}

func TestRegistry_UnknownRouteClassAlwaysAllowed(t *testing.T) {
	reg := NewRegistry(map[string]Rule{})
	defer reg.Stop()

	if !reg.Allow("unconfigured", "1.2.3.4") {
		t.Error("unconfigured route class should always be allowed")
	}
}

func TestDefaultRulesMatchLimitsTable(t *testing.T) {
	rules := DefaultRules()

	cases := []struct {
		class string
		max   int
		window time.Duration
	}{
		{RouteLogin, 10, time.Minute},
		{RoutePasswordReset, 3, time.Hour},
		{RouteRefresh, 30, time.Minute},
		{RouteInviteCreate, 10, time.Minute},
		{RouteInviteRedeem, 10, time.Minute},
		{RouteShareCreate, 20, time.Minute},
		{RouteMemberAdd, 30, time.Minute},
		{RouteWebPassword, 5, time.Minute},
		{RouteContentSync, 30, time.Minute},
		{RouteWebAssetUpload, 20, time.Minute},
		{RouteWebhookCreate, 10, time.Hour},
	}

	for _, c := range cases {
		rule, ok := rules[c.class]
		if !ok {
			t.Fatalf("missing rule for route class %q", c.class)
		}
		if rule.Max != c.max || rule.Window != c.window {
			t.Errorf("%s: expected {%d, %s}, got {%d, %s}", c.class, c.max, c.window, rule.Max, rule.Window)
		}
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *http.Request)
		expected string
	}{
		{
			name: "real ip header",
			setup: func(r *http.Request) {
				r.Header.Set("X-Real-IP", "9.9.9.9")
			},
			expected: "9.9.9.9",
		},
		{
			name: "forwarded for header",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "8.8.8.8, 1.1.1.1")
			},
			expected: "8.8.8.8, 1.1.1.1",
		},
		{
			name:     "falls back to remote addr",
			setup:    func(r *http.Request) {},
			expected: "192.0.2.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = "192.0.2.1:1234"
			tt.setup(r)
			if got := ClientKey(r); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMiddleware_BlocksOverLimit(t *testing.T) {
	reg := NewRegistry(map[string]Rule{
		"login": {Max: 1, Window: time.Minute},
	})
	defer reg.Stop()

	var tooManyCalled bool
	mw := reg.Middleware("login", func(w http.ResponseWriter, r *http.Request) {
		tooManyCalled = true
		w.WriteHeader(http.StatusTooManyRequests)
	})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	r.RemoteAddr = "203.0.113.5:1111"

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, r)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, r)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 on second request, got %d", w2.Code)
	}
	if !tooManyCalled {
		t.Error("expected the too-many-requests callback to fire")
	}
}
