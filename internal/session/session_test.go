package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/relay-onprem/control-plane/internal/accesstoken"
	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/database"
	"github.com/relay-onprem/control-plane/internal/identity"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	cfg := &config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWT:              config.JWTConfig{Secret: "test-secret-test-secret", AccessTTL: time.Hour, Issuer: "relay-control-plane"},
		Password:         config.PasswordConfig{MinLength: 8},
		RefreshTTL:       30 * 24 * time.Hour,
		PasswordResetTTL: time.Hour,
		AllowRegistration: true,
	}
}

func testService(t *testing.T) (*Service, *identity.Store, *Store) {
	t.Helper()
	db := testDB(t)
	identityStore := identity.NewStore(db)
	sessionStore := NewStore(db)
	cfg := testAuthConfig()
	issuer := accesstoken.NewIssuer(cfg.JWT)
	return NewService(identityStore, sessionStore, issuer, cfg), identityStore, sessionStore
}

func TestService_RegisterFirstUserIsAdmin(t *testing.T) {
	svc, identityStore, _ := testService(t)
	ctx := context.Background()

	result, err := svc.Register(ctx, "admin@example.com", "correct horse battery", "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !result.User.IsAdmin {
		t.Error("expected first registered user to be admin")
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Error("expected both tokens issued")
	}

	second, err := identityStore.CreateUser(ctx, "second@example.com", "", false)
	if err != nil {
		t.Fatalf("creating second user directly: %v", err)
	}
	if second.IsAdmin {
		t.Error("second user should not default to admin")
	}
}

func TestService_LoginAndRefreshRotatesToken(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "user@example.com", "correct horse battery", "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	login, err := svc.Login(ctx, "user@example.com", "correct horse battery", "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.SessionID != login.SessionID {
		t.Errorf("expected stable session id across rotation, got %q vs %q", refreshed.SessionID, login.SessionID)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("expected a new refresh token after rotation")
	}

	// Old refresh token is now single-use-consumed.
	if _, err := svc.Refresh(ctx, login.RefreshToken); err == nil {
		t.Error("expected the rotated-away refresh token to be rejected")
	}

	_ = reg
}

func TestStore_RotateRejectsStaleToken(t *testing.T) {
	db := testDB(t)
	store := NewStore(db)
	ctx := context.Background()

	issued, err := store.Issue(ctx, "user-1", "laptop", "ua", "127.0.0.1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	first, err := store.Rotate(ctx, issued.RefreshToken)
	if err != nil {
		t.Fatalf("first Rotate: %v", err)
	}
	if first.Session.ID != issued.Session.ID {
		t.Errorf("expected the session id to stay stable across rotation")
	}

	// The old token has already been consumed by the rotation above; a
	// second rotation attempt with it must fail rather than clobber the
	// winner's new hash.
	if _, err := store.Rotate(ctx, issued.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired rotating a stale token, got %v", err)
	}

	// The rotated token still works.
	if _, err := store.Rotate(ctx, first.RefreshToken); err != nil {
		t.Errorf("expected the freshly rotated token to still work, got %v", err)
	}
}

func TestService_LoginRequiresTOTPWhenEnabled(t *testing.T) {
	svc, identityStore, _ := testService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "totp@example.com", "correct horse battery", "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	enrollment, err := identity.BeginTOTPEnrollment(reg.User.Email)
	if err != nil {
		t.Fatalf("BeginTOTPEnrollment: %v", err)
	}
	code := mustCurrentCode(t, enrollment.Secret)
	if err := identityStore.ConfirmTOTP(ctx, reg.User.ID, enrollment.Secret, code, enrollment.BackupCodes); err != nil {
		t.Fatalf("ConfirmTOTP: %v", err)
	}

	if _, err := svc.Login(ctx, "totp@example.com", "correct horse battery", "ua", "127.0.0.1"); err != identity.ErrTOTPRequired {
		t.Errorf("expected ErrTOTPRequired, got %v", err)
	}

	code2 := mustCurrentCode(t, enrollment.Secret)
	result, err := svc.LoginWithTOTP(ctx, "totp@example.com", "correct horse battery", code2, "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("LoginWithTOTP: %v", err)
	}
	if result.AccessToken == "" {
		t.Error("expected access token issued after totp verification")
	}
}

func TestService_ListRevokeAndRevokeAllSessions(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "multi@example.com", "correct horse battery", "ua-1", "127.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := svc.Login(ctx, "multi@example.com", "correct horse battery", "ua-2", "127.0.0.2")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}

	sessions, err := svc.ListSessions(ctx, reg.User.ID, second.SessionID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	var sawCurrent bool
	for _, s := range sessions {
		if s.ID == second.SessionID && s.IsCurrent {
			sawCurrent = true
		}
	}
	if !sawCurrent {
		t.Error("expected the second session to be marked current")
	}

	if err := svc.RevokeSession(ctx, reg.SessionID, reg.User.ID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	sessions, err = svc.ListSessions(ctx, reg.User.ID, "")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session remaining after revoke, got %d", len(sessions))
	}

	count, err := svc.RevokeAllSessions(ctx, reg.User.ID)
	if err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 session revoked, got %d", count)
	}
}

func TestService_ChangePasswordRevokesAllSessions(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "changer@example.com", "correct horse battery", "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.ChangePassword(ctx, reg.User.ID, "correct horse battery", "a brand new password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := svc.Refresh(ctx, reg.RefreshToken); err == nil {
		t.Error("expected refresh token to be invalidated by password change")
	}

	if _, err := svc.Login(ctx, "changer@example.com", "a brand new password", "ua", "127.0.0.1"); err != nil {
		t.Errorf("expected login with new password to succeed, got %v", err)
	}
}

func TestService_PasswordResetFlowRevokesSessions(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "resetter@example.com", "correct horse battery", "ua", "127.0.0.1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	userID, token, err := svc.RequestPasswordReset(ctx, "resetter@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if userID != reg.User.ID || token == "" {
		t.Fatalf("expected a token for an existing user")
	}

	// Unknown email never errors and never returns a token (no enumeration).
	noUserID, noToken, err := svc.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil || noUserID != "" || noToken != "" {
		t.Errorf("expected silent success with no token for unknown email, got id=%q token=%q err=%v", noUserID, noToken, err)
	}

	if err := svc.CompletePasswordReset(ctx, token, "a totally new password"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}

	if _, err := svc.Refresh(ctx, reg.RefreshToken); err == nil {
		t.Error("expected refresh token to be invalidated by password reset")
	}
}

func mustCurrentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generating totp code: %v", err)
	}
	return code
}
