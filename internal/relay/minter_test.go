package relay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/database"
	"github.com/relay-onprem/control-plane/internal/identity"
	"github.com/relay-onprem/control-plane/internal/shares"
)

func testMinter(t *testing.T) (*Minter, *shares.Store, *identity.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(&config.DatabaseConfig{
		Path:         dbPath,
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	priv, err := cryptoutil.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}

	sharesStore := shares.NewStore(db)
	minter := NewMinter(sharesStore, priv, "wss://relay.example.com/ws", 30*time.Minute)
	return minter, sharesStore, identity.NewStore(db)
}

func TestMinter_PublicKeyInfo(t *testing.T) {
	minter, _, _ := testMinter(t)
	info := minter.PublicKeyInfo()
	if info.Algorithm != "EdDSA" {
		t.Errorf("expected algorithm EdDSA, got %q", info.Algorithm)
	}
	if info.KeyID == "" || len(info.PublicKey) == 0 {
		t.Error("expected a non-empty key id and public key")
	}
}

func TestMinter_IssueRelayToken_AnonymousPublicRead(t *testing.T) {
	minter, sharesStore, identityStore := testMinter(t)
	owner, _ := identityStore.CreateUser(t.Context(), "owner@example.com", "hash", false)
	share, err := sharesStore.CreateShare(t.Context(), owner.ID, shares.KindDoc, "doc.md", authz.VisibilityPublic, "")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	result, err := minter.IssueRelayToken(t.Context(), IssueRequest{
		ShareID: share.ID,
		DocID:   "doc-123",
		Mode:    ModeRead,
	}, nil, nil)
	if err != nil {
		t.Fatalf("IssueRelayToken: %v", err)
	}
	if result.Token == "" || result.DocID != "doc-123" || result.RelayURL == "" {
		t.Errorf("unexpected issue result: %+v", result)
	}

	claims, err := cryptoutil.VerifyCWT(minter.publicKey, result.Token)
	if err != nil {
		t.Fatalf("VerifyCWT: %v", err)
	}
	if claims.Scope != "doc:doc-123:r" {
		t.Errorf("expected read scope, got %q", claims.Scope)
	}
	if claims.Issuer != issuer {
		t.Errorf("expected issuer %q, got %q", issuer, claims.Issuer)
	}
}

func TestMinter_IssueRelayToken_WriteRequiresPrincipal(t *testing.T) {
	minter, sharesStore, identityStore := testMinter(t)
	owner, _ := identityStore.CreateUser(t.Context(), "owner2@example.com", "hash", false)
	share, err := sharesStore.CreateShare(t.Context(), owner.ID, shares.KindDoc, "doc2.md", authz.VisibilityPublic, "")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	_, err = minter.IssueRelayToken(t.Context(), IssueRequest{
		ShareID: share.ID,
		DocID:   "doc-456",
		Mode:    ModeWrite,
	}, nil, nil)
	if err != ErrForbidden {
		t.Errorf("expected ErrForbidden for anonymous write, got %v", err)
	}

	result, err := minter.IssueRelayToken(t.Context(), IssueRequest{
		ShareID: share.ID,
		DocID:   "doc-456",
		Mode:    ModeWrite,
	}, &authz.Principal{ID: owner.ID}, nil)
	if err != nil {
		t.Fatalf("IssueRelayToken as owner: %v", err)
	}
	claims, err := cryptoutil.VerifyCWT(minter.publicKey, result.Token)
	if err != nil {
		t.Fatalf("VerifyCWT: %v", err)
	}
	if claims.Scope != "doc:doc-456:rw" {
		t.Errorf("expected write scope, got %q", claims.Scope)
	}
}

func TestMinter_IssueRelayToken_PrivateShareForbiddenToStranger(t *testing.T) {
	minter, sharesStore, identityStore := testMinter(t)
	owner, _ := identityStore.CreateUser(t.Context(), "owner3@example.com", "hash", false)
	stranger, _ := identityStore.CreateUser(t.Context(), "stranger3@example.com", "hash", false)
	share, err := sharesStore.CreateShare(t.Context(), owner.ID, shares.KindDoc, "doc3.md", authz.VisibilityPrivate, "")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	_, err = minter.IssueRelayToken(t.Context(), IssueRequest{
		ShareID: share.ID,
		DocID:   "doc-789",
		Mode:    ModeRead,
	}, &authz.Principal{ID: stranger.ID}, nil)
	if err != ErrForbidden {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestMinter_IssueRelayToken_FolderResolverNarrowsToNestedDoc(t *testing.T) {
	minter, sharesStore, identityStore := testMinter(t)
	owner, _ := identityStore.CreateUser(t.Context(), "owner4@example.com", "hash", false)

	folder, err := sharesStore.CreateShare(t.Context(), owner.ID, shares.KindFolder, "projects", authz.VisibilityPrivate, "")
	if err != nil {
		t.Fatalf("CreateShare folder: %v", err)
	}
	if _, err := sharesStore.CreateShare(t.Context(), owner.ID, shares.KindDoc, "projects/alpha.md", authz.VisibilityPublic, ""); err != nil {
		t.Fatalf("CreateShare nested doc: %v", err)
	}

	result, err := minter.IssueRelayToken(t.Context(), IssueRequest{
		ShareID:  folder.ID,
		DocID:    "doc-alpha",
		Mode:     ModeRead,
		FilePath: "projects/alpha.md",
	}, nil, nil)
	if err != nil {
		t.Fatalf("expected the nested public doc share to authorize an anonymous reader, got %v", err)
	}
	if result.Token == "" {
		t.Error("expected a minted token")
	}
}
