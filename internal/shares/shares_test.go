package shares

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/database"
	"github.com/relay-onprem/control-plane/internal/identity"
)

func testStore(t *testing.T) (*Store, *identity.Store) {
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

	return NewStore(db), identity.NewStore(db)
}

func TestValidatePath(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		kind    Kind
		wantErr bool
	}{
		{"valid doc", "notes/todo.md", KindDoc, false},
		{"valid canvas", "board.canvas", KindDoc, false},
		{"valid folder", "projects/alpha", KindFolder, false},
		{"empty", "", KindDoc, true},
		{"whitespace only", "   ", KindDoc, true},
		{"traversal", "../etc/passwd.md", KindDoc, true},
		{"null byte", "notes/todo\x00.md", KindDoc, true},
		{"absolute unix", "/etc/passwd.md", KindDoc, true},
		{"absolute windows-style", "\\notes\\todo.md", KindDoc, true},
		{"drive letter", "C:/notes/todo.md", KindDoc, true},
		{"doc wrong extension", "notes/todo.txt", KindDoc, true},
		{"folder no extension requirement", "notes/todo.txt", KindFolder, false},
		{"too long", string(make([]byte, maxPathLength+1)), KindDoc, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, tc.kind)
			if tc.wantErr && err == nil {
				t.Errorf("expected error for path %q, got nil", tc.path)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected no error for path %q, got %v", tc.path, err)
			}
		})
	}
}

func TestIsWithinFolder(t *testing.T) {
	cases := []struct {
		folder, file string
		want         bool
	}{
		{"projects", "projects/alpha.md", true},
		{"projects/", "projects/alpha.md", true},
		{"projects", "projects/nested/alpha.md", true},
		{"projects", "other/alpha.md", false},
		{"projects", "projects-archive/alpha.md", false},
		{"projects", "projects", false},
	}

	for _, tc := range cases {
		if got := isWithinFolder(tc.folder, tc.file); got != tc.want {
			t.Errorf("isWithinFolder(%q, %q) = %v, want %v", tc.folder, tc.file, got, tc.want)
		}
	}
}

func TestStore_CreateShare_PublicDoc(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner@example.com")

	share, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "notes/todo.md", authz.VisibilityPublic, "")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}
	if share.PasswordHash != "" {
		t.Error("expected no password hash on a public share")
	}

	fetched, err := store.GetByID(t.Context(), share.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Path != "notes/todo.md" {
		t.Errorf("expected path to round-trip, got %q", fetched.Path)
	}
}

func TestStore_CreateShare_ProtectedRequiresPassword(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner2@example.com")

	_, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "secret.md", authz.VisibilityProtected, "")
	if err != ErrPasswordRequired {
		t.Errorf("expected ErrPasswordRequired, got %v", err)
	}

	share, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "secret.md", authz.VisibilityProtected, "hunter2")
	if err != nil {
		t.Fatalf("CreateShare with password: %v", err)
	}
	if share.PasswordHash == "" {
		t.Error("expected a password hash on a protected share")
	}
}

func TestStore_CreateShare_InvalidPath(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner3@example.com")

	if _, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "../escape.md", authz.VisibilityPrivate, ""); err != ErrInvalidPath {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
}

func TestStore_UpdateShare_LeavingProtectedClearsPassword(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner4@example.com")

	share, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "secret.md", authz.VisibilityProtected, "hunter2")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	newVisibility := authz.VisibilityPrivate
	updated, err := store.UpdateShare(t.Context(), share.ID, SharePatch{Visibility: &newVisibility})
	if err != nil {
		t.Fatalf("UpdateShare: %v", err)
	}
	if updated.PasswordHash != "" {
		t.Error("expected password hash to be cleared when leaving protected")
	}
}

func TestStore_UpdateShare_EnteringProtectedWithoutPasswordFails(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner5@example.com")

	share, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "notes.md", authz.VisibilityPrivate, "")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	newVisibility := authz.VisibilityProtected
	_, err = store.UpdateShare(t.Context(), share.ID, SharePatch{Visibility: &newVisibility})
	if err != ErrPasswordRequired {
		t.Errorf("expected ErrPasswordRequired, got %v", err)
	}

	password := "new-password"
	updated, err := store.UpdateShare(t.Context(), share.ID, SharePatch{Visibility: &newVisibility, Password: &password})
	if err != nil {
		t.Fatalf("UpdateShare with password: %v", err)
	}
	if updated.PasswordHash == "" {
		t.Error("expected a password hash after entering protected with a password")
	}
}

func TestStore_AddMember_OwnerRejected(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner6@example.com")

	share, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "doc.md", authz.VisibilityPrivate, "")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	if _, err := store.AddMember(t.Context(), share.ID, owner.ID, authz.RoleEditor); err != ErrOwnerCannotBeMember {
		t.Errorf("expected ErrOwnerCannotBeMember, got %v", err)
	}
}

func TestStore_AddMember_IdempotentUpsert(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner7@example.com")
	other := mustCreateUser(t, identityStore, "member@example.com")

	share, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "doc.md", authz.VisibilityPrivate, "")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	if _, err := store.AddMember(t.Context(), share.ID, other.ID, authz.RoleViewer); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	updated, err := store.AddMember(t.Context(), share.ID, other.ID, authz.RoleEditor)
	if err != nil {
		t.Fatalf("AddMember (re-add with new role): %v", err)
	}
	if updated.Role != authz.RoleEditor {
		t.Errorf("expected role to be updated to editor, got %q", updated.Role)
	}

	members, err := store.ListMembers(t.Context(), share.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("expected exactly one member after idempotent upsert, got %d", len(members))
	}
}

func TestStore_ListForUser(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner8@example.com")
	member := mustCreateUser(t, identityStore, "member8@example.com")
	stranger := mustCreateUser(t, identityStore, "stranger8@example.com")

	owned, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "owned.md", authz.VisibilityPrivate, "")
	if err != nil {
		t.Fatalf("CreateShare owned: %v", err)
	}
	sharedWithMember, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "shared.md", authz.VisibilityPrivate, "")
	if err != nil {
		t.Fatalf("CreateShare shared: %v", err)
	}
	if _, err := store.AddMember(t.Context(), sharedWithMember.ID, member.ID, authz.RoleViewer); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	ownerShares, err := store.ListForUser(t.Context(), owner.ID, ListOptions{})
	if err != nil {
		t.Fatalf("ListForUser(owner): %v", err)
	}
	if len(ownerShares) != 2 {
		t.Errorf("expected owner to see 2 shares, got %d", len(ownerShares))
	}

	memberShares, err := store.ListForUser(t.Context(), member.ID, ListOptions{})
	if err != nil {
		t.Fatalf("ListForUser(member): %v", err)
	}
	if len(memberShares) != 1 || memberShares[0].ID != sharedWithMember.ID {
		t.Errorf("expected member to see exactly the shared doc, got %+v", memberShares)
	}

	memberOnlyAsOwner, err := store.ListForUser(t.Context(), owner.ID, ListOptions{OwnedOnly: true})
	if err != nil {
		t.Fatalf("ListForUser(owner, OwnedOnly): %v", err)
	}
	if len(memberOnlyAsOwner) != 2 {
		t.Errorf("expected OwnedOnly to match the general case for an owner with no memberships, got %d", len(memberOnlyAsOwner))
	}

	strangerShares, err := store.ListForUser(t.Context(), stranger.ID, ListOptions{})
	if err != nil {
		t.Fatalf("ListForUser(stranger): %v", err)
	}
	if len(strangerShares) != 0 {
		t.Errorf("expected stranger to see no shares, got %d", len(strangerShares))
	}
}

func TestStore_FindShareForPath_ExactDocBeatsFolder(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner9@example.com")

	if _, err := store.CreateShare(t.Context(), owner.ID, KindFolder, "projects", authz.VisibilityPublic, ""); err != nil {
		t.Fatalf("CreateShare folder: %v", err)
	}
	doc, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "projects/alpha.md", authz.VisibilityPublic, "")
	if err != nil {
		t.Fatalf("CreateShare doc: %v", err)
	}

	found, err := store.FindShareForPath(t.Context(), nil, "projects/alpha.md", nil)
	if err != nil {
		t.Fatalf("FindShareForPath: %v", err)
	}
	if found == nil || found.ID != doc.ID {
		t.Errorf("expected the exact doc share to win, got %+v", found)
	}
}

func TestStore_FindShareForPath_LongestFolderPrefixWins(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner10@example.com")

	if _, err := store.CreateShare(t.Context(), owner.ID, KindFolder, "projects", authz.VisibilityPublic, ""); err != nil {
		t.Fatalf("CreateShare outer folder: %v", err)
	}
	inner, err := store.CreateShare(t.Context(), owner.ID, KindFolder, "projects/alpha", authz.VisibilityPublic, "")
	if err != nil {
		t.Fatalf("CreateShare inner folder: %v", err)
	}

	found, err := store.FindShareForPath(t.Context(), nil, "projects/alpha/notes.md", nil)
	if err != nil {
		t.Fatalf("FindShareForPath: %v", err)
	}
	if found == nil || found.ID != inner.ID {
		t.Errorf("expected the longest matching folder prefix to win, got %+v", found)
	}
}

func TestStore_FindShareForPath_NoAccessReturnsNil(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner11@example.com")

	if _, err := store.CreateShare(t.Context(), owner.ID, KindFolder, "private-projects", authz.VisibilityPrivate, ""); err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	found, err := store.FindShareForPath(t.Context(), nil, "private-projects/notes.md", nil)
	if err != nil {
		t.Fatalf("FindShareForPath: %v", err)
	}
	if found != nil {
		t.Errorf("expected no match for an anonymous caller against a private folder, got %+v", found)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Projects/Alpha Notes.md": "projects-alpha-notes-md",
		"  Leading And Trailing ": "leading-and-trailing",
		"a___b---c":               "a-b-c",
	}
	for input, want := range cases {
		if got := Slugify(input); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestStore_SetWebPublished_GeneratesUniqueSlug(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner12@example.com")

	share, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "notes/todo.md", authz.VisibilityPublic, "")
	if err != nil {
		t.Fatalf("CreateShare: %v", err)
	}

	published, err := store.SetWebPublished(t.Context(), share.ID, true, "")
	if err != nil {
		t.Fatalf("SetWebPublished: %v", err)
	}
	if !published.WebPublished || published.WebSlug == "" {
		t.Errorf("expected a generated slug once published, got %+v", published)
	}
}

func TestStore_SetWebPublished_CustomSlugCollision(t *testing.T) {
	store, identityStore := testStore(t)
	owner := mustCreateUser(t, identityStore, "owner13@example.com")

	first, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "first.md", authz.VisibilityPublic, "")
	if err != nil {
		t.Fatalf("CreateShare first: %v", err)
	}
	if _, err := store.SetWebPublished(t.Context(), first.ID, true, "taken"); err != nil {
		t.Fatalf("SetWebPublished first: %v", err)
	}

	second, err := store.CreateShare(t.Context(), owner.ID, KindDoc, "second.md", authz.VisibilityPublic, "")
	if err != nil {
		t.Fatalf("CreateShare second: %v", err)
	}
	if _, err := store.SetWebPublished(t.Context(), second.ID, true, "taken"); err != ErrSlugTaken {
		t.Errorf("expected ErrSlugTaken, got %v", err)
	}
}

func mustCreateUser(t *testing.T, store *identity.Store, email string) *identity.User {
	t.Helper()
	user, err := store.CreateUser(t.Context(), email, "hash", false)
	if err != nil {
		t.Fatalf("creating user %q: %v", email, err)
	}
	return user
}
