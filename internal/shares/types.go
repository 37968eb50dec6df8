// Package shares implements the share registry (C6): Share and
// ShareMember CRUD, path-safety validation, the folder-prefix resolver,
// and web-publish metadata.
package shares

import (
	"errors"
	"time"

	"github.com/relay-onprem/control-plane/internal/authz"
)

var (
	ErrShareNotFound      = errors.New("share not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrInvalidPath        = errors.New("invalid share path")
	ErrPasswordRequired   = errors.New("password is required for a protected share")
	ErrOwnerCannotBeMember = errors.New("the share owner already has full access")
	ErrSlugTaken          = errors.New("web publish slug is already taken")
)

// Kind is what a share exposes: a single document or a whole folder.
type Kind string

const (
	KindDoc    Kind = "doc"
	KindFolder Kind = "folder"
)

// Share is the persisted row backing one shared path.
type Share struct {
	ID             string
	Kind           Kind
	Path           string
	Visibility     authz.Visibility
	PasswordHash   string
	OwnerUserID    string
	WebPublished   bool
	WebSlug        string
	WebNoindex     bool
	WebSyncMode    string
	WebContent     []byte
	WebFolderItems string // JSON-encoded, opaque to this package
	WebDocID       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Member is one user's granted role on a share.
type Member struct {
	ID        string
	ShareID   string
	UserID    string
	UserEmail string
	Role      authz.Role
	CreatedAt time.Time
}
