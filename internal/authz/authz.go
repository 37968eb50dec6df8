// Package authz implements the single authorization decision function
// (C8) that every read/write access check in the control plane routes
// through: share ownership, membership roles, and public/protected
// visibility.
package authz

import "crypto/subtle"

// Action is the capability being requested against a share.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Role is a share membership's granted level.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
)

// Visibility is a share's exposure level to non-members.
type Visibility string

const (
	VisibilityPrivate   Visibility = "private"
	VisibilityPublic    Visibility = "public"
	VisibilityProtected Visibility = "protected"
)

// Principal is the authenticated caller, if any.
type Principal struct {
	ID      string
	IsAdmin bool
}

// Share is the subset of share state the decision function needs.
type Share struct {
	OwnerUserID  string
	Visibility   Visibility
	PasswordHash string
}

// Membership is the caller's share-member row, if one exists.
type Membership struct {
	Role Role
}

// PasswordVerifier checks a presented plaintext password against a
// stored hash in constant time, returning true on match. Implementations
// wrap cryptoutil.VerifyPassword; kept as an injected function so this
// package never depends on bcrypt directly.
type PasswordVerifier func(presented, stored string) bool

// Authorize applies the evaluation order from the access model: admin,
// owner, membership role, public read, protected read with password,
// else deny.
func Authorize(principal *Principal, share Share, action Action, member *Membership, presentedPassword string, verify PasswordVerifier) bool {
	if principal != nil && principal.IsAdmin {
		return true
	}
	if principal != nil && share.OwnerUserID != "" && principal.ID == share.OwnerUserID {
		return true
	}
	if principal != nil && member != nil {
		switch member.Role {
		case RoleEditor:
			return true
		case RoleViewer:
			return action == ActionRead
		}
	}
	if action == ActionRead && share.Visibility == VisibilityPublic {
		return true
	}
	if action == ActionRead && share.Visibility == VisibilityProtected {
		if share.PasswordHash == "" || presentedPassword == "" {
			return false
		}
		if verify != nil {
			return verify(presentedPassword, share.PasswordHash)
		}
		return constantTimeEqual(presentedPassword, share.PasswordHash)
	}
	return false
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
