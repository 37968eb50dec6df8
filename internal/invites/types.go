// Package invites implements share invite links (C7): token issuance,
// validation, and redemption into share membership, including on-the-fly
// account creation for invitees without an existing account.
package invites

import (
	"errors"
	"time"

	"github.com/relay-onprem/control-plane/internal/authz"
)

var (
	ErrInviteNotFound      = errors.New("invite not found")
	ErrInviteRevoked       = errors.New("this invite link has been revoked")
	ErrInviteExpired       = errors.New("this invite link has expired")
	ErrInviteUsesExhausted = errors.New("this invite link has reached its usage limit")
	ErrAlreadyOwner        = errors.New("you are already the owner of this share")
	ErrRegistrationRequired = errors.New("either authenticate or provide registration details")
)

// Invite is a redeemable link granting a role on a share.
type Invite struct {
	ID            string
	ShareID       string
	Token         string
	Role          authz.Role
	ExpiresAt     *time.Time
	MaxUses       *int
	UseCount      int
	RevokedAt     *time.Time
	CreatedByUserID string
	Email         string // optional: informational; redemption is not restricted to this address
	CreatedAt     time.Time
}

// PublicInfo is what an unauthenticated caller may learn about an
// invite before deciding whether to redeem it.
type PublicInfo struct {
	SharePath  string
	ShareKind  string
	OwnerEmail string
	Role       authz.Role
	IsValid    bool
	Error      string
	ExpiresAt  *time.Time
}

// ValidateInvite reports whether an invite can still be redeemed.
func ValidateInvite(invite *Invite, now time.Time) error {
	if invite.RevokedAt != nil {
		return ErrInviteRevoked
	}
	if invite.ExpiresAt != nil && invite.ExpiresAt.Before(now) {
		return ErrInviteExpired
	}
	if invite.MaxUses != nil && invite.UseCount >= *invite.MaxUses {
		return ErrInviteUsesExhausted
	}
	return nil
}
