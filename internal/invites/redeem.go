package invites

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/config"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/database"
	"github.com/relay-onprem/control-plane/internal/identity"
	"github.com/relay-onprem/control-plane/internal/session"
	"github.com/relay-onprem/control-plane/internal/shares"
)

// Redeemer turns a valid invite token into share membership, creating an
// account for the invitee first if they aren't already authenticated.
type Redeemer struct {
	db           *database.DB
	invites      *Store
	shares       *shares.Store
	identity     *identity.Store
	sessions     *session.Service
	passwordPolicy config.PasswordConfig
}

func NewRedeemer(db *database.DB, invites *Store, sharesStore *shares.Store, identityStore *identity.Store, sessions *session.Service, passwordPolicy config.PasswordConfig) *Redeemer {
	return &Redeemer{db: db, invites: invites, shares: sharesStore, identity: identityStore, sessions: sessions, passwordPolicy: passwordPolicy}
}

// NewAccount carries registration details for an invitee redeeming a
// link without an existing session.
type NewAccount struct {
	Email    string
	Password string
}

// Result reports the outcome of a redemption.
type Result struct {
	UserID    string
	UserEmail string
	ShareID   string
	SharePath string
	Role      authz.Role
	// Session is set only when redemption created a brand-new account,
	// so the caller can log the invitee straight in.
	Session *session.Result
}

// Redeem validates token and grants its role to principal (an existing
// authenticated user) or, if principal is nil, to a freshly created
// account built from newAccount. Redemption is idempotent: redeeming an
// invite the caller is already a member through is a no-op.
func (r *Redeemer) Redeem(ctx context.Context, token string, principal *identity.User, newAccount *NewAccount) (*Result, error) {
	invite, err := r.invites.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := ValidateInvite(invite, time.Now().UTC()); err != nil {
		return nil, err
	}

	share, err := r.shares.GetByID(ctx, invite.ShareID)
	if err != nil {
		return nil, err
	}

	var sessionResult *session.Result
	user := principal
	if user == nil {
		if newAccount == nil || newAccount.Email == "" || newAccount.Password == "" {
			return nil, ErrRegistrationRequired
		}

		if err := cryptoutil.ValidatePassword(newAccount.Password, r.passwordPolicy); err != nil {
			return nil, fmt.Errorf("password validation: %w", err)
		}
		passwordHash, err := cryptoutil.HashPassword(newAccount.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}

		// Invite-based registration bypasses the global registration
		// toggle: the invite itself is the authorization to join.
		created, err := r.identity.CreateUser(ctx, newAccount.Email, passwordHash, false)
		if err != nil {
			return nil, err
		}
		user = created

		sessionResult, err = r.sessions.OAuthSession(ctx, user, "invite", "", "")
		if err != nil {
			return nil, fmt.Errorf("issuing session for new account: %w", err)
		}
	}

	if user.ID == share.OwnerUserID {
		return nil, ErrAlreadyOwner
	}

	if err := r.grantMembershipAtomically(ctx, invite, share.ID, user.ID); err != nil {
		return nil, err
	}

	return &Result{
		UserID:    user.ID,
		UserEmail: user.Email,
		ShareID:   share.ID,
		SharePath: share.Path,
		Role:      invite.Role,
		Session:   sessionResult,
	}, nil
}

// grantMembershipAtomically adds the membership and increments the
// invite's use count in a single transaction. Already being a member is
// treated as success with no further writes, matching redeem_invite's
// idempotent-membership behavior.
func (r *Redeemer) grantMembershipAtomically(ctx context.Context, invite *Invite, shareID, userID string) error {
	return r.db.Transaction(ctx, func(tx *database.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM share_members WHERE share_id = ? AND user_id = ?)`,
			shareID, userID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking existing membership: %w", err)
		}
		if exists {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO share_members (id, share_id, user_id, role, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), shareID, userID, string(invite.Role), time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("adding share member: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE share_invites SET use_count = use_count + 1 WHERE id = ?`, invite.ID); err != nil {
			return fmt.Errorf("incrementing invite use count: %w", err)
		}

		log.Info().Str("invite_id", invite.ID).Str("share_id", shareID).Str("user_id", userID).Msg("invite redeemed")
		return nil
	})
}
