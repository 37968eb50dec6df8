package invites

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/database"
)

// Store persists invite links.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// generateToken returns a 256-bit token as 64 hex characters.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating invite token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateOptions carries the optional fields a new invite may set.
type CreateOptions struct {
	ExpiresInDays *int
	MaxUses       *int
	Email         string
}

// CreateInvite mints a new invite link for a share.
func (s *Store) CreateInvite(ctx context.Context, shareID, createdByUserID string, role authz.Role, opts CreateOptions) (*Invite, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if opts.ExpiresInDays != nil {
		t := time.Now().UTC().AddDate(0, 0, *opts.ExpiresInDays)
		expiresAt = &t
	}

	invite := &Invite{
		ID:              uuid.New().String(),
		ShareID:         shareID,
		Token:           token,
		Role:            role,
		ExpiresAt:       expiresAt,
		MaxUses:         opts.MaxUses,
		Email:           opts.Email,
		CreatedByUserID: createdByUserID,
		CreatedAt:       time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO share_invites (id, share_id, token, role, expires_at, max_uses, use_count, created_by, email, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		invite.ID, invite.ShareID, invite.Token, string(invite.Role),
		formatNullableTime(invite.ExpiresAt), invite.MaxUses, invite.CreatedByUserID,
		nullIfEmpty(invite.Email), invite.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("creating invite: %w", err)
	}

	log.Info().Str("invite_id", invite.ID).Str("share_id", shareID).Msg("invite created")
	return invite, nil
}

const inviteColumns = `id, share_id, token, role, expires_at, max_uses, use_count, revoked_at, created_by, email, created_at`

// GetByToken looks up an invite by its redemption token.
func (s *Store) GetByToken(ctx context.Context, token string) (*Invite, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM share_invites WHERE token = ?`, token)
	return scanInvite(row)
}

// GetByID looks up an invite by its id.
func (s *Store) GetByID(ctx context.Context, id string) (*Invite, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM share_invites WHERE id = ?`, id)
	return scanInvite(row)
}

func scanInvite(row *sql.Row) (*Invite, error) {
	inv := &Invite{}
	var role, createdAt string
	var expiresAt, revokedAt, email sql.NullString
	var maxUses sql.NullInt64

	err := row.Scan(&inv.ID, &inv.ShareID, &inv.Token, &role, &expiresAt, &maxUses,
		&inv.UseCount, &revokedAt, &inv.CreatedByUserID, &email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning invite: %w", err)
	}

	inv.Role = authz.Role(role)
	inv.Email = email.String
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339, expiresAt.String)
		inv.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t, _ := time.Parse(time.RFC3339, revokedAt.String)
		inv.RevokedAt = &t
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		inv.MaxUses = &n
	}
	return inv, nil
}

// ListForShare returns every invite created for a share, newest first.
func (s *Store) ListForShare(ctx context.Context, shareID string) ([]*Invite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inviteColumns+` FROM share_invites WHERE share_id = ? ORDER BY created_at DESC`, shareID)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	defer rows.Close()

	invites := make([]*Invite, 0)
	for rows.Next() {
		inv := &Invite{}
		var role, createdAt string
		var expiresAt, revokedAt, email sql.NullString
		var maxUses sql.NullInt64

		if err := rows.Scan(&inv.ID, &inv.ShareID, &inv.Token, &role, &expiresAt, &maxUses,
			&inv.UseCount, &revokedAt, &inv.CreatedByUserID, &email, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning invite: %w", err)
		}
		inv.Role = authz.Role(role)
		inv.Email = email.String
		inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if expiresAt.Valid {
			t, _ := time.Parse(time.RFC3339, expiresAt.String)
			inv.ExpiresAt = &t
		}
		if revokedAt.Valid {
			t, _ := time.Parse(time.RFC3339, revokedAt.String)
			inv.RevokedAt = &t
		}
		if maxUses.Valid {
			n := int(maxUses.Int64)
			inv.MaxUses = &n
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// RevokeInvite marks an invite unusable; it stays in the table for audit
// history rather than being deleted.
func (s *Store) RevokeInvite(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE share_invites SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("revoking invite: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInviteNotFound
	}
	log.Info().Str("invite_id", id).Msg("invite revoked")
	return nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
