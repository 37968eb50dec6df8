package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/authz"
)

// GetMember looks up a user's membership row on a share, if any.
func (s *Store) GetMember(ctx context.Context, shareID, userID string) (*Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT m.id, m.share_id, m.user_id, u.email, m.role, m.created_at
			FROM share_members m JOIN users u ON u.id = m.user_id
			WHERE m.share_id = ? AND m.user_id = ?`, shareID, userID)
	return scanMember(row)
}

func scanMember(row *sql.Row) (*Member, error) {
	m := &Member{}
	var role, createdAt string
	err := row.Scan(&m.ID, &m.ShareID, &m.UserID, &m.UserEmail, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning share member: %w", err)
	}
	m.Role = authz.Role(role)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return m, nil
}

// AddMember grants role to userID on share, or updates the role if the
// user is already a member (idempotent upsert, matching the original
// service's add_member behavior).
func (s *Store) AddMember(ctx context.Context, shareID, userID string, role authz.Role) (*Member, error) {
	share, err := s.GetByID(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if share.OwnerUserID == userID {
		return nil, ErrOwnerCannotBeMember
	}

	existing, err := s.GetMember(ctx, shareID, userID)
	if err != nil && !errors.Is(err, ErrMemberNotFound) {
		return nil, err
	}

	if existing != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE share_members SET role = ? WHERE id = ?`, string(role), existing.ID); err != nil {
			return nil, fmt.Errorf("updating member role: %w", err)
		}
		log.Info().Str("share_id", shareID).Str("user_id", userID).Msg("share member role updated")
		return s.GetMember(ctx, shareID, userID)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO share_members (id, share_id, user_id, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, shareID, userID, string(role), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("adding share member: %w", err)
	}

	log.Info().Str("share_id", shareID).Str("user_id", userID).Msg("share member added")
	return s.GetMember(ctx, shareID, userID)
}

// ListMembers returns every member of a share, with each user's email.
func (s *Store) ListMembers(ctx context.Context, shareID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.share_id, m.user_id, u.email, m.role, m.created_at
			FROM share_members m JOIN users u ON u.id = m.user_id
			WHERE m.share_id = ?`, shareID)
	if err != nil {
		return nil, fmt.Errorf("listing share members: %w", err)
	}
	defer rows.Close()

	members := make([]*Member, 0)
	for rows.Next() {
		m := &Member{}
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ShareID, &m.UserID, &m.UserEmail, &role, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning share member: %w", err)
		}
		m.Role = authz.Role(role)
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveMember revokes a user's membership on a share.
func (s *Store) RemoveMember(ctx context.Context, shareID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM share_members WHERE share_id = ? AND user_id = ?`, shareID, userID)
	if err != nil {
		return fmt.Errorf("removing share member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}
	log.Info().Str("share_id", shareID).Str("user_id", userID).Msg("share member removed")
	return nil
}
