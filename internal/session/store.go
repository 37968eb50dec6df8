package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relay-onprem/control-plane/internal/database"
)

// Store persists session rows.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue creates a new session row bound to userID, returning the plaintext
// refresh token alongside it. ttl is the session's absolute lifetime
// (default ~30 days, per the caller's configuration).
func (s *Store) Issue(ctx context.Context, userID, deviceName, userAgent, ipAddress string, ttl time.Duration) (*Issued, error) {
	plaintext, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:               uuid.New().String(),
		UserID:           userID,
		RefreshTokenHash: hashToken(plaintext),
		DeviceName:       deviceName,
		UserAgent:        userAgent,
		IPAddress:        ipAddress,
		LastActivity:     now,
		ExpiresAt:        now.Add(ttl),
		CreatedAt:        now,
	}

	query := `INSERT INTO user_sessions
		(id, user_id, refresh_token_hash, device_name, user_agent, ip_address, last_activity, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.RefreshTokenHash, nullableString(sess.DeviceName),
		nullableString(sess.UserAgent), nullableString(sess.IPAddress),
		sess.LastActivity.Format(time.RFC3339), sess.ExpiresAt.Format(time.RFC3339), sess.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return &Issued{Session: sess, RefreshToken: plaintext}, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const sessionColumns = `id, user_id, refresh_token_hash, device_name, user_agent, ip_address, last_activity, expires_at, created_at`

func (s *Store) getByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token_hash = ?`, hash)
	return scanSession(row)
}

// GetByRefreshToken looks up a session by its current plaintext refresh
// token without rotating it (used by logout, which only needs to find and
// delete the row).
func (s *Store) GetByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	return s.getByRefreshHash(ctx, hashToken(refreshToken))
}

// GetByID retrieves a session by its row id.
func (s *Store) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	sess := &Session{}
	var deviceName, userAgent, ipAddress sql.NullString
	var lastActivity, expiresAt, createdAt string

	err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &deviceName, &userAgent, &ipAddress,
		&lastActivity, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.DeviceName = deviceName.String
	sess.UserAgent = userAgent.String
	sess.IPAddress = ipAddress.String
	sess.LastActivity, _ = time.Parse(time.RFC3339, lastActivity)
	sess.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return sess, nil
}

// Rotate looks up the session by its current refresh-token plaintext,
// fails if not found or past expires_at, and otherwise atomically replaces
// the refresh_token_hash in place (the session id never changes) and bumps
// last_activity. The old plaintext becomes unusable — single-use rotation.
//
// The lookup and the replacement happen inside one transaction, and the
// UPDATE is conditioned on the old hash still being current, so two callers
// racing on the same refresh token can't both succeed: whichever commits
// second finds zero rows affected and fails with ErrSessionExpired instead
// of silently clobbering the winner's new hash.
func (s *Store) Rotate(ctx context.Context, refreshToken string) (*Issued, error) {
	oldHash := hashToken(refreshToken)
	newPlaintext, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generating refresh token: %w", err)
	}
	newHash := hashToken(newPlaintext)
	now := time.Now().UTC()

	var sess *Session
	err = s.db.Transaction(ctx, func(tx *database.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE refresh_token_hash = ?`, oldHash)
		var scanErr error
		sess, scanErr = scanSession(row)
		if scanErr != nil {
			return scanErr
		}
		if now.After(sess.ExpiresAt) {
			if _, delErr := tx.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = ?`, sess.ID); delErr != nil {
				return fmt.Errorf("deleting expired session: %w", delErr)
			}
			return ErrSessionExpired
		}

		result, execErr := tx.ExecContext(ctx,
			`UPDATE user_sessions SET refresh_token_hash = ?, last_activity = ? WHERE id = ? AND refresh_token_hash = ?`,
			newHash, now.Format(time.RFC3339), sess.ID, oldHash,
		)
		if execErr != nil {
			return fmt.Errorf("rotating session: %w", execErr)
		}
		rows, raErr := result.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("checking rows affected: %w", raErr)
		}
		if rows == 0 {
			return ErrSessionExpired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sess.RefreshTokenHash = newHash
	sess.LastActivity = now
	return &Issued{Session: sess, RefreshToken: newPlaintext}, nil
}

// ListForUser returns all sessions belonging to userID, most recent
// activity first.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = ? ORDER BY last_activity DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		sess := &Session{}
		var deviceName, userAgent, ipAddress sql.NullString
		var lastActivity, expiresAt, createdAt string

		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &deviceName, &userAgent, &ipAddress,
			&lastActivity, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.DeviceName = deviceName.String
		sess.UserAgent = userAgent.String
		sess.IPAddress = ipAddress.String
		sess.LastActivity, _ = time.Parse(time.RFC3339, lastActivity)
		sess.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
		sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes one session by id, with no ownership check (callers that
// need to enforce "only the owner may revoke" should use RevokeOwned).
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// RevokeOwned deletes session id only if it belongs to userID. Returns
// ErrSessionNotFound if it doesn't exist or belongs to someone else.
func (s *Store) RevokeOwned(ctx context.Context, id, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAll deletes every session belonging to userID and returns the
// count removed — used for multi-device mass-logout and on password
// change/reset.
func (s *Store) RevokeAll(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(rows), nil
}
