package identity

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
)

// generateToken returns (plaintext, sha256Hash) for a 256-bit random token.
func generateToken() (string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	plaintext := hex.EncodeToString(b)
	sum := sha256.Sum256([]byte(plaintext))
	return plaintext, hex.EncodeToString(sum[:]), nil
}

// CreatePasswordResetToken generates and stores a password-reset token,
// returning the plaintext for the caller to email.
func (s *Store) CreatePasswordResetToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	plaintext, hash, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating reset token: %w", err)
	}

	now := time.Now().UTC()
	query := `INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, uuid.New().String(), userID, hash, now.Add(ttl).Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("storing reset token: %w", err)
	}
	return plaintext, nil
}

// CompletePasswordReset validates the token (unused, unexpired), replaces
// the password hash, marks the token used, and returns the user id so the
// caller can revoke all of that user's sessions (mass-logout).
func (s *Store) CompletePasswordReset(ctx context.Context, plaintextToken, newPasswordHash string) (string, error) {
	sum := sha256.Sum256([]byte(plaintextToken))
	hash := hex.EncodeToString(sum[:])

	var id, userID, expiresAt string
	var usedAt sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, expires_at, used_at FROM password_reset_tokens WHERE token_hash = ?`, hash)
	if err := row.Scan(&id, &userID, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("looking up reset token: %w", err)
	}

	if usedAt.Valid {
		return "", ErrTokenAlreadyUsed
	}
	expiry, _ := time.Parse(time.RFC3339, expiresAt)
	if time.Now().After(expiry) {
		return "", ErrTokenExpired
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, newPasswordHash, now, userID); err != nil {
		return "", fmt.Errorf("updating password: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE password_reset_tokens SET used_at = ? WHERE id = ?`, now, id); err != nil {
		return "", fmt.Errorf("marking reset token used: %w", err)
	}

	return userID, nil
}

// CreateEmailVerificationToken generates and stores an email-verification
// token, returning the plaintext for the caller to email.
func (s *Store) CreateEmailVerificationToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	plaintext, hash, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating verification token: %w", err)
	}

	now := time.Now().UTC()
	query := `INSERT INTO email_verification_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, uuid.New().String(), userID, hash, now.Add(ttl).Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("storing verification token: %w", err)
	}
	return plaintext, nil
}

// CompleteEmailVerification validates the token and toggles email_verified.
func (s *Store) CompleteEmailVerification(ctx context.Context, plaintextToken string) (string, error) {
	sum := sha256.Sum256([]byte(plaintextToken))
	hash := hex.EncodeToString(sum[:])

	var id, userID, expiresAt string
	var usedAt sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, expires_at, used_at FROM email_verification_tokens WHERE token_hash = ?`, hash)
	if err := row.Scan(&id, &userID, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrTokenNotFound
		}
		return "", fmt.Errorf("looking up verification token: %w", err)
	}

	if usedAt.Valid {
		return "", ErrTokenAlreadyUsed
	}
	expiry, _ := time.Parse(time.RFC3339, expiresAt)
	if time.Now().After(expiry) {
		return "", ErrTokenExpired
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.MarkEmailVerified(ctx, userID); err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE email_verification_tokens SET used_at = ? WHERE id = ?`, now, id); err != nil {
		return "", fmt.Errorf("marking verification token used: %w", err)
	}

	return userID, nil
}
