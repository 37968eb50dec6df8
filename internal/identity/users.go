package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/database"
)

// Store persists users, OAuth account links, and verification tokens.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateUser inserts a new user. The first user ever created should be
// promoted to admin by the caller before calling this (mirroring the
// teacher's "first user becomes admin" registration rule).
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string, isAdmin bool) (*User, error) {
	email = normalizeEmail(email)

	existing, err := s.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("checking existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserAlreadyExists
	}

	now := time.Now().UTC()
	user := &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := `INSERT INTO users (id, email, email_lower, password_hash, is_admin, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		user.ID, user.Email, strings.ToLower(user.Email), user.PasswordHash,
		boolToInt(user.IsAdmin), boolToInt(user.IsActive),
		user.CreatedAt.Format(time.RFC3339), user.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("user created")
	return user, nil
}

// HasUsers reports whether any user exists (used to decide first-user-is-admin).
func (s *Store) HasUsers(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users LIMIT 1)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking for users: %w", err)
	}
	return exists, nil
}

const userColumns = `id, email, password_hash, is_admin, is_active, email_verified, totp_enabled, backup_codes, created_at, updated_at`

func (s *Store) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email_lower = ?`, strings.ToLower(normalizeEmail(email)))
	return scanUser(row)
}

// ListUsers returns accounts ordered by creation time, newest first, for
// the admin user directory. A limit of 0 defaults to 50.
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]*User, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		u := &User{}
		var backupCodes sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsActive,
			&u.EmailVerified, &u.TOTPEnabled, &backupCodes, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.BackupCodes = backupCodes.String
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var backupCodes sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsActive,
		&u.EmailVerified, &u.TOTPEnabled, &backupCodes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.BackupCodes = backupCodes.String
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return u, nil
}

// UpdateActive toggles a user's is_active flag (admin suspend/restore).
func (s *Store) UpdateActive(ctx context.Context, userID string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return checkRowsAffected(result)
}

// SetPasswordHash replaces a user's stored password hash.
func (s *Store) SetPasswordHash(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return checkRowsAffected(result)
}

// UpdateAdmin sets a user's is_admin flag (used by admin management and by
// the OAuth broker's group→role sync on login).
func (s *Store) UpdateAdmin(ctx context.Context, userID string, isAdmin bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_admin = ?, updated_at = ? WHERE id = ?`,
		boolToInt(isAdmin), time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return checkRowsAffected(result)
}

// MarkEmailVerified sets email_verified=true.
func (s *Store) MarkEmailVerified(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return checkRowsAffected(result)
}

func checkRowsAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user (cascades to sessions, oauth links, tokens,
// shares owned by them, etc. via foreign-key ON DELETE CASCADE).
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	log.Info().Str("user_id", id).Msg("user deleted")
	return nil
}

// VerifyCredentials authenticates (email, password), returning the generic
// ErrInvalidCredentials on any of not-found, inactive, or hash mismatch so
// callers can't distinguish which (no user enumeration).
func (s *Store) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := cryptoutil.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
