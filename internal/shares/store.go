package shares

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/relay-onprem/control-plane/internal/authz"
	"github.com/relay-onprem/control-plane/internal/cryptoutil"
	"github.com/relay-onprem/control-plane/internal/database"
)

// Store persists shares and their members.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateShare validates the path, hashes a protected-share password if
// given, and inserts the row.
func (s *Store) CreateShare(ctx context.Context, ownerUserID string, kind Kind, path string, visibility authz.Visibility, password string) (*Share, error) {
	if err := ValidatePath(path, kind); err != nil {
		return nil, err
	}

	var passwordHash string
	if visibility == authz.VisibilityProtected {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		hash, err := cryptoutil.HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hashing share password: %w", err)
		}
		passwordHash = hash
	}

	now := time.Now().UTC()
	share := &Share{
		ID:           uuid.New().String(),
		Kind:         kind,
		Path:         path,
		Visibility:   visibility,
		PasswordHash: passwordHash,
		OwnerUserID:  ownerUserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := `INSERT INTO shares (id, kind, path, visibility, password_hash, owner_user_id, web_published, web_noindex, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		share.ID, string(share.Kind), share.Path, string(share.Visibility), nullIfEmpty(share.PasswordHash), share.OwnerUserID,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("creating share: %w", err)
	}

	log.Info().Str("share_id", share.ID).Str("owner_user_id", ownerUserID).Str("path", path).Msg("share created")
	return share, nil
}

const shareColumns = `id, kind, path, visibility, password_hash, owner_user_id, web_published, web_slug, web_noindex, web_sync_mode, web_content, web_folder_items, web_doc_id, created_at, updated_at`

func (s *Store) GetByID(ctx context.Context, id string) (*Share, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shareColumns+` FROM shares WHERE id = ?`, id)
	return scanShare(row)
}

func scanShare(row *sql.Row) (*Share, error) {
	sh := &Share{}
	var kind, visibility string
	var passwordHash, webSlug, webSyncMode, webFolderItems, webDocID sql.NullString
	var webContent []byte
	var createdAt, updatedAt string

	err := row.Scan(&sh.ID, &kind, &sh.Path, &visibility, &passwordHash, &sh.OwnerUserID,
		&sh.WebPublished, &webSlug, &sh.WebNoindex, &webSyncMode, &webContent, &webFolderItems, &webDocID,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning share: %w", err)
	}

	sh.Kind = Kind(kind)
	sh.Visibility = authz.Visibility(visibility)
	sh.PasswordHash = passwordHash.String
	sh.WebSlug = webSlug.String
	sh.WebSyncMode = webSyncMode.String
	sh.WebFolderItems = webFolderItems.String
	sh.WebDocID = webDocID.String
	sh.WebContent = webContent
	sh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sh.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return sh, nil
}

// SharePatch carries the optional fields UpdateShare accepts; a nil field
// leaves the column untouched, mirroring the teacher's UpdateUser idiom.
type SharePatch struct {
	Path        *string
	Visibility  *authz.Visibility
	Password    *string
	WebNoindex  *bool
	WebSyncMode *string
}

// UpdateShare applies a partial update, enforcing the visibility/password
// invariant: leaving protected clears the password hash; a new password
// is re-hashed; entering protected without a password on a share that
// doesn't already have one fails.
func (s *Store) UpdateShare(ctx context.Context, id string, patch SharePatch) (*Share, error) {
	share, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var updates []string
	var args []any

	if patch.Path != nil {
		if err := ValidatePath(*patch.Path, share.Kind); err != nil {
			return nil, err
		}
		updates = append(updates, "path = ?")
		args = append(args, *patch.Path)
	}

	if patch.Visibility != nil {
		updates = append(updates, "visibility = ?")
		args = append(args, string(*patch.Visibility))

		if *patch.Visibility != authz.VisibilityProtected {
			updates = append(updates, "password_hash = ?")
			args = append(args, nil)
		} else if patch.Password != nil && *patch.Password != "" {
			hash, hashErr := cryptoutil.HashPassword(*patch.Password)
			if hashErr != nil {
				return nil, fmt.Errorf("hashing share password: %w", hashErr)
			}
			updates = append(updates, "password_hash = ?")
			args = append(args, hash)
		} else if share.PasswordHash == "" {
			return nil, ErrPasswordRequired
		}
	} else if patch.Password != nil && *patch.Password != "" && share.Visibility == authz.VisibilityProtected {
		hash, hashErr := cryptoutil.HashPassword(*patch.Password)
		if hashErr != nil {
			return nil, fmt.Errorf("hashing share password: %w", hashErr)
		}
		updates = append(updates, "password_hash = ?")
		args = append(args, hash)
	}

	if patch.WebNoindex != nil {
		updates = append(updates, "web_noindex = ?")
		args = append(args, *patch.WebNoindex)
	}
	if patch.WebSyncMode != nil {
		updates = append(updates, "web_sync_mode = ?")
		args = append(args, *patch.WebSyncMode)
	}

	if len(updates) == 0 {
		return share, nil
	}

	updates = append(updates, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339))
	args = append(args, id)

	query := fmt.Sprintf("UPDATE shares SET %s WHERE id = ?", strings.Join(updates, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("updating share: %w", err)
	}

	return s.GetByID(ctx, id)
}

// DeleteShare removes a share; cascades to members/invites via FK.
func (s *Store) DeleteShare(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM shares WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting share: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrShareNotFound
	}
	log.Info().Str("share_id", id).Msg("share deleted")
	return nil
}

// ListOptions filters ListForUser.
type ListOptions struct {
	Kind       Kind // empty = any
	OwnedOnly  bool
	MemberOnly bool
}

const shareColumnsAliased = `s.id, s.kind, s.path, s.visibility, s.password_hash, s.owner_user_id, s.web_published, s.web_slug, s.web_noindex, s.web_sync_mode, s.web_content, s.web_folder_items, s.web_doc_id, s.created_at, s.updated_at`

// ListForUser returns every share the user owns or is a member of.
func (s *Store) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]*Share, error) {
	var query string
	var args []any

	switch {
	case opts.OwnedOnly:
		query = `SELECT ` + shareColumns + ` FROM shares WHERE owner_user_id = ?`
		args = []any{userID}
	case opts.MemberOnly:
		query = `SELECT ` + shareColumnsAliased + ` FROM shares s
			JOIN share_members m ON m.share_id = s.id WHERE m.user_id = ?`
		args = []any{userID}
	default:
		query = `SELECT DISTINCT ` + shareColumnsAliased + ` FROM shares s
			LEFT JOIN share_members m ON m.share_id = s.id WHERE s.owner_user_id = ? OR m.user_id = ?`
		args = []any{userID, userID}
	}

	if opts.Kind != "" {
		if opts.OwnedOnly {
			query += ` AND kind = ?`
		} else {
			query += ` AND s.kind = ?`
		}
		args = append(args, string(opts.Kind))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing shares: %w", err)
	}
	defer rows.Close()

	result := make([]*Share, 0)
	for rows.Next() {
		sh, err := scanShareFromRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sh)
	}
	return result, rows.Err()
}

func scanShareFromRows(rows *sql.Rows) (*Share, error) {
	sh := &Share{}
	var kind, visibility string
	var passwordHash, webSlug, webSyncMode, webFolderItems, webDocID sql.NullString
	var webContent []byte
	var createdAt, updatedAt string

	err := rows.Scan(&sh.ID, &kind, &sh.Path, &visibility, &passwordHash, &sh.OwnerUserID,
		&sh.WebPublished, &webSlug, &sh.WebNoindex, &webSyncMode, &webContent, &webFolderItems, &webDocID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning share: %w", err)
	}

	sh.Kind = Kind(kind)
	sh.Visibility = authz.Visibility(visibility)
	sh.PasswordHash = passwordHash.String
	sh.WebSlug = webSlug.String
	sh.WebSyncMode = webSyncMode.String
	sh.WebFolderItems = webFolderItems.String
	sh.WebDocID = webDocID.String
	sh.WebContent = webContent
	sh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sh.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return sh, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
