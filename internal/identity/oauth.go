package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetOAuthAccount looks up a linked account by (providerID, providerUserID).
func (s *Store) GetOAuthAccount(ctx context.Context, providerID, providerUserID string) (*OAuthAccount, error) {
	query := `SELECT id, user_id, provider_id, provider_user_id, email, name, picture_url, created_at
		FROM user_oauth_accounts WHERE provider_id = ? AND provider_user_id = ?`
	return scanOAuthAccount(s.db.QueryRowContext(ctx, query, providerID, providerUserID))
}

func scanOAuthAccount(row *sql.Row) (*OAuthAccount, error) {
	a := &OAuthAccount{}
	var email, name, pictureURL sql.NullString
	var createdAt string

	err := row.Scan(&a.ID, &a.UserID, &a.ProviderID, &a.ProviderUserID, &email, &name, &pictureURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning oauth account: %w", err)
	}

	a.Email = email.String
	a.Name = name.String
	a.PictureURL = pictureURL.String
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return a, nil
}

// LinkOAuthAccount creates the (provider, providerUserID) -> userID link.
// Returns ErrOAuthAccountLinked if that provider identity is already linked
// to a different user.
func (s *Store) LinkOAuthAccount(ctx context.Context, userID, providerID, providerUserID, email, name, pictureURL string) error {
	existing, err := s.GetOAuthAccount(ctx, providerID, providerUserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("checking existing oauth link: %w", err)
	}
	if existing != nil {
		if existing.UserID != userID {
			return ErrOAuthAccountLinked
		}
		return nil
	}

	query := `INSERT INTO user_oauth_accounts (id, user_id, provider_id, provider_user_id, email, name, picture_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		uuid.New().String(), userID, providerID, providerUserID, email, name, pictureURL,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("linking oauth account: %w", err)
	}
	return nil
}
