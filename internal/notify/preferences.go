package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/relay-onprem/control-plane/internal/database"
)

// PreferenceStore persists per-user email preferences.
type PreferenceStore struct {
	db *database.DB
}

func NewPreferenceStore(db *database.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// Get returns a user's preferences, or the schema defaults if the user
// has never saved any (mirroring the column defaults rather than
// requiring a row to exist upfront).
func (s *PreferenceStore) Get(ctx context.Context, userID string) (Preferences, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT invite_notifications, share_update_notifications, member_notifications, security_alerts, digest_emails
		FROM user_email_preferences WHERE user_id = ?`, userID)

	var p Preferences
	err := row.Scan(&p.InviteNotifications, &p.ShareUpdateNotifications, &p.MemberNotifications, &p.SecurityAlerts, &p.DigestEmails)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("loading email preferences: %w", err)
	}
	return p, nil
}

// Update upserts a user's preferences.
func (s *PreferenceStore) Update(ctx context.Context, userID string, p Preferences) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_email_preferences (user_id, invite_notifications, share_update_notifications, member_notifications, security_alerts, digest_emails)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			invite_notifications = excluded.invite_notifications,
			share_update_notifications = excluded.share_update_notifications,
			member_notifications = excluded.member_notifications,
			security_alerts = excluded.security_alerts,
			digest_emails = excluded.digest_emails`,
		userID, p.InviteNotifications, p.ShareUpdateNotifications, p.MemberNotifications, p.SecurityAlerts, p.DigestEmails)
	if err != nil {
		return fmt.Errorf("saving email preferences: %w", err)
	}
	return nil
}
