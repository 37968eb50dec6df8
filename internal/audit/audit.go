// Package audit implements the append-only audit log (C12): every
// mutation by an identified principal writes one row here, and it is
// never updated or deleted by the application.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relay-onprem/control-plane/internal/database"
)

// Action is the closed enum of auditable operations.
type Action string

const (
	ActionUserCreated            Action = "user_created"
	ActionUserUpdated            Action = "user_updated"
	ActionUserDeleted            Action = "user_deleted"
	ActionUserLogin              Action = "user_login"
	ActionUserLogout             Action = "user_logout"
	ActionShareCreated           Action = "share_created"
	ActionShareUpdated           Action = "share_updated"
	ActionShareDeleted           Action = "share_deleted"
	ActionShareMemberAdded       Action = "share_member_added"
	ActionShareMemberUpdated     Action = "share_member_updated"
	ActionShareMemberRemoved     Action = "share_member_removed"
	ActionTokenIssued            Action = "token_issued"
	ActionInviteCreated          Action = "invite_created"
	ActionInviteRevoked          Action = "invite_revoked"
	ActionInviteRedeemed         Action = "invite_redeemed"
	ActionSessionCreated         Action = "session_created"
	ActionSessionRevoked         Action = "session_revoked"
	ActionTokenRefreshed         Action = "token_refreshed"
	ActionOAuthLogin             Action = "oauth_login"
	ActionOAuthAccountLinked     Action = "oauth_account_linked"
	ActionOAuthAccountUnlinked   Action = "oauth_account_unlinked"
	ActionPasswordResetRequested Action = "password_reset_requested"
	ActionPasswordResetCompleted Action = "password_reset_completed"
	ActionEmailVerificationSent  Action = "email_verification_sent"
	ActionEmailVerified          Action = "email_verified"
	ActionTOTPEnabled            Action = "totp_enabled"
	ActionTOTPDisabled           Action = "totp_disabled"
	ActionTOTPBackupUsed         Action = "totp_backup_used"
)

// Entry is one audit log row.
type Entry struct {
	ID            string
	Timestamp     time.Time
	Action        Action
	ActorUserID   string
	TargetUserID  string
	TargetShareID string
	Details       map[string]any
	IPAddress     string
	UserAgent     string
}

// Store appends and queries audit entries.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Log writes one audit row. actorUserID, targetUserID, and
// targetShareID may be empty; details may be nil.
func (s *Store) Log(ctx context.Context, action Action, actorUserID, targetUserID, targetShareID string, details map[string]any, ipAddress, userAgent string) error {
	if details == nil {
		details = map[string]any{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encoding audit details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, action, actor_user_id, target_user_id, target_share_id, details, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), time.Now().UTC().Format(time.RFC3339), string(action),
		nullIfEmpty(actorUserID), nullIfEmpty(targetUserID), nullIfEmpty(targetShareID),
		string(encoded), nullIfEmpty(ipAddress), nullIfEmpty(userAgent))
	if err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Filter narrows ListEntries; zero-value fields are unfiltered.
type Filter struct {
	Action        Action
	ActorUserID   string
	TargetUserID  string
	TargetShareID string
	Since         time.Time
	Until         time.Time
	Offset        int
	Limit         int
}

// ListEntries returns audit rows matching filter, newest first.
func (s *Store) ListEntries(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := `SELECT id, timestamp, action, actor_user_id, target_user_id, target_share_id, details, ip_address, user_agent
		FROM audit_log WHERE 1=1`
	var args []any

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}
	if filter.ActorUserID != "" {
		query += " AND actor_user_id = ?"
		args = append(args, filter.ActorUserID)
	}
	if filter.TargetUserID != "" {
		query += " AND target_user_id = ?"
		args = append(args, filter.TargetUserID)
	}
	if filter.TargetShareID != "" {
		query += " AND target_share_id = ?"
		args = append(args, filter.TargetShareID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339))
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339))
	}

	query += " ORDER BY timestamp DESC, rowid DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		e := &Entry{}
		var action, timestamp, details string
		var actorUserID, targetUserID, targetShareID, ipAddress, userAgent sql.NullString

		if err := rows.Scan(&e.ID, &timestamp, &action, &actorUserID, &targetUserID, &targetShareID,
			&details, &ipAddress, &userAgent); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Action = Action(action)
		e.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		e.ActorUserID = actorUserID.String
		e.TargetUserID = targetUserID.String
		e.TargetShareID = targetShareID.String
		e.IPAddress = ipAddress.String
		e.UserAgent = userAgent.String

		e.Details = map[string]any{}
		_ = json.Unmarshal([]byte(details), &e.Details)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
