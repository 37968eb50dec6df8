package webhooks

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relay-onprem/control-plane/internal/database"
)

var ErrWebhookNotFound = errors.New("webhook not found")

// Store persists webhook subscriptions and their deliveries.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// GenerateSecret returns a new 256-bit hex-encoded signing secret.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create inserts a new webhook subscription. The caller must have
// already validated the URL (ValidateURL) and the event list
// (ValidateEvents).
func (s *Store) Create(ctx context.Context, userID, name, url string, events []string) (*Webhook, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("marshaling events: %w", err)
	}

	now := time.Now().UTC()
	wh := &Webhook{
		ID:           uuid.New().String(),
		UserID:       userID,
		Name:         name,
		URL:          url,
		Secret:       secret,
		Events:       events,
		Active:       true,
		FailureCount: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, user_id, name, url, secret, events, active, failure_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
	`, wh.ID, nullableUserID(wh.UserID), wh.Name, wh.URL, wh.Secret, string(eventsJSON),
		wh.CreatedAt.Format(time.RFC3339), wh.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("inserting webhook: %w", err)
	}

	return wh, nil
}

func nullableUserID(userID string) any {
	if userID == "" {
		return nil
	}
	return userID
}

// Get loads a webhook by id.
func (s *Store) Get(ctx context.Context, id string) (*Webhook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, url, secret, events, active, failure_count, created_at, updated_at
		FROM webhooks WHERE id = ?
	`, id)
	return scanWebhook(row)
}

func scanWebhook(row *sql.Row) (*Webhook, error) {
	var wh Webhook
	var userID sql.NullString
	var eventsJSON string
	var active int
	var createdAt, updatedAt string

	err := row.Scan(&wh.ID, &userID, &wh.Name, &wh.URL, &wh.Secret, &eventsJSON,
		&active, &wh.FailureCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning webhook: %w", err)
	}

	wh.UserID = userID.String
	wh.Active = active != 0
	wh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	wh.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if err := json.Unmarshal([]byte(eventsJSON), &wh.Events); err != nil {
		return nil, fmt.Errorf("unmarshaling events: %w", err)
	}

	return &wh, nil
}

// ListForUser returns every webhook owned by userID (not admin/global ones).
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, url, secret, events, active, failure_count, created_at, updated_at
		FROM webhooks WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

// ListAdmin returns every admin/global webhook.
func (s *Store) ListAdmin(ctx context.Context) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, url, secret, events, active, failure_count, created_at, updated_at
		FROM webhooks WHERE user_id IS NULL ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing admin webhooks: %w", err)
	}
	defer rows.Close()
	return scanWebhooks(rows)
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var out []*Webhook
	for rows.Next() {
		var wh Webhook
		var userID sql.NullString
		var eventsJSON string
		var active int
		var createdAt, updatedAt string

		if err := rows.Scan(&wh.ID, &userID, &wh.Name, &wh.URL, &wh.Secret, &eventsJSON,
			&active, &wh.FailureCount, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook row: %w", err)
		}
		wh.UserID = userID.String
		wh.Active = active != 0
		wh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		wh.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		if err := json.Unmarshal([]byte(eventsJSON), &wh.Events); err != nil {
			return nil, fmt.Errorf("unmarshaling events: %w", err)
		}
		out = append(out, &wh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook rows: %w", err)
	}
	return out, nil
}

// Update changes name/url/events/active on an existing webhook.
// Re-enabling (active transitioning to true) resets failure_count to 0.
func (s *Store) Update(ctx context.Context, id, name, url string, events []string, active bool) (*Webhook, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("marshaling events: %w", err)
	}

	failureCount := existing.FailureCount
	if active && !existing.Active {
		failureCount = 0
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE webhooks SET name = ?, url = ?, events = ?, active = ?, failure_count = ?, updated_at = ?
		WHERE id = ?
	`, name, url, string(eventsJSON), boolToInt(active), failureCount, now.Format(time.RFC3339), id)
	if err != nil {
		return nil, fmt.Errorf("updating webhook: %w", err)
	}

	return s.Get(ctx, id)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RotateSecret generates and persists a new secret, returning the
// plaintext once.
func (s *Store) RotateSecret(ctx context.Context, id string) (string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE webhooks SET secret = ?, updated_at = ? WHERE id = ?
	`, secret, now.Format(time.RFC3339), id)
	if err != nil {
		return "", fmt.Errorf("rotating secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrWebhookNotFound
	}
	return secret, nil
}

// Delete removes a webhook subscription (and cascades its deliveries).
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// IncrementFailureCount bumps failure_count and auto-disables the
// webhook once it reaches 10 consecutive failures.
func (s *Store) IncrementFailureCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhooks
		SET failure_count = failure_count + 1,
		    active = CASE WHEN failure_count + 1 >= 10 THEN 0 ELSE active END,
		    updated_at = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("incrementing failure count: %w", err)
	}
	return nil
}

// ResetFailureCount zeroes failure_count after a successful delivery.
func (s *Store) ResetFailureCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhooks SET failure_count = 0, updated_at = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("resetting failure count: %w", err)
	}
	return nil
}
