// Package instancesettings implements the branding/instance-settings
// key-value store: a flat table of admin-editable strings (instance
// title, logo URL, and similar) with no schema beyond key/value.
package instancesettings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/relay-onprem/control-plane/internal/database"
)

var ErrSettingNotFound = errors.New("instance setting not found")

// Store persists instance_settings rows.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM instance_settings WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("looking up instance setting: %w", err)
	}
	return value, nil
}

// Set upserts key to value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instance_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("storing instance setting: %w", err)
	}
	return nil
}

// List returns every stored setting as a key/value map.
func (s *Store) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM instance_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying instance settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning instance setting: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instance settings: %w", err)
	}
	return out, nil
}
