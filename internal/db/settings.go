package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SetSetting creates or updates a settings row, mirroring Setting.set_value.
func (s *Store) SetSetting(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal setting %q: %w", key, err)
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, string(raw))
		if err != nil {
			return fmt.Errorf("%w: set setting %q: %v", ErrUnavailable, key, err)
		}
		return nil
	})
}

// GetSetting looks up a setting by key and unmarshals its JSON value into
// out. Returns ErrNotFound if the key does not exist.
func (s *Store) GetSetting(ctx context.Context, key string, out interface{}) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: setting %q", ErrNotFound, key)
		}
		if err != nil {
			return fmt.Errorf("%w: get setting %q: %v", ErrUnavailable, key, err)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal([]byte(raw), out)
	})
}

// GetAllSettings returns every key/value pair in the settings table.
func (s *Store) GetAllSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT key, value FROM settings`)
		if err != nil {
			return fmt.Errorf("%w: list settings: %v", ErrUnavailable, err)
		}
		defer rows.Close()
		for rows.Next() {
			var key, value string
			if err := rows.Scan(&key, &value); err != nil {
				return fmt.Errorf("%w: scan setting: %v", ErrUnavailable, err)
			}
			out[key] = json.RawMessage(value)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
