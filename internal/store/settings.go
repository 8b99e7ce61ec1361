package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

// GetSetting returns the raw value for a key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting upserts a key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// GetSettingBool parses a boolean setting, returning def when absent or
// unparseable.
func (s *Store) GetSettingBool(ctx context.Context, key string, def bool) bool {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// GetSettingInt parses an integer setting, returning def when absent or
// unparseable.
func (s *Store) GetSettingInt(ctx context.Context, key string, def int) int {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// GetSettingString returns a string setting, or def when absent.
func (s *Store) GetSettingString(ctx context.Context, key, def string) string {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return def
	}
	return raw
}

// GetSettingJSON unmarshals a JSON-valued setting into out. Returns
// ErrNotFound when the key is absent.
func (s *Store) GetSettingJSON(ctx context.Context, key string, out any) error {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode setting %s: %w", key, err)
	}
	return nil
}

// SetSettingJSON marshals v and stores it under key.
func (s *Store) SetSettingJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	return s.SetSetting(ctx, key, string(raw))
}

// ListSettings returns every key/value pair.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
