package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Setting keys shared with other packages
const (
	SettingLogLevel              = "log_level"
	SettingCurrentProject        = "current_project"
	SettingSessionDirectoryCache = "session_directory_cache"
)

// Default settings
var defaultSettings = map[string]string{
	SettingLogLevel: "",
}

// GetSetting retrieves a setting by key
func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.QueryRow(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultSettings[key], nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting updates or creates a setting
func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.Run(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, NowMs())
	return err
}

// ApplySettings writes several settings in one transaction. An empty value
// deletes the key so it falls back to its default.
func (d *DB) ApplySettings(ctx context.Context, updates map[string]string) error {
	now := NowMs()
	return d.Transaction(func(tx *sql.Tx) error {
		for key, value := range updates {
			var err error
			if value == "" {
				_, err = tx.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key)
			} else {
				_, err = tx.ExecContext(ctx, `
					INSERT INTO settings (key, value, updated_at)
					VALUES (?, ?, ?)
					ON CONFLICT(key) DO UPDATE SET
						value = excluded.value,
						updated_at = excluded.updated_at
				`, key, value, now)
			}
			if err != nil {
				return fmt.Errorf("failed to apply setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// GetAllSettings retrieves all settings, defaults first
func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	settings := make(map[string]string, len(defaultSettings))
	for k, v := range defaultSettings {
		settings[k] = v
	}

	type kv struct{ key, value string }
	rows, err := Select(ctx, d, "SELECT key, value FROM settings", nil, func(rows *sql.Rows) (kv, error) {
		var item kv
		err := rows.Scan(&item.key, &item.value)
		return item, err
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		settings[row.key] = row.value
	}

	return settings, nil
}

// SetSettingJSON marshals a value to JSON and stores it
func (d *DB) SetSettingJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal setting %s: %w", key, err)
	}
	return d.SetSetting(ctx, key, string(data))
}

// GetSessionDirectoryCache returns the raw persisted directory cache blob,
// or nil when nothing has been stored yet. The blob is not validated here.
func (d *DB) GetSessionDirectoryCache(ctx context.Context) (json.RawMessage, error) {
	value, err := d.GetSetting(ctx, SettingSessionDirectoryCache)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}
	return json.RawMessage(value), nil
}

// SetSessionDirectoryCache replaces the persisted directory cache blob
func (d *DB) SetSessionDirectoryCache(ctx context.Context, snapshot any) error {
	return d.SetSettingJSON(ctx, SettingSessionDirectoryCache, snapshot)
}
