package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_RunsMigrations(t *testing.T) {
	d := openTestDB(t)

	version, err := d.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	value, err := d.GetSetting(ctx, SettingCurrentProject)
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, d.SetSetting(ctx, SettingCurrentProject, "/repo-a"))
	require.NoError(t, d.SetSetting(ctx, SettingCurrentProject, "/repo-b"))

	value, err = d.GetSetting(ctx, SettingCurrentProject)
	require.NoError(t, err)
	assert.Equal(t, "/repo-b", value)

	all, err := d.GetAllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/repo-b", all[SettingCurrentProject])
	assert.Contains(t, all, SettingLogLevel)
}

func TestApplySettings(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	require.NoError(t, d.SetSetting(ctx, SettingCurrentProject, "/repo-a"))

	require.NoError(t, d.ApplySettings(ctx, map[string]string{
		SettingCurrentProject: "",
		SettingLogLevel:       "debug",
	}))

	all, err := d.GetAllSettings(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, SettingCurrentProject)
	assert.Equal(t, "debug", all[SettingLogLevel])
}

func TestSessionDirectoryCache_OpaqueBlob(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	raw, err := d.GetSessionDirectoryCache(ctx)
	require.NoError(t, err)
	assert.Nil(t, raw)

	blob := map[string]any{
		"version":             1,
		"lastSyncedUpdatedAt": 1700000000200,
		"directories":         []any{map[string]any{"worktree": "/repo-b", "lastUpdated": 1700000000200}},
	}
	require.NoError(t, d.SetSessionDirectoryCache(ctx, blob))

	raw, err = d.GetSessionDirectoryCache(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"lastSyncedUpdatedAt":1700000000200,"directories":[{"worktree":"/repo-b","lastUpdated":1700000000200}]}`, string(raw))
}

func TestClose_Idempotent(t *testing.T) {
	d, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "db.sqlite")})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}
