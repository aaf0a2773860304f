package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dutydesk/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigsBundledFile(t *testing.T) {
	configs, err := readConfigs("configs.jsonc")
	require.NoError(t, err)
	require.Len(t, configs, 3)
	assert.Equal(t, "academie", configs[0].TestName)
	assert.Equal(t, 5, configs[0].MaxMistakes)
}

func TestReadConfigsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`[
		// missing questions
		{"testName": "radio", "timeLimitSeconds": 60},
	]`), 0o644))

	_, err := readConfigs(path)
	assert.ErrorContains(t, err, "config #1")
}

func TestSeedConfigs(t *testing.T) {
	store, err := db.NewFileStore(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)

	configs, err := readConfigs("configs.jsonc")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, seedConfigs(ctx, store, configs))
	// Seeding twice overwrites in place.
	require.NoError(t, seedConfigs(ctx, store, configs))

	stored, err := store.ListConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, configs[0], stored[0])
	assert.Len(t, stored, 3)
}
