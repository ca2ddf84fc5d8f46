package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterplan/internal/config"
	"masterplan/internal/domain"
)

func TestOpenUsesDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(dir, nil)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, []string{"MOEX", "YOBEL", "MELISSA", "CAJA 1", "CAJA 2", "CAJA 3"}, ws.Config.Resources.Lines)
	require.NoError(t, ws.Engine.Health(context.Background()))
	events, err := ws.Engine.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOpenReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	yml := "resources:\n  lines: [L1, L2]\n"
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(yml), 0o644))
	ws, err := Open(dir, nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, []string{"L1", "L2"}, ws.Config.Resources.Lines)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("sync:\n  mode: sideways\n"), 0o644))
	_, err := Open(dir, nil)
	require.Error(t, err)
}

func TestCacheStoreResolvesAgainstWorkspace(t *testing.T) {
	dir := t.TempDir()
	store := CacheStore(dir, config.Default(), nil)
	assert.Equal(t, filepath.Join(dir, ".masterplan", "events.json"), store.Path)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, []domain.CalendarEvent{{ID: "a"}}))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
