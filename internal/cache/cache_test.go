package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterplan/internal/domain"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "events.json")
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	s := FileStore{Path: path, FileName: "plan.xlsx", Now: func() time.Time { return at }}

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	in := []domain.CalendarEvent{{ID: "a", Title: "A"}, {ID: "b"}}
	require.NoError(t, s.Save(ctx, in))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, []string{got[0].ID, got[1].ID})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "1.0", env["version"])
	data := env["data"].(map[string]any)
	assert.Equal(t, "plan.xlsx", data["fileName"])
	assert.Equal(t, "2025-01-06T09:00:00Z", data["lastUpdated"])
}

func TestFileStoreVersionMismatchClears(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"0.9","data":{"events":[{"id":"old"}]}}`), 0o644))

	got, err := FileStore{Path: path}.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	_, err := FileStore{Path: path}.Load(context.Background())
	assert.Error(t, err)
}

func TestFileStoreSavesEmptyCollection(t *testing.T) {
	ctx := context.Background()
	s := FileStore{Path: filepath.Join(t.TempDir(), "events.json")}
	require.NoError(t, s.Save(ctx, nil))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	var m Memory
	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	in := []domain.CalendarEvent{{ID: "a"}}
	require.NoError(t, m.Save(ctx, in))
	in[0].ID = "mutated"
	got, _ = m.Load(ctx)
	assert.Equal(t, "a", got[0].ID)

	require.NoError(t, m.Clear(ctx))
	got, _ = m.Load(ctx)
	assert.Nil(t, got)
}
