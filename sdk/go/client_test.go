package masterplansdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterplan/internal/cache"
	"masterplan/internal/config"
	"masterplan/internal/db"
	"masterplan/internal/engine"
	"masterplan/internal/migrate"
	"masterplan/internal/server"
	"masterplan/internal/syncer"
	masterplansdk "masterplan/sdk/go"
)

func newClient(t *testing.T) *masterplansdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default()
	cfg.Calendar.Timezone = "UTC"
	handler, err := server.New(server.Config{Engine: engine.New(conn, cfg), BasePath: "/api"})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := masterplansdk.New(srv.URL)
	client.ActorID = "sdk-test"
	return client
}

func sampleEvent(id string) masterplansdk.Event {
	start := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	return masterplansdk.Event{
		ID:       id,
		Title:    "BAG_A",
		Start:    start,
		End:      start.Add(10 * time.Hour),
		Priority: "medium",
		Status:   "pending",
	}
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	first, err := c.SyncEvents(ctx, time.Time{})
	require.NoError(t, err)
	assert.False(t, first.HasChanges)
	assert.Empty(t, first.Events)

	stored, err := c.SaveEvents(ctx, []masterplansdk.Event{sampleEvent("a"), sampleEvent("b")})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	res, err := c.SyncEvents(ctx, first.ServerTime)
	require.NoError(t, err)
	assert.True(t, res.HasChanges)
	assert.Len(t, res.Events, 2)

	ev := sampleEvent("b")
	ev.Title = "BAG_B"
	updated, err := c.UpdateEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, "BAG_B", updated.Title)

	require.NoError(t, c.DeleteEvent(ctx, "a"))
	events, err := c.GetEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "BAG_B", events[0].Title)

	err = c.DeleteEvent(ctx, "a")
	var apiErr *masterplansdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClientPlan(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	epoch := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)
	resp, err := c.Plan(ctx, masterplansdk.PlanRequest{
		Rows: []map[string]any{
			{"PO": "100", "PROYECTO": "BAG A", "MATERIAL": "COUCHE"},
		},
		Epoch: &epoch,
		Save:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Report.Accepted)
	assert.True(t, resp.Saved)
	// print, varnish and die-cut plus assembly
	assert.Len(t, resp.Events, 4)

	events, err := c.GetEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestCoordinatorAgainstServer(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	_, err := c.SaveEvents(ctx, []masterplansdk.Event{sampleEvent("a")})
	require.NoError(t, err)

	store := &cache.Memory{}
	coord := syncer.New(c, store, c, syncer.Options{Cooldown: time.Millisecond})
	assert.Equal(t, syncer.Applied, coord.Poll(ctx))
	require.Len(t, coord.Events(), 1)

	_, err = coord.Add(ctx, sampleEvent("b"))
	require.NoError(t, err)
	remote, err := c.GetEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, remote, 2)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}
