package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterplan/internal/db"
	"masterplan/internal/domain"
	"masterplan/internal/journal"
	"masterplan/internal/migrate"
	"masterplan/internal/repo"
)

func openRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func TestReplaceAndUpsertKeepOrder(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

	inTx(t, r, func(tx *sql.Tx) {
		require.NoError(t, r.ReplaceEventsTx(ctx, tx, []domain.CalendarEvent{{ID: "b"}, {ID: "a"}}, at))
	})
	inTx(t, r, func(tx *sql.Tx) {
		existed, err := r.UpsertEventTx(ctx, tx, domain.CalendarEvent{ID: "c", Title: "new"}, at)
		require.NoError(t, err)
		assert.False(t, existed)
		existed, err = r.UpsertEventTx(ctx, tx, domain.CalendarEvent{ID: "b", Title: "edited"}, at)
		require.NoError(t, err)
		assert.True(t, existed)
	})

	events, err := r.ListEvents(ctx)
	require.NoError(t, err)
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
	assert.Equal(t, "edited", events[0].Title)

	got, err := r.GetEvent(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	_, err = r.GetEvent(ctx, "zzz")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	n, err := r.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteUnknownEvent(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	assert.ErrorIs(t, r.DeleteEventTx(ctx, tx, "missing"), repo.ErrNotFound)
}

func TestChangesSince(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	clock := base
	w := journal.Writer{Now: func() time.Time { return clock }}

	latest, err := r.LatestChangeTS(ctx)
	require.NoError(t, err)
	assert.True(t, latest.IsZero(), "empty journal")

	inTx(t, r, func(tx *sql.Tx) {
		_, err := w.Append(ctx, tx, journal.KindReplaced, "", "", nil)
		require.NoError(t, err)
	})
	clock = base.Add(time.Second)
	inTx(t, r, func(tx *sql.Tx) {
		_, err := w.Append(ctx, tx, journal.KindDeleted, "a", "planner-1", journal.Payload{"reason": "test"})
		require.NoError(t, err)
	})

	newer, err := r.ChangesSince(ctx, base, 0)
	require.NoError(t, err)
	assert.Len(t, newer, 1)
	newer, err = r.ChangesSince(ctx, base.Add(time.Second), 0)
	require.NoError(t, err)
	assert.Empty(t, newer, "an entry at exactly since is not newer")

	all, err := r.ChangesSince(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "system", all[0].ActorID)
	assert.Equal(t, "", all[0].EventID)
	assert.Equal(t, "a", all[1].EventID)
	assert.JSONEq(t, `{"reason":"test"}`, all[1].Payload)

	latest, err = r.LatestChangeTS(ctx)
	require.NoError(t, err)
	assert.True(t, latest.Equal(base.Add(time.Second)))
}

func TestAppendStampsIncreaseWhenClockStalls(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	clock := base
	w := journal.Writer{Now: func() time.Time { return clock }}

	var stamps []int64
	for _, step := range []time.Duration{0, 0, -time.Hour} {
		clock = clock.Add(step)
		inTx(t, r, func(tx *sql.Tx) {
			ts, err := w.Append(ctx, tx, journal.KindUpserted, "a", "", nil)
			require.NoError(t, err)
			stamps = append(stamps, ts)
		})
	}
	assert.Equal(t, []int64{base.UnixNano(), base.UnixNano() + 1, base.UnixNano() + 2}, stamps)

	latest, err := r.LatestChangeTS(ctx)
	require.NoError(t, err)
	assert.Equal(t, base.UnixNano()+2, latest.UnixNano())
}

func TestLineCursor(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	cur, err := r.LineCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cur)
	inTx(t, r, func(tx *sql.Tx) { require.NoError(t, r.SetLineCursorTx(ctx, tx, 4)) })
	inTx(t, r, func(tx *sql.Tx) { require.NoError(t, r.SetLineCursorTx(ctx, tx, 5)) })
	cur, err = r.LineCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, cur)
}
