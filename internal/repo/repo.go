package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"masterplan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func scanEvent(scan func(dest ...any) error) (domain.CalendarEvent, error) {
	var (
		ev      domain.CalendarEvent
		payload string
	)
	if err := scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return ev, ErrNotFound
		}
		return ev, err
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode event payload: %w", err)
	}
	return ev, nil
}

// ListEvents returns the stored collection in collection order.
func (r Repo) ListEvents(ctx context.Context) ([]domain.CalendarEvent, error) {
	return r.ListEventsTx(ctx, nil)
}

func (r Repo) ListEventsTx(ctx context.Context, tx *sql.Tx) ([]domain.CalendarEvent, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT payload_json FROM calendar_events ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.CalendarEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.CalendarEvent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT payload_json FROM calendar_events WHERE id=?`, id)
	return scanEvent(row.Scan)
}

// CountEvents returns the size of the stored collection.
func (r Repo) CountEvents(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM calendar_events`).Scan(&n)
	return n, err
}

// ReplaceEventsTx overwrites the whole collection. Ids must be unique.
func (r Repo) ReplaceEventsTx(ctx context.Context, tx *sql.Tx, events []domain.CalendarEvent, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_events`); err != nil {
		return err
	}
	for i, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO calendar_events(id,position,start_at,payload_json,updated_at) VALUES (?,?,?,?,?)`,
			ev.ID, i, formatTime(ev.Start), string(data), at.UnixNano()); err != nil {
			return fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// UpsertEventTx replaces an event in place or appends it to the collection.
// It reports whether the event already existed.
func (r Repo) UpsertEventTx(ctx context.Context, tx *sql.Tx, ev domain.CalendarEvent, at time.Time) (bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE calendar_events SET start_at=?, payload_json=?, updated_at=? WHERE id=?`,
		formatTime(ev.Start), string(data), at.UnixNano(), ev.ID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO calendar_events(id,position,start_at,payload_json,updated_at)
		VALUES (?, (SELECT COALESCE(MAX(position),-1)+1 FROM calendar_events), ?, ?, ?)`,
		ev.ID, formatTime(ev.Start), string(data), at.UnixNano())
	return false, err
}

func (r Repo) DeleteEventTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM calendar_events WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ChangesSince returns journal entries newer than since, oldest first.
func (r Repo) ChangesSince(ctx context.Context, since time.Time, limit int) ([]domain.Change, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,kind,COALESCE(event_id,''),actor_id,payload_json FROM changes WHERE ts > ? ORDER BY id ASC LIMIT ?`,
		sinceNanos(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Change
	for rows.Next() {
		var c domain.Change
		if err := rows.Scan(&c.ID, &c.TS, &c.Kind, &c.EventID, &c.ActorID, &c.Payload); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// LatestChangeTS returns the newest journal timestamp, zero when empty.
func (r Repo) LatestChangeTS(ctx context.Context) (time.Time, error) {
	return r.LatestChangeTSTx(ctx, nil)
}

func (r Repo) LatestChangeTSTx(ctx context.Context, tx *sql.Tx) (time.Time, error) {
	var ts sql.NullInt64
	if err := r.q(tx).QueryRowContext(ctx, `SELECT MAX(ts) FROM changes`).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ts.Int64).UTC(), nil
}

const lineCursorKey = "assembly_line_cursor"

// LineCursor returns the persisted assembly line rotation index.
func (r Repo) LineCursor(ctx context.Context) (int, error) {
	var v int
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM planner_state WHERE key=?`, lineCursorKey).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

func (r Repo) SetLineCursorTx(ctx context.Context, tx *sql.Tx, cursor int) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO planner_state(key,value) VALUES (?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, lineCursorKey, cursor)
	return err
}

// Ping checks database connectivity.
func (r Repo) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func sinceNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
