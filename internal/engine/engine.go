package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"masterplan/internal/calendar"
	"masterplan/internal/config"
	"masterplan/internal/domain"
	"masterplan/internal/ingest"
	"masterplan/internal/journal"
	"masterplan/internal/logger"
	"masterplan/internal/metrics"
	"masterplan/internal/planner"
	"masterplan/internal/repo"
	"masterplan/internal/scheduler"
)

// ErrInvalid marks input the caller must fix.
var ErrInvalid = errors.New("invalid input")

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Journal journal.Writer
	Config  *config.Config
	Log     logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// Suffix overrides the random tail of repaired event ids.
	Suffix calendar.SuffixFunc
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Journal: journal.Writer{},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logger.Logger {
	return logger.OrNop(e.Log)
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) journal() journal.Writer {
	w := e.Journal
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) repairer() calendar.Repairer {
	return calendar.Repairer{Now: e.now, Suffix: e.Suffix, Log: e.Log}
}

// PlanOptions control a planning run.
type PlanOptions struct {
	// Epoch is the earliest start; zero means now.
	Epoch time.Time
	// Save stores the planned events as the authoritative collection.
	Save bool
	// Keep preserves stored events whose ids the plan does not produce.
	Keep    bool
	ActorID string
}

// PlanResult is the output of a planning run.
type PlanResult struct {
	Report      ingest.Report          `json:"report"`
	Tasks       []domain.ProcessTask   `json:"tasks"`
	Events      []domain.CalendarEvent `json:"events"`
	Unresolved  []scheduler.Unresolved `json:"unresolved,omitempty"`
	Corrections []calendar.Correction  `json:"corrections,omitempty"`
	LineCursor  int                    `json:"line_cursor"`
	Saved       bool                   `json:"saved"`
}

// Plan normalizes rows, builds the task graphs, schedules them and projects
// the result to calendar events. The assembly line rotation continues from
// the stored cursor when a database is attached.
func (e Engine) Plan(ctx context.Context, rows []ingest.Row, opts PlanOptions) (PlanResult, error) {
	cfg := e.config()
	loc, err := cfg.Location()
	if err != nil {
		return PlanResult{}, err
	}
	epoch := opts.Epoch
	if epoch.IsZero() {
		epoch = e.now()
	}

	records, report := ingest.Normalizer{Location: loc, Log: e.Log}.NormalizeAll(rows)
	e.Metrics.PlanRows(report.Accepted, report.Skipped)

	cursor := 0
	if e.DB != nil {
		if cursor, err = e.Repo.LineCursor(ctx); err != nil {
			return PlanResult{}, fmt.Errorf("read line cursor: %w", err)
		}
	}
	pool := planner.NewResourcePool(cfg.Resources.Machines, cfg.Resources.Lines, cursor)
	graphs, pool := planner.Builder{Now: e.now, Log: e.Log}.BuildAll(records, pool)

	sched := scheduler.Scheduler{
		Calendar: scheduler.WorkCalendar{Location: loc, StartHour: cfg.Calendar.StartHour, EndHour: cfg.Calendar.EndHour},
		Strict:   cfg.Schedule.StrictDependencies,
		Log:      e.Log,
	}
	res, err := sched.Schedule(planner.Flatten(graphs), epoch)
	if err != nil {
		return PlanResult{}, err
	}
	events, fixes := e.repairer().Repair(calendar.Project(res.Tasks))
	e.Metrics.IdentityRepairs(len(fixes))

	out := PlanResult{
		Report:      report,
		Tasks:       res.Tasks,
		Events:      events,
		Unresolved:  res.Unresolved,
		Corrections: fixes,
		LineCursor:  pool.Cursor(),
	}
	e.log().Infof("planned %d items into %d tasks", len(graphs), len(res.Tasks))
	if !opts.Save {
		return out, nil
	}
	if e.DB == nil {
		return PlanResult{}, errors.New("no database attached")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return PlanResult{}, err
	}
	defer tx.Rollback()
	stored := events
	if opts.Keep {
		existing, err := e.Repo.ListEventsTx(ctx, tx)
		if err != nil {
			return PlanResult{}, err
		}
		if stored, err = calendar.Merge(calendar.ModeMerge, existing, events); err != nil {
			return PlanResult{}, err
		}
		stored, _ = e.repairer().Repair(stored)
	}
	if err := e.Repo.ReplaceEventsTx(ctx, tx, stored, e.now()); err != nil {
		return PlanResult{}, err
	}
	if err := e.Repo.SetLineCursorTx(ctx, tx, pool.Cursor()); err != nil {
		return PlanResult{}, fmt.Errorf("store line cursor: %w", err)
	}
	if _, err := e.journal().Append(ctx, tx, journal.KindPlanned, "", opts.ActorID, journal.Payload{
		"items": len(graphs), "tasks": len(res.Tasks), "skipped": report.Skipped, "events": len(stored),
	}); err != nil {
		return PlanResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return PlanResult{}, err
	}
	e.Metrics.EventsStored(len(stored))
	out.Saved = true
	return out, nil
}

// ListEvents returns the stored collection.
func (e Engine) ListEvents(ctx context.Context) ([]domain.CalendarEvent, error) {
	return e.Repo.ListEvents(ctx)
}

// ReplaceEvents overwrites the stored collection after repairing duplicate
// ids. It returns the collection as stored.
func (e Engine) ReplaceEvents(ctx context.Context, events []domain.CalendarEvent, actorID string) ([]domain.CalendarEvent, []calendar.Correction, error) {
	for i, ev := range events {
		if strings.TrimSpace(ev.ID) == "" {
			return nil, nil, fmt.Errorf("%w: event %d has no id", ErrInvalid, i)
		}
	}
	repaired, fixes := e.repairer().Repair(events)
	e.Metrics.IdentityRepairs(len(fixes))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceEventsTx(ctx, tx, repaired, e.now()); err != nil {
		return nil, nil, err
	}
	if _, err := e.journal().Append(ctx, tx, journal.KindReplaced, "", actorID, journal.Payload{
		"count": len(repaired), "corrections": len(fixes),
	}); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	e.Metrics.EventsStored(len(repaired))
	return repaired, fixes, nil
}

// UpsertEvent stores a single event, replacing any event with the same id.
func (e Engine) UpsertEvent(ctx context.Context, ev domain.CalendarEvent, actorID string) (domain.CalendarEvent, error) {
	if strings.TrimSpace(ev.ID) == "" {
		return domain.CalendarEvent{}, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if !ev.End.IsZero() && ev.End.Before(ev.Start) {
		return domain.CalendarEvent{}, fmt.Errorf("%w: end before start", ErrInvalid)
	}
	ev.DependencyCount = len(ev.Dependencies)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CalendarEvent{}, err
	}
	defer tx.Rollback()
	existed, err := e.Repo.UpsertEventTx(ctx, tx, ev, e.now())
	if err != nil {
		return domain.CalendarEvent{}, err
	}
	if _, err := e.journal().Append(ctx, tx, journal.KindUpserted, ev.ID, actorID, journal.Payload{
		"created": !existed, "start": ev.Start, "end": ev.End,
	}); err != nil {
		return domain.CalendarEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CalendarEvent{}, err
	}
	return ev, nil
}

// DeleteEvent removes an event. Unknown ids yield repo.ErrNotFound.
func (e Engine) DeleteEvent(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteEventTx(ctx, tx, id); err != nil {
		return err
	}
	if _, err := e.journal().Append(ctx, tx, journal.KindDeleted, id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Sync answers a delta fetch. When anything changed after since the full
// collection is returned; otherwise the event list is empty. ServerTime is the
// newest journal timestamp in the same read snapshot as the collection, never
// earlier than since. Journal entries are stamped in commit order, so a write
// still in flight during this read gets a later stamp and is reported by the
// next fetch.
func (e Engine) Sync(ctx context.Context, since time.Time) (domain.SyncResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SyncResult{}, err
	}
	defer tx.Rollback()
	latest, err := e.Repo.LatestChangeTSTx(ctx, tx)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("check changes: %w", err)
	}
	changed := !latest.IsZero() && (since.IsZero() || latest.UnixNano() > since.UnixNano())
	res := domain.SyncResult{ServerTime: since.UTC(), Events: []domain.CalendarEvent{}}
	e.Metrics.SyncRequest(changed)
	if !changed {
		return res, nil
	}
	events, err := e.Repo.ListEventsTx(ctx, tx)
	if err != nil {
		return domain.SyncResult{}, err
	}
	res.Events = events
	res.ServerTime = latest
	res.HasChanges = true
	return res, nil
}

// Changes returns journal entries newer than since.
func (e Engine) Changes(ctx context.Context, since time.Time, limit int) ([]domain.Change, error) {
	return e.Repo.ChangesSince(ctx, since, limit)
}

// Health pings the database.
func (e Engine) Health(ctx context.Context) error {
	if e.DB == nil {
		return errors.New("no database attached")
	}
	return e.Repo.Ping(ctx)
}
