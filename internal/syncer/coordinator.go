package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"masterplan/internal/calendar"
	"masterplan/internal/domain"
	"masterplan/internal/logger"
	"masterplan/internal/metrics"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultCooldown       = 2 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Source answers delta fetches against the authoritative copy.
type Source interface {
	Sync(ctx context.Context, since time.Time) (domain.SyncResult, error)
}

// Persister stores the local collection. Load returns nil when nothing has
// been persisted.
type Persister interface {
	Load(ctx context.Context) ([]domain.CalendarEvent, error)
	Save(ctx context.Context, events []domain.CalendarEvent) error
}

// Writer pushes local mutations to the authoritative copy.
type Writer interface {
	UpdateEvent(ctx context.Context, ev domain.CalendarEvent) (domain.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Outcome describes what one poll did.
type Outcome string

const (
	Applied    Outcome = "applied"
	NoChanges  Outcome = "no_changes"
	Suppressed Outcome = "suppressed"
	Failed     Outcome = "failed"
	Skipped    Outcome = "skipped"
	Discarded  Outcome = "discarded"
)

var ErrEventNotFound = errors.New("event not found")

type Options struct {
	Interval       time.Duration
	Cooldown       time.Duration
	RequestTimeout time.Duration
	Mode           calendar.MergeMode
	Now            func() time.Time
	Log            logger.Logger
	Metrics        *metrics.Metrics
	// OnChange is called with a copy of the collection after every applied
	// poll and local mutation.
	OnChange func([]domain.CalendarEvent)
}

// Coordinator reconciles a local event collection with a remote one on a
// fixed interval.
type Coordinator struct {
	source Source
	store  Persister
	writer Writer
	opts   Options
	log    logger.Logger

	cooldown *Cooldown
	inFlight atomic.Bool
	gen      atomic.Uint64

	mu     sync.Mutex
	events []domain.CalendarEvent
	since  time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a coordinator. store and writer may be nil.
func New(source Source, store Persister, writer Writer, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Mode == "" {
		opts.Mode = calendar.ModeMerge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		source:   source,
		store:    store,
		writer:   writer,
		opts:     opts,
		log:      logger.OrNop(opts.Log),
		cooldown: NewCooldown(opts.Cooldown, opts.Now),
		events:   []domain.CalendarEvent{},
	}
}

// Cooldown exposes the edit cooldown shared with the host.
func (c *Coordinator) Cooldown() *Cooldown {
	return c.cooldown
}

// Events returns a copy of the local collection.
func (c *Coordinator) Events() []domain.CalendarEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.CalendarEvent{}, c.events...)
}

// Since is the server time of the last accepted poll.
func (c *Coordinator) Since() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since
}

func (c *Coordinator) repairer() calendar.Repairer {
	return calendar.Repairer{Now: c.opts.Now, Log: c.opts.Log}
}

// SetEvents replaces the local collection, repairing duplicate ids.
func (c *Coordinator) SetEvents(events []domain.CalendarEvent) {
	repaired, fixes := c.repairer().Repair(events)
	c.opts.Metrics.IdentityRepairs(len(fixes))
	c.mu.Lock()
	c.events = repaired
	snapshot := append([]domain.CalendarEvent{}, repaired...)
	c.mu.Unlock()
	c.notify(snapshot)
}

// Restore loads the persisted collection. Persistence failures are logged and
// leave the collection untouched. It reports whether anything was loaded.
func (c *Coordinator) Restore(ctx context.Context) bool {
	if c.store == nil {
		return false
	}
	events, err := c.store.Load(ctx)
	if err != nil {
		c.log.Warnf("restore events: %v", err)
		return false
	}
	if events == nil {
		return false
	}
	c.SetEvents(events)
	c.log.Infof("restored %d events", len(events))
	return true
}

// Start begins polling: once immediately, then every interval. Polls run in
// their own goroutine so a slow request makes the next tick skip rather than
// queue. Calling Start on a running coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	gen := c.gen.Load()
	go c.run(loopCtx, gen, c.done)
}

func (c *Coordinator) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	tick := func() {
		// In-flight requests outlive Stop; their results are discarded.
		reqCtx := context.WithoutCancel(ctx)
		go c.poll(reqCtx, gen)
	}
	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Stop halts the interval. A poll already in flight is not aborted, but its
// result will not be applied.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.gen.Add(1)
	c.runMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Poll runs one delta fetch and applies its result.
func (c *Coordinator) Poll(ctx context.Context) Outcome {
	return c.poll(ctx, c.gen.Load())
}

func (c *Coordinator) poll(ctx context.Context, gen uint64) Outcome {
	out := c.pollOnce(ctx, gen)
	c.opts.Metrics.SyncPoll(string(out))
	return out
}

func (c *Coordinator) pollOnce(ctx context.Context, gen uint64) Outcome {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.Debugf("sync: poll in flight, skipping tick")
		return Skipped
	}
	defer c.inFlight.Store(false)

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	res, err := c.source.Sync(reqCtx, c.Since())
	if err != nil {
		c.log.Warnf("sync: fetch failed: %v", err)
		return Failed
	}
	if c.gen.Load() != gen {
		c.log.Debugf("sync: result arrived after stop, discarding")
		return Discarded
	}

	c.mu.Lock()
	if !res.HasChanges {
		c.since = res.ServerTime
		c.mu.Unlock()
		return NoChanges
	}
	if left := c.cooldown.Remaining(); left > 0 {
		c.mu.Unlock()
		c.log.Debugf("sync: local edit pending, holding remote changes for %s", left)
		return Suppressed
	}
	merged, err := calendar.Merge(c.opts.Mode, c.events, res.Events)
	if err != nil {
		c.mu.Unlock()
		c.log.Errorf("sync: %v", err)
		return Failed
	}
	merged, fixes := c.repairer().Repair(merged)
	c.events = merged
	c.since = res.ServerTime
	snapshot := append([]domain.CalendarEvent{}, merged...)
	c.mu.Unlock()

	c.opts.Metrics.IdentityRepairs(len(fixes))
	c.log.Debugf("sync: applied %d remote events, %d local", len(res.Events), len(snapshot))
	c.persist(ctx, snapshot)
	c.notify(snapshot)
	return Applied
}

// Edit replaces the local event with ev's id and pushes it to the writer.
func (c *Coordinator) Edit(ctx context.Context, ev domain.CalendarEvent) error {
	c.mu.Lock()
	idx := c.indexOf(ev.ID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEventNotFound, ev.ID)
	}
	c.cooldown.Mark()
	c.events[idx] = ev
	snapshot := append([]domain.CalendarEvent{}, c.events...)
	c.mu.Unlock()
	return c.afterMutation(ctx, snapshot, func(w Writer) error {
		_, err := w.UpdateEvent(ctx, ev)
		return err
	})
}

// Add appends ev, assigning an id when it has none, and returns the stored
// event.
func (c *Coordinator) Add(ctx context.Context, ev domain.CalendarEvent) (domain.CalendarEvent, error) {
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()
	}
	c.mu.Lock()
	c.cooldown.Mark()
	if c.indexOf(ev.ID) >= 0 {
		repaired, _ := c.repairer().Repair(append(append([]domain.CalendarEvent{}, c.events...), ev))
		ev = repaired[len(repaired)-1]
	}
	c.events = append(c.events, ev)
	snapshot := append([]domain.CalendarEvent{}, c.events...)
	c.mu.Unlock()
	return ev, c.afterMutation(ctx, snapshot, func(w Writer) error {
		_, err := w.UpdateEvent(ctx, ev)
		return err
	})
}

// Remove deletes the local event with id and pushes the deletion.
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	c.cooldown.Mark()
	c.events = append(c.events[:idx:idx], c.events[idx+1:]...)
	snapshot := append([]domain.CalendarEvent{}, c.events...)
	c.mu.Unlock()
	return c.afterMutation(ctx, snapshot, func(w Writer) error {
		return w.DeleteEvent(ctx, id)
	})
}

// indexOf must be called with mu held.
func (c *Coordinator) indexOf(id string) int {
	for i, ev := range c.events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

func (c *Coordinator) afterMutation(ctx context.Context, snapshot []domain.CalendarEvent, push func(Writer) error) error {
	c.persist(ctx, snapshot)
	c.notify(snapshot)
	if c.writer == nil {
		return nil
	}
	if err := push(c.writer); err != nil {
		c.log.Warnf("sync: push local change: %v", err)
		return fmt.Errorf("push local change: %w", err)
	}
	return nil
}

func (c *Coordinator) persist(ctx context.Context, events []domain.CalendarEvent) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, events); err != nil {
		c.log.Warnf("sync: persist events: %v", err)
	}
}

func (c *Coordinator) notify(events []domain.CalendarEvent) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(events)
	}
}
