package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterplan/internal/cache"
	"masterplan/internal/calendar"
	"masterplan/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSource answers every fetch with result. When gate is set, each fetch
// signals entered and waits for a value on gate.
type fakeSource struct {
	mu      sync.Mutex
	result  domain.SyncResult
	err     error
	calls   []time.Time
	entered chan struct{}
	gate    chan struct{}
}

func (s *fakeSource) Sync(ctx context.Context, since time.Time) (domain.SyncResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, since)
	entered, gate := s.entered, s.gate
	res, err := s.result, s.err
	s.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return res, err
}

func (s *fakeSource) Calls() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

type fakeWriter struct {
	mu      sync.Mutex
	updated []string
	deleted []string
	err     error
}

func (w *fakeWriter) UpdateEvent(ctx context.Context, ev domain.CalendarEvent) (domain.CalendarEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updated = append(w.updated, ev.ID)
	return ev, w.err
}

func (w *fakeWriter) DeleteEvent(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deleted = append(w.deleted, id)
	return w.err
}

func ids(events []domain.CalendarEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func remote(serverTime time.Time, evs ...string) domain.SyncResult {
	res := domain.SyncResult{ServerTime: serverTime, HasChanges: true}
	for _, id := range evs {
		res.Events = append(res.Events, domain.CalendarEvent{ID: id, Title: "remote " + id})
	}
	return res
}

func newTestCoordinator(src Source, store Persister, w Writer, clock *fakeClock, mode calendar.MergeMode) *Coordinator {
	return New(src, store, w, Options{
		Interval: time.Hour,
		Cooldown: 2 * time.Second,
		Mode:     mode,
		Now:      clock.Now,
	})
}

func TestCooldownSuppressesThenApplies(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	serverTime := clock.Now().Add(time.Minute)
	src := &fakeSource{result: remote(serverTime, "a", "r")}
	c := newTestCoordinator(src, nil, nil, clock, calendar.ModeMerge)
	c.SetEvents([]domain.CalendarEvent{{ID: "a", Title: "local a"}, {ID: "l"}})

	require.NoError(t, c.Edit(ctx, domain.CalendarEvent{ID: "a", Title: "dragged"}))
	clock.Advance(time.Second)
	assert.Equal(t, Suppressed, c.Poll(ctx))
	assert.Equal(t, []string{"a", "l"}, ids(c.Events()))
	assert.Equal(t, "dragged", c.Events()[0].Title)
	assert.True(t, c.Since().IsZero(), "suppressed result must not advance since")

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, Applied, c.Poll(ctx))
	assert.Equal(t, []string{"a", "r", "l"}, ids(c.Events()))
	assert.Equal(t, "remote a", c.Events()[0].Title)
	assert.Equal(t, serverTime, c.Since())
}

func TestReplaceModeDropsLocalOnly(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	src := &fakeSource{result: remote(clock.Now(), "r1", "r2")}
	c := newTestCoordinator(src, nil, nil, clock, calendar.ModeReplace)
	c.SetEvents([]domain.CalendarEvent{{ID: "local"}})

	assert.Equal(t, Applied, c.Poll(ctx))
	assert.Equal(t, []string{"r1", "r2"}, ids(c.Events()))
}

func TestNoChangesAdvancesSince(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	st := clock.Now().Add(time.Second)
	src := &fakeSource{result: domain.SyncResult{ServerTime: st, HasChanges: false}}
	c := newTestCoordinator(src, nil, nil, clock, calendar.ModeMerge)
	c.SetEvents([]domain.CalendarEvent{{ID: "keep"}})

	assert.Equal(t, NoChanges, c.Poll(ctx))
	assert.Equal(t, st, c.Since())
	assert.Equal(t, []string{"keep"}, ids(c.Events()))

	c.Poll(ctx)
	calls := src.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].IsZero())
	assert.Equal(t, st, calls[1])
}

func TestFetchFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	src := &fakeSource{err: errors.New("connection refused")}
	c := newTestCoordinator(src, nil, nil, clock, calendar.ModeMerge)
	c.SetEvents([]domain.CalendarEvent{{ID: "x"}})

	assert.Equal(t, Failed, c.Poll(ctx))
	assert.Equal(t, []string{"x"}, ids(c.Events()))
	assert.True(t, c.Since().IsZero())
}

func TestConcurrentPollIsSkipped(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	src := &fakeSource{result: remote(clock.Now(), "r"), entered: make(chan struct{}), gate: make(chan struct{})}
	c := newTestCoordinator(src, nil, nil, clock, calendar.ModeMerge)

	first := make(chan Outcome, 1)
	go func() { first <- c.Poll(ctx) }()
	<-src.entered

	assert.Equal(t, Skipped, c.Poll(ctx))
	close(src.gate)
	assert.Equal(t, Applied, <-first)
	assert.Len(t, src.Calls(), 1)
}

func TestResultAfterStopIsDiscarded(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	src := &fakeSource{result: remote(clock.Now(), "late"), entered: make(chan struct{}), gate: make(chan struct{})}
	c := newTestCoordinator(src, nil, nil, clock, calendar.ModeMerge)
	c.SetEvents([]domain.CalendarEvent{{ID: "x"}})

	done := make(chan Outcome, 1)
	go func() { done <- c.Poll(ctx) }()
	<-src.entered
	c.Stop()
	close(src.gate)

	assert.Equal(t, Discarded, <-done)
	assert.Equal(t, []string{"x"}, ids(c.Events()))
}

func TestStartPollsImmediately(t *testing.T) {
	clock := newClock()
	src := &fakeSource{result: remote(clock.Now(), "r")}
	var (
		mu      sync.Mutex
		changes int
	)
	c := New(src, nil, nil, Options{
		Interval: time.Hour,
		Now:      clock.Now,
		OnChange: func([]domain.CalendarEvent) {
			mu.Lock()
			changes++
			mu.Unlock()
		},
	})
	c.Start(context.Background())
	c.Start(context.Background())
	defer c.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return changes == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"r"}, ids(c.Events()))
	assert.Len(t, src.Calls(), 1)
}

func TestStopWithoutStart(t *testing.T) {
	c := New(&fakeSource{}, nil, nil, Options{})
	assert.NotPanics(t, c.Stop)
}

func TestMergeRepairsDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	res := remote(clock.Now(), "dup", "dup")
	src := &fakeSource{result: res}
	c := newTestCoordinator(src, nil, nil, clock, calendar.ModeMerge)

	assert.Equal(t, Applied, c.Poll(ctx))
	got := ids(c.Events())
	require.Len(t, got, 2)
	assert.Equal(t, "dup", got[0])
	assert.NotEqual(t, "dup", got[1])
}

func TestRestoreAndPersist(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := &cache.Memory{}
	require.NoError(t, store.Save(ctx, []domain.CalendarEvent{{ID: "s"}, {ID: "s"}}))

	src := &fakeSource{result: remote(clock.Now(), "r")}
	c := newTestCoordinator(src, store, nil, clock, calendar.ModeMerge)
	assert.True(t, c.Restore(ctx))
	got := ids(c.Events())
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0], got[1])

	assert.Equal(t, Applied, c.Poll(ctx))
	saved, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids(c.Events()), ids(saved))

	empty := newTestCoordinator(src, &cache.Memory{}, nil, clock, calendar.ModeMerge)
	assert.False(t, empty.Restore(ctx))
}

func TestLocalMutationsPushToWriter(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	w := &fakeWriter{}
	store := &cache.Memory{}
	c := newTestCoordinator(&fakeSource{}, store, w, clock, calendar.ModeMerge)
	c.SetEvents([]domain.CalendarEvent{{ID: "a"}})

	added, err := c.Add(ctx, domain.CalendarEvent{Title: "new"})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.True(t, c.Cooldown().Active())

	dup, err := c.Add(ctx, domain.CalendarEvent{ID: "a"})
	require.NoError(t, err)
	assert.NotEqual(t, "a", dup.ID)

	require.NoError(t, c.Edit(ctx, domain.CalendarEvent{ID: "a", Title: "edited"}))
	require.NoError(t, c.Remove(ctx, added.ID))
	assert.ErrorIs(t, c.Remove(ctx, "missing"), ErrEventNotFound)
	assert.ErrorIs(t, c.Edit(ctx, domain.CalendarEvent{ID: "missing"}), ErrEventNotFound)

	assert.Equal(t, []string{"a", dup.ID}, ids(c.Events()))
	assert.Equal(t, []string{added.ID, dup.ID, "a"}, w.updated)
	assert.Equal(t, []string{added.ID}, w.deleted)
	saved, _ := store.Load(ctx)
	assert.Equal(t, ids(c.Events()), ids(saved))

	w.err = errors.New("offline")
	err = c.Edit(ctx, domain.CalendarEvent{ID: "a", Title: "offline edit"})
	assert.Error(t, err)
	assert.Equal(t, "offline edit", c.Events()[0].Title)
}

func TestCooldownWindow(t *testing.T) {
	clock := newClock()
	cd := NewCooldown(2*time.Second, clock.Now)
	assert.False(t, cd.Active())
	cd.Mark()
	assert.True(t, cd.Active())
	assert.Equal(t, 2*time.Second, cd.Remaining())
	clock.Advance(1900 * time.Millisecond)
	assert.True(t, cd.Active())
	clock.Advance(100 * time.Millisecond)
	assert.False(t, cd.Active())
	cd.Mark()
	cd.Clear()
	assert.False(t, cd.Active())
}
