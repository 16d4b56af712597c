package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/metrics"
	"VaultKeeper/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestScheduler(store Store, run CycleFunc) *Scheduler {
	s := New(store, 24*time.Hour, run)
	s.Metrics = metrics.New()
	return s
}

func TestOneShot(t *testing.T) {
	at := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)
	o := &oneShot{at: at}
	assert.Equal(t, at, o.Next(at.Add(-time.Hour)))
	assert.True(t, o.Next(at.Add(-time.Hour)).IsZero())

	late := &oneShot{at: at}
	now := at.Add(time.Minute)
	assert.Equal(t, now, late.Next(now))
}

func TestLoadOrInit(t *testing.T) {
	now := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		store *MemStore
		due   bool
	}{
		{"missing", NewMemStore(nil), true},
		{"past", NewMemStore(&model.ScheduleState{NextRun: now.Add(-time.Minute)}), true},
		{"exactly now", NewMemStore(&model.ScheduleState{NextRun: now}), true},
		{"future", NewMemStore(&model.ScheduleState{NextRun: now.Add(time.Hour)}), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestScheduler(tc.store, nil)
			s.now = func() time.Time { return now }
			due, err := s.LoadOrInit(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.due, due)
		})
	}
}

type brokenStore struct{ MemStore }

func (b *brokenStore) Load(context.Context) (model.ScheduleState, error) {
	return model.ScheduleState{}, errors.New("permission denied")
}

func TestLoadOrInit_ReadErrorIsFatal(t *testing.T) {
	s := newTestScheduler(&brokenStore{}, nil)
	_, err := s.LoadOrInit(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}

type corruptStore struct{ MemStore }

func (c *corruptStore) Load(context.Context) (model.ScheduleState, error) {
	return model.ScheduleState{}, model.ErrCorruptState
}

func TestLoadOrInit_CorruptRunsImmediately(t *testing.T) {
	s := newTestScheduler(&corruptStore{}, nil)
	due, err := s.LoadOrInit(context.Background())
	require.NoError(t, err)
	assert.True(t, due)
	assert.True(t, s.State().IsZero())
}

func TestScheduleNext(t *testing.T) {
	s := newTestScheduler(NewMemStore(nil), nil)
	s.state = model.ScheduleState{CycleCount: 4}
	from := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)

	next := s.ScheduleNext(from)
	assert.Equal(t, from, next.PreviousRun)
	assert.Equal(t, from.Add(24*time.Hour), next.NextRun)
	assert.Equal(t, 5, next.CycleCount)
	assert.Equal(t, 4, s.State().CycleCount, "ScheduleNext must not mutate state")
}

func TestRunCycleNow_SlowCycleDoesNotDrift(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)}
	fired := clock.Now()
	store := NewMemStore(nil)

	var got model.Cycle
	s := newTestScheduler(store, func(_ context.Context, c model.Cycle) error {
		got = c
		clock.Advance(3*time.Hour + 17*time.Minute)
		return nil
	})
	s.now = clock.Now

	require.NoError(t, s.RunCycleNow(context.Background()))

	st := s.State()
	assert.Equal(t, fired, st.PreviousRun)
	assert.Equal(t, 24*time.Hour, st.NextRun.Sub(st.PreviousRun))
	assert.Equal(t, 1, st.CycleCount)
	assert.Equal(t, 0, got.Number)
	assert.Equal(t, st, got.Schedule)
	assert.Equal(t, st.NextRun, s.ArmedAt())

	stored, ok := store.Stored()
	require.True(t, ok)
	assert.Equal(t, st, stored)
}

func TestRunCycleNow_PartialFailureStillPersists(t *testing.T) {
	store := NewMemStore(nil)
	s := newTestScheduler(store, func(context.Context, model.Cycle) error {
		return errors.New("2 of 5 accounts failed")
	})

	err := s.RunCycleNow(context.Background())
	assert.Error(t, err)
	_, ok := store.Stored()
	assert.True(t, ok)
	assert.Equal(t, 1, s.State().CycleCount)
}

func TestRunCycleNow_PanicStillArms(t *testing.T) {
	s := newTestScheduler(NewMemStore(nil), func(context.Context, model.Cycle) error {
		panic("boom")
	})
	err := s.RunCycleNow(context.Background())
	assert.ErrorContains(t, err, "panicked")
	assert.False(t, s.ArmedAt().IsZero())
}

func TestPersistFailureRetriedNextCycle(t *testing.T) {
	store := NewMemStore(nil)
	store.FailSaves = 1
	var runsSeen []int
	s := newTestScheduler(store, func(_ context.Context, c model.Cycle) error {
		saved, _ := store.Stored()
		runsSeen = append(runsSeen, saved.CycleCount)
		return nil
	})

	require.NoError(t, s.RunCycleNow(context.Background()))
	assert.True(t, s.PendingWrite())
	_, ok := store.Stored()
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics.PersistFailures))
	assert.False(t, s.ArmedAt().IsZero(), "timer is armed from memory even when the write fails")

	require.NoError(t, s.RunCycleNow(context.Background()))
	assert.False(t, s.PendingWrite())
	// The pending write landed before the second cycle ran.
	assert.Equal(t, []int{0, 1}, runsSeen)
	stored, _ := store.Stored()
	assert.Equal(t, 2, stored.CycleCount)
}

func TestStart_FutureArmsWithoutRunning(t *testing.T) {
	now := time.Now()
	next := now.Add(time.Hour)
	var runs atomic.Int32
	s := newTestScheduler(NewMemStore(&model.ScheduleState{PreviousRun: next.Add(-24 * time.Hour), NextRun: next, CycleCount: 2}),
		func(context.Context, model.Cycle) error { runs.Add(1); return nil })

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, next, s.ArmedAt())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
}

func TestStart_PastRunsImmediately(t *testing.T) {
	var runs atomic.Int32
	store := NewMemStore(&model.ScheduleState{NextRun: time.Now().Add(-48 * time.Hour), CycleCount: 7})
	s := newTestScheduler(store, func(context.Context, model.Cycle) error { runs.Add(1); return nil })

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		st, ok := store.Stored()
		return ok && st.CycleCount == 8
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	st := s.State()
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), st.NextRun, 5*time.Second)
}

func TestStart_TimerFiresAtArmedInstant(t *testing.T) {
	at := time.Now().Add(300 * time.Millisecond)
	store := NewMemStore(&model.ScheduleState{PreviousRun: at.Add(-24 * time.Hour), NextRun: at, CycleCount: 1})

	firedAt := make(chan time.Time, 1)
	s := newTestScheduler(store, func(_ context.Context, c model.Cycle) error {
		firedAt <- time.Now()
		return nil
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case wall := <-firedAt:
		assert.False(t, wall.Before(at), "fired early")
		assert.WithinDuration(t, at, wall, 1500*time.Millisecond)
	case <-time.After(3 * time.Second):
		t.Fatal("timer never fired")
	}

	require.Eventually(t, func() bool { return s.State().CycleCount == 2 }, time.Second, 10*time.Millisecond)
	st := s.State()
	assert.True(t, st.PreviousRun.Equal(at))
	assert.True(t, st.NextRun.Equal(at.Add(24*time.Hour)))
	assert.True(t, s.ArmedAt().Equal(st.NextRun))
}

func TestRunCycleNow_SupersedesArmedTimer(t *testing.T) {
	var runs atomic.Int32
	at := time.Now().Add(200 * time.Millisecond)
	s := newTestScheduler(NewMemStore(&model.ScheduleState{NextRun: at}), func(context.Context, model.Cycle) error {
		runs.Add(1)
		time.Sleep(400 * time.Millisecond)
		return nil
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.NoError(t, s.RunCycleNow(context.Background()))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 1, s.State().CycleCount)
}

func TestCommands(t *testing.T) {
	var runs atomic.Int32
	s := newTestScheduler(NewMemStore(nil), func(context.Context, model.Cycle) error { runs.Add(1); return nil })
	c := &Commands{Scheduler: s, LastReport: func() *model.Report { return nil }}

	assert.Contains(t, c.Handle(context.Background(), "/status"), "Cycles completed: 0")
	assert.Equal(t, "No cycle has completed since start.", c.Handle(context.Background(), "/last"))
	assert.True(t, strings.HasPrefix(c.Handle(context.Background(), "hello"), "Available commands"))

	assert.Equal(t, "Cycle started.", c.Handle(context.Background(), "/run@vault_bot"))
	require.Eventually(t, func() bool { return s.State().CycleCount == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestStop_WaitsForManualCycle(t *testing.T) {
	next := time.Now().Add(time.Hour)
	store := NewMemStore(&model.ScheduleState{PreviousRun: next.Add(-24 * time.Hour), NextRun: next, CycleCount: 3})
	var finished atomic.Bool
	s := newTestScheduler(store, func(context.Context, model.Cycle) error {
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	require.NoError(t, s.Start(context.Background()))

	c := &Commands{Scheduler: s}
	require.Equal(t, "Cycle started.", c.Handle(context.Background(), "/run"))
	s.Stop()

	assert.True(t, finished.Load(), "Stop returned mid-cycle")
	assert.False(t, s.Busy())
	stored, ok := store.Stored()
	require.True(t, ok)
	assert.Equal(t, 4, stored.CycleCount)

	assert.Equal(t, "Scheduler is stopped.", c.Handle(context.Background(), "/run"))
	assert.ErrorContains(t, s.RunCycleNow(context.Background()), "stopped")
}

func TestCommands_RunTwiceStartsOneCycle(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s := newTestScheduler(NewMemStore(nil), func(context.Context, model.Cycle) error {
		runs.Add(1)
		<-release
		return nil
	})
	c := &Commands{Scheduler: s}

	assert.Equal(t, "Cycle started.", c.Handle(context.Background(), "/run"))
	assert.Equal(t, "A cycle is already running.", c.Handle(context.Background(), "/run"))
	close(release)

	require.Eventually(t, func() bool { return s.State().CycleCount == 1 && !s.Busy() }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 1, s.State().CycleCount)
}
