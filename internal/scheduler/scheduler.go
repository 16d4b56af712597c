// Package scheduler fires the maintenance cycle once per interval and keeps
// the schedule durable across restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/metrics"
	"VaultKeeper/internal/model"
)

// CycleFunc runs one maintenance cycle.
type CycleFunc func(ctx context.Context, cycle model.Cycle) error

// Scheduler owns the schedule state and the single armed timer. Cycles never
// overlap: timer fires and manual runs share cycleMu.
type Scheduler struct {
	Store    Store
	Interval time.Duration
	Run      CycleFunc
	Metrics  *metrics.Registry

	cron    *cron.Cron
	cycleMu sync.Mutex
	running atomic.Bool

	mu      sync.Mutex
	state   model.ScheduleState
	pending bool
	entry   cron.EntryID
	armedAt time.Time
	gen     uint64
	base    context.Context
	stopped bool

	now func() time.Time
}

// New creates a Scheduler. interval <= 0 uses model.DefaultInterval.
func New(store Store, interval time.Duration, run CycleFunc) *Scheduler {
	if interval <= 0 {
		interval = model.DefaultInterval
	}
	logger := cronLogger{}
	return &Scheduler{
		Store:    store,
		Interval: interval,
		Run:      run,
		cron:     cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger))),
		base:     context.Background(),
		now:      time.Now,
	}
}

// LoadOrInit reads the persisted state. It reports due=true when a cycle
// must run immediately: no state, unusable state, or a nextRun that is not
// in the future.
func (s *Scheduler) LoadOrInit(ctx context.Context) (due bool, err error) {
	st, err := s.Store.Load(ctx)
	switch {
	case errors.Is(err, model.ErrNoState):
		log.Info().Str("store", s.Store.Name()).Msg("no schedule state, starting fresh")
		st = model.ScheduleState{}
	case errors.Is(err, model.ErrCorruptState):
		log.Warn().Err(err).Str("store", s.Store.Name()).Msg("schedule state unusable, starting fresh")
		st = model.ScheduleState{}
	case err != nil:
		return false, fmt.Errorf("load schedule: %w", err)
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	if st.NextRun.IsZero() || !st.NextRun.After(s.now()) {
		return true, nil
	}
	return false, nil
}

// ScheduleNext computes the state to persist after a cycle fired at from.
func (s *Scheduler) ScheduleNext(from time.Time) model.ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleNextLocked(from)
}

func (s *Scheduler) scheduleNextLocked(from time.Time) model.ScheduleState {
	return model.ScheduleState{
		PreviousRun: from,
		NextRun:     from.Add(s.Interval),
		CycleCount:  s.state.CycleCount + 1,
	}
}

// Start loads the state, arms the timer and starts cron. It does not block.
func (s *Scheduler) Start(ctx context.Context) error {
	due, err := s.LoadOrInit(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.base = context.WithoutCancel(ctx)
	at := s.state.NextRun
	s.mu.Unlock()

	if due {
		at = s.now()
		log.Info().Msg("cycle due, running immediately")
	} else {
		log.Info().Time("next_run", at).Msg("cycle not due yet, timer armed")
	}
	s.arm(at)
	s.cron.Start()
	return nil
}

// RunForever starts the scheduler and blocks until ctx is cancelled. A
// running cycle is allowed to finish before it returns.
func (s *Scheduler) RunForever(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop disarms the timer and waits for a running cycle, whether the timer
// or a manual run started it. No cycle starts after Stop returns.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cycleMu.Lock()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cycleMu.Unlock()
	log.Info().Msg("scheduler stopped")
}

// TryRunNow starts a cycle in the background unless one is already running
// or the scheduler is stopped. done, when non-nil, receives the cycle's error.
func (s *Scheduler) TryRunNow(ctx context.Context, done func(error)) bool {
	if !s.cycleMu.TryLock() {
		return false
	}
	if s.isStopped() {
		s.cycleMu.Unlock()
		return false
	}
	s.running.Store(true)
	go func() {
		defer s.cycleMu.Unlock()
		err := s.runCycleLocked(ctx, s.now())
		if done != nil {
			done(err)
		}
	}()
	return true
}

// RunCycleNow runs a cycle immediately and re-arms the timer from now.
func (s *Scheduler) RunCycleNow(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	if s.isStopped() {
		return errors.New("scheduler stopped")
	}
	return s.runCycleLocked(ctx, s.now())
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Busy reports whether a cycle is running.
func (s *Scheduler) Busy() bool { return s.running.Load() }

// State returns a copy of the in-memory schedule state.
func (s *Scheduler) State() model.ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ArmedAt returns the instant the timer is armed for.
func (s *Scheduler) ArmedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armedAt
}

// PendingWrite reports whether the last state write failed.
func (s *Scheduler) PendingWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// arm replaces the armed entry with a one-shot fire at at.
func (s *Scheduler) arm(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.gen++
	gen := s.gen
	s.entry = s.cron.Schedule(&oneShot{at: at}, cron.FuncJob(func() { s.fire(gen, at) }))
	s.armedAt = at
	if s.Metrics != nil {
		s.Metrics.SetNextRun(at)
	}
}

func (s *Scheduler) fire(gen uint64, at time.Time) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	stale := gen != s.gen || s.stopped
	ctx := s.base
	s.mu.Unlock()
	if stale {
		log.Debug().Time("at", at).Msg("skipping superseded timer")
		return
	}
	if err := s.runCycleLocked(ctx, at); err != nil {
		log.Error().Err(err).Msg("cycle finished with error")
	}
}

// runCycleLocked runs one cycle fired at at, persists the next state and
// re-arms. The caller holds cycleMu.
func (s *Scheduler) runCycleLocked(ctx context.Context, at time.Time) (err error) {
	s.running.Store(true)
	defer s.running.Store(false)

	s.flushPending(ctx)

	s.mu.Lock()
	number := s.state.CycleCount
	next := s.scheduleNextLocked(at)
	s.mu.Unlock()

	cycle := model.NewCycle(number, at, next)
	logger := log.With().Str("cycle", cycle.ID).Int("number", number).Logger()
	logger.Info().Time("fired_at", at).Msg("cycle started")

	err = s.invoke(ctx, cycle)

	s.mu.Lock()
	s.state = next
	s.pending = true
	s.mu.Unlock()
	s.flushPending(ctx)

	s.arm(next.NextRun)
	logger.Info().Time("next_run", next.NextRun).Dur("took", s.now().Sub(at)).Msg("cycle finished")
	return err
}

func (s *Scheduler) invoke(ctx context.Context, cycle model.Cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	if s.Run == nil {
		return nil
	}
	return s.Run(ctx, cycle)
}

// flushPending writes the in-memory state when a write is outstanding.
func (s *Scheduler) flushPending(ctx context.Context) {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	st := s.state
	s.mu.Unlock()

	if err := s.Store.Save(ctx, st); err != nil {
		log.Error().Err(err).Str("store", s.Store.Name()).Msg("persist schedule failed, will retry next cycle")
		if s.Metrics != nil {
			s.Metrics.PersistFailures.Inc()
		}
		return
	}

	s.mu.Lock()
	if s.state == st {
		s.pending = false
	}
	s.mu.Unlock()
	log.Debug().Time("next_run", st.NextRun).Msg("schedule persisted")
}
