// Package keeper runs one maintenance cycle end to end: select tasks, fan
// them out phase by phase, aggregate, deliver and record.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/fanout"
	"VaultKeeper/internal/metrics"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/policy"
	"VaultKeeper/internal/recorder"
	"VaultKeeper/internal/report"
)

// maxPhases bounds the follow-up chain. The follow-up graph is acyclic, so
// a chain can be at most one phase per kind after the calendar phase.
var maxPhases = len(model.Kinds) + 2

// Runner holds everything a cycle needs. Nothing cycle-specific survives
// between runs except the last report, kept for status queries.
type Runner struct {
	Accounts    []model.Account
	Selector    *policy.Selector
	Coordinator *fanout.Coordinator
	Aggregator  *report.Aggregator
	Sink        report.Sink
	Recorder    recorder.Recorder
	Metrics     *metrics.Registry

	mu   sync.Mutex
	last *model.Report
}

// Run implements scheduler.CycleFunc.
func (r *Runner) Run(ctx context.Context, cycle model.Cycle) error {
	_, err := r.RunCycle(ctx, cycle)
	return err
}

// RunCycle executes the cycle and returns its report. The returned error
// summarises failed operations and delivery problems; the report is always
// built.
func (r *Runner) RunCycle(ctx context.Context, cycle model.Cycle) (*model.Report, error) {
	started := time.Now()
	logger := log.With().Str("cycle", cycle.ID).Logger()

	tasks := r.Selector.Select(ctx, cycle, r.Accounts)
	logger.Info().Int("accounts", len(r.Accounts)).Int("tasks", len(tasks)).Msg("tasks selected")

	outcomes := r.runPhases(ctx, tasks)

	rep := r.Aggregator.Build(ctx, cycle, outcomes)

	var errs []error
	if n := len(rep.Failures()); n > 0 {
		errs = append(errs, fmt.Errorf("%d of %d operations failed", n, len(outcomes)))
	}
	if err := report.Deliver(ctx, rep, r.Sink); err != nil {
		errs = append(errs, err)
		if r.Metrics != nil {
			r.Metrics.DeliveryErrors.Inc()
		}
	}
	if r.Recorder != nil {
		if err := r.Recorder.Record(ctx, rep); err != nil {
			logger.Error().Err(err).Msg("record cycle history")
		}
	}
	if r.Metrics != nil {
		r.Metrics.ObserveReport(rep, time.Since(started))
	}

	r.mu.Lock()
	r.last = rep
	r.mu.Unlock()

	logger.Info().
		Int("succeeded", rep.Stats.Succeeded).
		Int("failed", rep.Stats.Failed).
		Dur("took", time.Since(started)).
		Msg("cycle report built")
	return rep, errors.Join(errs...)
}

// runPhases runs tasks phase by phase. Each phase waits for the previous one
// so follow-ups see the outcome that triggered them.
func (r *Runner) runPhases(ctx context.Context, tasks []model.Task) []model.ActionOutcome {
	pending := append([]model.Task(nil), tasks...)
	var outcomes []model.ActionOutcome

	for phase := 0; len(pending) > 0; phase++ {
		if phase >= maxPhases {
			log.Error().Int("dropped", len(pending)).Msg("phase limit reached, dropping remaining tasks")
			break
		}
		var current, later []model.Task
		for _, t := range pending {
			if t.Phase <= phase {
				current = append(current, t)
			} else {
				later = append(later, t)
			}
		}
		if len(current) == 0 {
			pending = later
			continue
		}

		log.Info().Int("phase", phase).Int("tasks", len(current)).Msg("running phase")
		outs := r.Coordinator.RunAll(ctx, current)
		for i := range outs {
			outs[i].Phase = phase
		}
		outcomes = append(outcomes, outs...)

		pending = append(later, r.Selector.FollowUps(outs)...)
		sort.SliceStable(pending, func(i, j int) bool { return pending[i].Phase < pending[j].Phase })
	}
	return outcomes
}

// LastReport returns the report of the most recent cycle, or nil.
func (r *Runner) LastReport() *model.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
