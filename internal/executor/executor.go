// Package executor runs a single account-scoped operation with a bounded
// number of attempts and an escalating budget.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/model"
)

// DefaultMaxAttempts is the number of retries after the first attempt.
const DefaultMaxAttempts = 5

// Operation performs one attempt against the ledger. It must honour ctx; an
// attempt that outlives its budget is abandoned and counted as a timeout.
type Operation func(ctx context.Context, acct model.Account, budget model.Budget) (*model.Result, error)

// AttemptHook observes every finished attempt.
type AttemptHook func(model.OperationAttempt)

// Executor retries an operation up to MaxAttempts times after the first try.
type Executor struct {
	MaxAttempts int
	Budgets     BudgetPolicy
	Pause       time.Duration
	OnAttempt   AttemptHook
	now         func() time.Time
}

// New creates an Executor. maxAttempts < 0 falls back to the default.
func New(maxAttempts int, budgets BudgetPolicy) *Executor {
	if maxAttempts < 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Executor{MaxAttempts: maxAttempts, Budgets: budgets, now: time.Now}
}

// Execute drives op from Pending to a terminal state and returns the outcome.
// op is invoked at most MaxAttempts+1 times.
func (e *Executor) Execute(ctx context.Context, acct model.Account, kind model.OperationKind, op Operation) model.ActionOutcome {
	now := e.now
	if now == nil {
		now = time.Now
	}
	out := model.ActionOutcome{Account: acct, Kind: kind, Started: now()}
	logger := log.With().Int("account", acct.Index).Str("kind", string(kind)).Logger()

	state := model.StatePending
	var lastErr error
	for attempt := 1; !state.Terminal(); attempt++ {
		budget := e.Budgets.Budget(kind, attempt)
		state = model.StateExecuting
		started := now()
		res, err := runAttempt(ctx, acct, budget, op)

		rec := model.OperationAttempt{
			AccountIndex: acct.Index,
			Kind:         kind,
			Attempt:      attempt,
			Budget:       budget,
			Duration:     now().Sub(started),
		}
		out.Attempts = attempt

		switch {
		case err == nil:
			state = model.StateSucceeded
			out.Succeeded = true
			out.Result = res
		case attempt > e.MaxAttempts || ctx.Err() != nil:
			lastErr = &model.TransientFailure{Kind: kind, Attempt: attempt, Err: err}
			state = model.StateFailed
		default:
			lastErr = &model.TransientFailure{Kind: kind, Attempt: attempt, Err: err}
			state = model.StateRetryPending
		}
		rec.State = state
		if err != nil {
			rec.Err = err.Error()
		}
		out.History = append(out.History, rec)
		if e.OnAttempt != nil {
			e.OnAttempt(rec)
		}

		switch state {
		case model.StateSucceeded:
			logger.Info().Int("attempt", attempt).Float64("fee", budget.FeeRate).Msg("operation succeeded")
		case model.StateRetryPending:
			logger.Warn().Err(err).Int("attempt", attempt).Dur("timeout", budget.Timeout).Msg("operation failed, retrying")
			if !sleep(ctx, e.Pause) {
				state = model.StateFailed
			}
		}
	}

	if !out.Succeeded {
		out.Error = fmt.Errorf("%w after %d attempts: %w", model.ErrRetriesExhausted, out.Attempts, lastErr).Error()
		if ctx.Err() != nil {
			out.Error = fmt.Sprintf("cancelled after %d attempts: %v", out.Attempts, lastErr)
		}
		logger.Error().Int("attempts", out.Attempts).Msg(out.Error)
	}
	out.Finished = now()
	return out
}

// runAttempt invokes op under the attempt's timeout. op runs in its own
// goroutine so an operation that ignores ctx cannot stall the caller.
func runAttempt(ctx context.Context, acct model.Account, budget model.Budget, op Operation) (*model.Result, error) {
	actx, cancel := context.WithTimeout(ctx, budget.Timeout)
	defer cancel()

	type result struct {
		res *model.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		res, err := op(actx, acct, budget)
		done <- result{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", model.ErrAttemptTimeout, budget.Timeout)
		}
		return nil, actx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
