// Package fanout runs the tasks of a cycle concurrently and collects every
// terminal outcome.
package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"VaultKeeper/internal/executor"
	"VaultKeeper/internal/model"
)

// Operations resolves the ledger operation implementing a kind.
type Operations interface {
	Operation(kind model.OperationKind) (executor.Operation, error)
}

// Coordinator fans tasks out to the executor, one goroutine per task.
type Coordinator struct {
	Executor   *executor.Executor
	Operations Operations
	// Limit caps concurrent tasks; zero means one goroutine per task.
	Limit int
}

// New creates a Coordinator.
func New(exec *executor.Executor, ops Operations, limit int) *Coordinator {
	return &Coordinator{Executor: exec, Operations: ops, Limit: limit}
}

// RunAll waits for every task to reach a terminal state. Outcomes are returned
// in task order; a failing or panicking task never prevents the others from
// being collected.
func (c *Coordinator) RunAll(ctx context.Context, tasks []model.Task) []model.ActionOutcome {
	outcomes := make([]model.ActionOutcome, len(tasks))
	var g errgroup.Group
	if c.Limit > 0 {
		g.SetLimit(c.Limit)
	}
	for i, task := range tasks {
		g.Go(func() error {
			outcomes[i] = c.runOne(ctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Coordinator) runOne(ctx context.Context, task model.Task) (out model.ActionOutcome) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("account", task.Account.Index).Str("kind", string(task.Kind)).
				Interface("panic", r).Msg("task panicked")
			out = failed(task, started, fmt.Sprintf("task panicked: %v", r))
		}
		out.Phase = task.Phase
	}()

	op, err := c.Operations.Operation(task.Kind)
	if err != nil {
		return failed(task, started, err.Error())
	}
	return c.Executor.Execute(ctx, task.Account, task.Kind, op)
}

func failed(task model.Task, started time.Time, msg string) model.ActionOutcome {
	return model.ActionOutcome{
		Account:  task.Account,
		Kind:     task.Kind,
		Phase:    task.Phase,
		Error:    msg,
		Started:  started,
		Finished: time.Now(),
	}
}
