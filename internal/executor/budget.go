package executor

import (
	"time"

	"VaultKeeper/internal/model"
)

// TimeoutPolicy controls how the per-attempt confirmation timeout evolves.
type TimeoutPolicy string

const (
	// TimeoutShrink gives attempt k BaseTimeout/k.
	TimeoutShrink TimeoutPolicy = "shrink"
	// TimeoutFixed gives every attempt BaseTimeout.
	TimeoutFixed TimeoutPolicy = "fixed"
)

// BudgetPolicy derives the budget of each attempt from its number.
type BudgetPolicy struct {
	BaseFee      float64
	FeeStep      float64
	BaseGasLimit uint64
	BaseTimeout  time.Duration
	MinTimeout   time.Duration
	Timeouts     TimeoutPolicy
	// FeePremium is added to the fee of specific kinds (sells pay more).
	FeePremium map[model.OperationKind]float64
}

// DefaultBudgetPolicy reproduces the schedule the keeper was tuned with:
// attempt k pays k gwei, gets 2,000,000/k gas and 60min/k to confirm.
func DefaultBudgetPolicy() BudgetPolicy {
	return BudgetPolicy{
		BaseFee:      1,
		FeeStep:      1,
		BaseGasLimit: 2_000_000,
		BaseTimeout:  60 * time.Minute,
		MinTimeout:   time.Second,
		Timeouts:     TimeoutShrink,
		FeePremium:   map[model.OperationKind]float64{model.KindSell: 4},
	}
}

// Budget returns the allowance of the given attempt (1-based).
func (p BudgetPolicy) Budget(kind model.OperationKind, attempt int) model.Budget {
	if attempt < 1 {
		attempt = 1
	}
	b := model.Budget{
		Attempt: attempt,
		FeeRate: p.BaseFee + p.FeeStep*float64(attempt-1) + p.FeePremium[kind],
		Timeout: p.BaseTimeout,
	}
	if p.BaseGasLimit > 0 {
		b.GasLimit = p.BaseGasLimit / uint64(attempt)
	}
	if p.Timeouts != TimeoutFixed {
		b.Timeout = p.BaseTimeout / time.Duration(attempt)
	}
	if b.Timeout < p.MinTimeout {
		b.Timeout = p.MinTimeout
	}
	return b
}

// Ceiling is the worst-case time spent confirming across every attempt the
// executor may make, pauses excluded.
func (p BudgetPolicy) Ceiling(maxAttempts int) time.Duration {
	var total time.Duration
	for attempt := 1; attempt <= maxAttempts+1; attempt++ {
		total += p.Budget("", attempt).Timeout
	}
	return total
}
