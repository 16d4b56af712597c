package model

import "time"

// ActionOutcome is the terminal result of one (account, kind) in a cycle.
type ActionOutcome struct {
	Account   Account            `json:"account"`
	Kind      OperationKind      `json:"kind"`
	Phase     int                `json:"phase"`
	Succeeded bool               `json:"succeeded"`
	Attempts  int                `json:"attempts"`
	Result    *Result            `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	History   []OperationAttempt `json:"history,omitempty"`
	Started   time.Time          `json:"started"`
	Finished  time.Time          `json:"finished"`
}

// State returns the terminal state of the outcome.
func (o ActionOutcome) State() AttemptState {
	if o.Succeeded {
		return StateSucceeded
	}
	return StateFailed
}

// Skipped reports whether the operation succeeded without submitting anything.
func (o ActionOutcome) Skipped() bool {
	return o.Succeeded && o.Result != nil && o.Result.Extra["skipped"] != ""
}

// Balance returns the numeric balance carried by a successful outcome.
func (o ActionOutcome) Balance() (float64, bool) {
	if !o.Succeeded || o.Result == nil || o.Result.Balance == nil {
		return 0, false
	}
	return *o.Result.Balance, true
}
