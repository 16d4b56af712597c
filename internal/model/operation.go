package model

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind is one of the account-scoped ledger mutations the keeper knows how to run.
type OperationKind string

const (
	KindClaim        OperationKind = "claim"
	KindCompound     OperationKind = "compound"
	KindAirdrop      OperationKind = "airdrop"
	KindSell         OperationKind = "sell"
	KindDrain        OperationKind = "drain"
	KindBondWithdraw OperationKind = "bond_withdraw"
)

// Kinds lists every operation kind in display order.
var Kinds = []OperationKind{KindClaim, KindCompound, KindAirdrop, KindSell, KindDrain, KindBondWithdraw}

// ReportsBalance reports whether a successful operation of this kind reads
// back the account's principal balance.
func (k OperationKind) ReportsBalance() bool {
	switch k {
	case KindClaim, KindCompound, KindDrain, KindSell:
		return true
	}
	return false
}

// ParseKind maps a config string onto the closed set of kinds.
func ParseKind(s string) (OperationKind, error) {
	k := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// Budget is the resource allowance of a single attempt.
type Budget struct {
	Attempt  int           `json:"attempt"`
	FeeRate  float64       `json:"fee_rate"` // gwei
	GasLimit uint64        `json:"gas_limit"`
	Timeout  time.Duration `json:"timeout"`
}

// AttemptState tracks where an operation is in the retry state machine.
type AttemptState string

const (
	StatePending      AttemptState = "PENDING"
	StateExecuting    AttemptState = "EXECUTING"
	StateRetryPending AttemptState = "RETRY_PENDING"
	StateSucceeded    AttemptState = "SUCCEEDED"
	StateFailed       AttemptState = "FAILED"
)

// Terminal reports whether no further attempts follow this state.
func (s AttemptState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// OperationAttempt records one invocation of an operation.
type OperationAttempt struct {
	AccountIndex int           `json:"account_index"`
	Kind         OperationKind `json:"kind"`
	Attempt      int           `json:"attempt"`
	Budget       Budget        `json:"budget"`
	State        AttemptState  `json:"state"`
	Err          string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Result is the payload of a successful operation.
type Result struct {
	TxRef         string            `json:"tx_ref,omitempty"`
	URL           string            `json:"url,omitempty"`
	Balance       *float64          `json:"balance,omitempty"`
	NativeBalance *float64          `json:"native_balance,omitempty"`
	NDV           *float64          `json:"ndv,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Task is one (account, kind) pair selected for a cycle. Tasks of the same
// phase run concurrently; phases run in order.
type Task struct {
	Account Account
	Kind    OperationKind
	Phase   int
}

func (t Task) String() string {
	return fmt.Sprintf("%s#%d", t.Kind, t.Account.Index)
}
