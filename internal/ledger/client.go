// Package ledger adapts the external ledger capability (submit, confirm,
// read state) into executor operations.
package ledger

import (
	"context"
	"errors"
	"time"

	"VaultKeeper/internal/model"
)

// State queries understood by ReadState.
const (
	QueryPrincipal      = "principal_balance"
	QueryNDV            = "ndv"
	QueryNativeBalance  = "native_balance"
	QueryAirdropBalance = "airdrop_balance"
	QueryTokenBalance   = "token_balance"
	QueryBondValue      = "bond_value"
)

var (
	// ErrConfirmTimeout is returned when a transaction is not confirmed in time.
	ErrConfirmTimeout = errors.New("confirmation timed out")
	// ErrReverted is returned for transactions the ledger rejected.
	ErrReverted = errors.New("transaction reverted")
)

// TxRef identifies a submitted transaction.
type TxRef string

// Confirmation is the ledger's acknowledgement of a mined transaction.
type Confirmation struct {
	TxRef         TxRef
	Block         uint64
	Confirmations int
}

// Spec describes the mutation to submit; its content is opaque to the core.
type Spec struct {
	Kind   model.OperationKind `json:"kind"`
	Method string              `json:"method"`
	Params map[string]string   `json:"params,omitempty"`
}

// Client is the ledger capability the keeper consumes.
type Client interface {
	Submit(ctx context.Context, acct model.Account, spec Spec, budget model.Budget) (TxRef, error)
	Confirm(ctx context.Context, ref TxRef, confirmations int, timeout time.Duration) (*Confirmation, error)
	ReadState(ctx context.Context, acct model.Account, query string) (float64, error)
}
