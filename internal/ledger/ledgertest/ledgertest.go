// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/model"
)

// Submission records one Submit call.
type Submission struct {
	AccountID string
	Spec      ledger.Spec
	Budget    model.Budget
	Ref       ledger.TxRef
	Rejected  bool
}

// Client is a scriptable in-memory ledger.
type Client struct {
	mu           sync.Mutex
	state        map[string]map[string]float64
	failSubmit   map[string]int
	failRead     map[string]bool
	submissions  []Submission
	next         int
	ConfirmDelay time.Duration
}

// Compile-time interface check.
var _ ledger.Client = (*Client)(nil)

// New creates an empty ledger.
func New() *Client {
	return &Client{
		state:      make(map[string]map[string]float64),
		failSubmit: make(map[string]int),
		failRead:   make(map[string]bool),
	}
}

// Set stores a state value for an account.
func (c *Client) Set(accountID, query string, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state[accountID] == nil {
		c.state[accountID] = make(map[string]float64)
	}
	c.state[accountID][query] = v
}

// FailSubmit makes the next n submissions of kind for the account fail; n < 0
// fails them forever.
func (c *Client) FailSubmit(accountID string, kind model.OperationKind, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSubmit[accountID+"/"+string(kind)] = n
}

// FailRead makes every read of query for the account fail.
func (c *Client) FailRead(accountID, query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failRead[accountID+"/"+query] = true
}

// Submissions returns a copy of every Submit call so far.
func (c *Client) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submissions...)
}

// Submit implements ledger.Client.
func (c *Client) Submit(ctx context.Context, acct model.Account, spec ledger.Spec, budget model.Budget) (ledger.TxRef, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := Submission{AccountID: acct.ID, Spec: spec, Budget: budget}
	key := acct.ID + "/" + string(spec.Kind)
	if n := c.failSubmit[key]; n != 0 {
		if n > 0 {
			c.failSubmit[key] = n - 1
		}
		sub.Rejected = true
		c.submissions = append(c.submissions, sub)
		return "", errors.New("transaction underpriced")
	}
	c.next++
	sub.Ref = ledger.TxRef(fmt.Sprintf("0x%064x", c.next))
	c.submissions = append(c.submissions, sub)
	return sub.Ref, nil
}

// Confirm implements ledger.Client.
func (c *Client) Confirm(ctx context.Context, ref ledger.TxRef, confirmations int, timeout time.Duration) (*ledger.Confirmation, error) {
	if c.ConfirmDelay > 0 {
		t := time.NewTimer(c.ConfirmDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ledger.ErrConfirmTimeout, ref)
		case <-t.C:
		}
	}
	return &ledger.Confirmation{TxRef: ref, Block: 1, Confirmations: confirmations}, nil
}

// ReadState implements ledger.Client.
func (c *Client) ReadState(ctx context.Context, acct model.Account, query string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failRead[acct.ID+"/"+query] {
		return 0, fmt.Errorf("call reverted reading %s", query)
	}
	return c.state[acct.ID][query], nil
}
