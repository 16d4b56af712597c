package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/ledger"
	"VaultKeeper/internal/ledger/ledgertest"
	"VaultKeeper/internal/model"
)

var (
	acct   = model.Account{Index: 2, ID: "0xaaa", Credential: "PVK_2", Downline: "0xbbb", Referrer: "0xccc"}
	budget = model.Budget{Attempt: 1, FeeRate: 1, GasLimit: 2_000_000, Timeout: time.Second}
)

func TestOperations_VaultAction(t *testing.T) {
	fake := ledgertest.New()
	fake.Set(acct.ID, ledger.QueryPrincipal, 3100)
	fake.Set(acct.ID, ledger.QueryNDV, 12)
	fake.Set(acct.ID, ledger.QueryNativeBalance, 0.04)

	ops := ledger.NewOperations(fake, "https://bscscan.com/tx/%s")
	op, err := ops.Operation(model.KindClaim)
	require.NoError(t, err)

	res, err := op(context.Background(), acct, budget)
	require.NoError(t, err)
	require.NotNil(t, res.Balance)
	assert.Equal(t, 3100.0, *res.Balance)
	assert.Equal(t, 12.0, *res.NDV)
	assert.Equal(t, 0.04, *res.NativeBalance)
	assert.Equal(t, "https://bscscan.com/tx/"+res.TxRef, res.URL)

	subs := fake.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "takeAction", subs[0].Spec.Method)
	assert.Equal(t, "56", subs[0].Spec.Params["withdraw"])
	assert.Equal(t, budget, subs[0].Budget)
}

func TestOperations_SubmitErrorIsReturned(t *testing.T) {
	fake := ledgertest.New()
	fake.FailSubmit(acct.ID, model.KindCompound, 1)
	op, err := ledger.NewOperations(fake, "").Operation(model.KindCompound)
	require.NoError(t, err)

	_, err = op(context.Background(), acct, budget)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit takeAction")

	_, err = op(context.Background(), acct, budget)
	assert.NoError(t, err)
}

func TestOperations_BalanceReadFailureStillSucceeds(t *testing.T) {
	fake := ledgertest.New()
	fake.FailRead(acct.ID, ledger.QueryPrincipal)
	op, _ := ledger.NewOperations(fake, "").Operation(model.KindDrain)

	res, err := op(context.Background(), acct, budget)
	require.NoError(t, err)
	assert.Nil(t, res.Balance)
	assert.Contains(t, res.Extra, ledger.QueryPrincipal+"_error")
}

func TestOperations_AirdropToDownline(t *testing.T) {
	fake := ledgertest.New()
	fake.Set(acct.ID, ledger.QueryAirdropBalance, 7.5)
	op, _ := ledger.NewOperations(fake, "").Operation(model.KindAirdrop)

	res, err := op(context.Background(), acct, budget)
	require.NoError(t, err)
	assert.Equal(t, "0xbbb", res.Extra["recipient"])
	assert.Nil(t, res.Balance)

	subs := fake.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "0xbbb", subs[0].Spec.Params["recipient"])
	assert.Equal(t, "7.5", subs[0].Spec.Params["amount"])
	// The shared default spec is not mutated.
	assert.Empty(t, ledger.DefaultSpecs()[model.KindAirdrop].Params)
}

func TestOperations_AirdropNothingToSend(t *testing.T) {
	fake := ledgertest.New()
	op, _ := ledger.NewOperations(fake, "").Operation(model.KindAirdrop)
	res, err := op(context.Background(), acct, budget)
	require.NoError(t, err)
	assert.Equal(t, "nothing to airdrop", res.Extra["skipped"])
	assert.Empty(t, fake.Submissions())
}

func TestOperations_Sell(t *testing.T) {
	fake := ledgertest.New()
	fake.Set(acct.ID, ledger.QueryTokenBalance, 250)
	fake.Set(acct.ID, ledger.QueryPrincipal, 900)
	op, _ := ledger.NewOperations(fake, "").Operation(model.KindSell)

	res, err := op(context.Background(), acct, budget)
	require.NoError(t, err)
	assert.Equal(t, "250", res.Extra["sold"])
	assert.Equal(t, 900.0, *res.Balance)
	assert.Equal(t, "0.9", fake.Submissions()[0].Spec.Params["min_out_ratio"])
}

func TestOperations_BondWithdraw(t *testing.T) {
	fake := ledgertest.New()
	fake.Set(acct.ID, ledger.QueryBondValue, 120.5)
	op, _ := ledger.NewOperations(fake, "").Operation(model.KindBondWithdraw)

	res, err := op(context.Background(), acct, budget)
	require.NoError(t, err)
	assert.Equal(t, "120.5000", res.Extra[ledger.QueryBondValue])
	assert.Nil(t, res.Balance)
}

func TestOperations_ConfirmTimeout(t *testing.T) {
	fake := ledgertest.New()
	fake.ConfirmDelay = time.Second
	op, _ := ledger.NewOperations(fake, "").Operation(model.KindClaim)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := op(ctx, acct, budget)
	assert.ErrorIs(t, err, ledger.ErrConfirmTimeout)
}

func TestOperations_UnknownKind(t *testing.T) {
	ops := ledger.NewOperations(ledgertest.New(), "")
	delete(ops.Specs, model.KindSell)
	_, err := ops.Operation(model.KindSell)
	assert.Error(t, err)
}
