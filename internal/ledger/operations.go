package ledger

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/executor"
	"VaultKeeper/internal/model"
)

// DefaultSpecs maps each kind onto the vault call it performs. The takeAction
// percentages are (withdraw, compound, airdrop).
func DefaultSpecs() map[model.OperationKind]Spec {
	return map[model.OperationKind]Spec{
		model.KindClaim:        {Kind: model.KindClaim, Method: "takeAction", Params: map[string]string{"withdraw": "56", "compound": "44", "airdrop": "0"}},
		model.KindCompound:     {Kind: model.KindCompound, Method: "takeAction", Params: map[string]string{"withdraw": "0", "compound": "50", "airdrop": "50"}},
		model.KindDrain:        {Kind: model.KindDrain, Method: "takeAction", Params: map[string]string{"withdraw": "100", "compound": "0", "airdrop": "0"}},
		model.KindAirdrop:      {Kind: model.KindAirdrop, Method: "airdrop"},
		model.KindSell:         {Kind: model.KindSell, Method: "sellForBUSD", Params: map[string]string{"min_out_ratio": "0.9"}},
		model.KindBondWithdraw: {Kind: model.KindBondWithdraw, Method: "claimBondRewards"},
	}
}

// Operations builds executor operations on top of a Client.
type Operations struct {
	Client        Client
	Confirmations int
	// ExplorerURL is a format string taking the transaction reference.
	ExplorerURL string
	Specs       map[model.OperationKind]Spec
}

// NewOperations uses DefaultSpecs and one confirmation.
func NewOperations(client Client, explorerURL string) *Operations {
	return &Operations{Client: client, Confirmations: 1, ExplorerURL: explorerURL, Specs: DefaultSpecs()}
}

// ReadState forwards to the client so Operations can serve as the policy's
// state reader.
func (o *Operations) ReadState(ctx context.Context, acct model.Account, query string) (float64, error) {
	return o.Client.ReadState(ctx, acct, query)
}

// Operation implements fanout.Operations.
func (o *Operations) Operation(kind model.OperationKind) (executor.Operation, error) {
	spec, ok := o.Specs[kind]
	if !ok {
		return nil, fmt.Errorf("no ledger spec for %s", kind)
	}
	switch kind {
	case model.KindClaim, model.KindCompound, model.KindDrain:
		return o.vaultAction(spec), nil
	case model.KindAirdrop:
		return o.airdrop(spec), nil
	case model.KindSell:
		return o.sell(spec), nil
	case model.KindBondWithdraw:
		return o.bondWithdraw(spec), nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

// submitAndConfirm performs exactly one ledger mutation.
func (o *Operations) submitAndConfirm(ctx context.Context, acct model.Account, spec Spec, budget model.Budget) (*model.Result, error) {
	ref, err := o.Client.Submit(ctx, acct, spec, budget)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", spec.Method, err)
	}
	conf, err := o.Client.Confirm(ctx, ref, o.Confirmations, budget.Timeout)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", ref, err)
	}
	res := &model.Result{TxRef: string(conf.TxRef), Extra: map[string]string{}}
	if o.ExplorerURL != "" {
		res.URL = fmt.Sprintf(o.ExplorerURL, conf.TxRef)
	}
	return res, nil
}

// readBalances fills the post-transaction balances. Reads are best effort: the
// mutation already happened, so a failed read must not trigger a retry.
func (o *Operations) readBalances(ctx context.Context, acct model.Account, res *model.Result) {
	read := func(query string) *float64 {
		v, err := o.Client.ReadState(ctx, acct, query)
		if err != nil {
			log.Warn().Err(err).Int("account", acct.Index).Str("query", query).Msg("balance read failed")
			res.Extra[query+"_error"] = err.Error()
			return nil
		}
		return &v
	}
	res.Balance = read(QueryPrincipal)
	res.NDV = read(QueryNDV)
	res.NativeBalance = read(QueryNativeBalance)
}

func (o *Operations) vaultAction(spec Spec) executor.Operation {
	return func(ctx context.Context, acct model.Account, budget model.Budget) (*model.Result, error) {
		res, err := o.submitAndConfirm(ctx, acct, spec, budget)
		if err != nil {
			return nil, err
		}
		o.readBalances(ctx, acct, res)
		return res, nil
	}
}

func (o *Operations) airdrop(spec Spec) executor.Operation {
	return func(ctx context.Context, acct model.Account, budget model.Budget) (*model.Result, error) {
		amount, err := o.Client.ReadState(ctx, acct, QueryAirdropBalance)
		if err != nil {
			return nil, fmt.Errorf("read airdrop balance: %w", err)
		}
		if amount <= 0 {
			return &model.Result{Extra: map[string]string{"skipped": "nothing to airdrop", "recipient": acct.Downline}}, nil
		}
		spec = withParams(spec, map[string]string{
			"recipient": acct.Downline,
			"amount":    strconv.FormatFloat(amount, 'f', -1, 64),
		})
		res, err := o.submitAndConfirm(ctx, acct, spec, budget)
		if err != nil {
			return nil, err
		}
		res.Extra["recipient"] = acct.Downline
		res.Extra["amount"] = spec.Params["amount"]
		return res, nil
	}
}

func (o *Operations) sell(spec Spec) executor.Operation {
	return func(ctx context.Context, acct model.Account, budget model.Budget) (*model.Result, error) {
		amount, err := o.Client.ReadState(ctx, acct, QueryTokenBalance)
		if err != nil {
			return nil, fmt.Errorf("read token balance: %w", err)
		}
		if amount <= 0 {
			return &model.Result{Extra: map[string]string{"skipped": "nothing to sell"}}, nil
		}
		spec = withParams(spec, map[string]string{"amount": strconv.FormatFloat(amount, 'f', -1, 64)})
		res, err := o.submitAndConfirm(ctx, acct, spec, budget)
		if err != nil {
			return nil, err
		}
		res.Extra["sold"] = spec.Params["amount"]
		o.readBalances(ctx, acct, res)
		return res, nil
	}
}

func (o *Operations) bondWithdraw(spec Spec) executor.Operation {
	return func(ctx context.Context, acct model.Account, budget model.Budget) (*model.Result, error) {
		res, err := o.submitAndConfirm(ctx, acct, spec, budget)
		if err != nil {
			return nil, err
		}
		if v, err := o.Client.ReadState(ctx, acct, QueryBondValue); err == nil {
			res.Extra[QueryBondValue] = strconv.FormatFloat(v, 'f', 4, 64)
		} else {
			res.Extra[QueryBondValue+"_error"] = err.Error()
		}
		return res, nil
	}
}

func withParams(spec Spec, extra map[string]string) Spec {
	params := make(map[string]string, len(spec.Params)+len(extra))
	maps.Copy(params, spec.Params)
	maps.Copy(params, extra)
	spec.Params = params
	return spec
}
