package report

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/model"
)

func bal(v float64) *float64 { return &v }

func outcome(idx int, kind model.OperationKind, ok bool, balance *float64) model.ActionOutcome {
	o := model.ActionOutcome{Account: model.Account{Index: idx}, Kind: kind, Succeeded: ok, Attempts: 1}
	if ok {
		o.Result = &model.Result{Balance: balance}
	} else {
		o.Error = "boom"
	}
	return o
}

func fixedAggregator(price PriceLookup) *Aggregator {
	a := New("Vault report", "1000", price)
	a.now = func() time.Time { return time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC) }
	return a
}

type stubPrice struct {
	snap  *model.PriceSnapshot
	err   error
	delay time.Duration
}

func (s *stubPrice) Snapshot(ctx context.Context) (*model.PriceSnapshot, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.snap, s.err
}

func TestBuild_Stats(t *testing.T) {
	outcomes := []model.ActionOutcome{
		outcome(1, model.KindClaim, true, bal(10)),
		outcome(2, model.KindClaim, true, bal(20)),
		outcome(3, model.KindClaim, false, nil),
		outcome(4, model.KindClaim, true, bal(30)),
	}
	rep := fixedAggregator(nil).Build(context.Background(), model.Cycle{ID: "c1"}, outcomes)

	assert.Equal(t, "Vault report 07/03/2024", rep.Title)
	assert.Equal(t, "1000", rep.Target)
	assert.Equal(t, outcomes, rep.Outcomes)
	assert.Equal(t, 4, rep.Stats.Total)
	assert.Equal(t, 3, rep.Stats.Succeeded)
	assert.Equal(t, 1, rep.Stats.Failed)
	assert.True(t, rep.Stats.HasData)
	assert.Equal(t, 3, rep.Stats.BalanceCount)
	assert.InDelta(t, 20.0, rep.Stats.MeanBalance, 1e-9)
	assert.Equal(t, 10.0, rep.Stats.MinBalance)
	assert.Equal(t, 30.0, rep.Stats.MaxBalance)
	assert.Equal(t, 60.0, rep.Stats.SumBalance)
	assert.Nil(t, rep.Price)
	assert.Empty(t, rep.Gaps)
	assert.Len(t, rep.Failures(), 1)
}

func TestBuild_NoData(t *testing.T) {
	outcomes := []model.ActionOutcome{
		outcome(1, model.KindClaim, false, nil),
		outcome(2, model.KindClaim, false, nil),
	}
	rep := fixedAggregator(nil).Build(context.Background(), model.Cycle{}, outcomes)

	assert.False(t, rep.Stats.HasData)
	assert.True(t, math.IsNaN(rep.Stats.MeanBalance))
	assert.Equal(t, 0, rep.Stats.BalanceCount)
	assert.Equal(t, 2, rep.Stats.Failed)
	require.NotEmpty(t, rep.Gaps)
}

func TestBuild_EmptyOutcomes(t *testing.T) {
	rep := fixedAggregator(nil).Build(context.Background(), model.Cycle{}, nil)
	assert.False(t, rep.Stats.HasData)
	assert.True(t, math.IsNaN(rep.Stats.MeanBalance))
	assert.Equal(t, 0, rep.Stats.Total)
}

func TestBuild_SuccessWithoutBalanceIsGap(t *testing.T) {
	outcomes := []model.ActionOutcome{
		outcome(1, model.KindCompound, true, nil),
		outcome(2, model.KindClaim, true, bal(4)),
	}
	rep := fixedAggregator(nil).Build(context.Background(), model.Cycle{}, outcomes)
	assert.True(t, rep.Stats.HasData)
	assert.Equal(t, 1, rep.Stats.BalanceCount)
	require.Len(t, rep.Gaps, 1)
	assert.Contains(t, rep.Gaps[0], "account 1 compound")
}

func TestBuild_KindsWithoutBalanceAreNotGaps(t *testing.T) {
	skippedSell := outcome(3, model.KindSell, true, nil)
	skippedSell.Result.Extra = map[string]string{"skipped": "nothing to sell"}
	outcomes := []model.ActionOutcome{
		outcome(1, model.KindClaim, true, bal(4)),
		outcome(1, model.KindAirdrop, true, nil),
		outcome(2, model.KindBondWithdraw, true, nil),
		skippedSell,
	}
	rep := fixedAggregator(nil).Build(context.Background(), model.Cycle{}, outcomes)
	assert.Empty(t, rep.Gaps)
	assert.Equal(t, 4, rep.Stats.Succeeded)
	assert.Equal(t, 4.0, rep.Stats.MeanBalance)
}

func TestSummarize_LastBalancePerAccount(t *testing.T) {
	outcomes := []model.ActionOutcome{
		outcome(1, model.KindClaim, true, bal(10)),
		outcome(2, model.KindClaim, true, bal(20)),
		outcome(1, model.KindSell, true, bal(2)),
	}
	stats, _ := Summarize(outcomes)
	assert.Equal(t, 2, stats.BalanceCount)
	assert.InDelta(t, 11.0, stats.MeanBalance, 1e-9)
	assert.Equal(t, 3, stats.Succeeded)
}

func TestSummarize_NonFiniteBalanceSkipped(t *testing.T) {
	stats, gaps := Summarize([]model.ActionOutcome{
		outcome(1, model.KindClaim, true, bal(math.Inf(1))),
		outcome(2, model.KindClaim, true, bal(8)),
	})
	assert.Equal(t, 1, stats.BalanceCount)
	assert.Equal(t, 8.0, stats.MeanBalance)
	assert.Len(t, gaps, 1)
}

func TestBuild_PriceAttached(t *testing.T) {
	p := &stubPrice{snap: &model.PriceSnapshot{Symbol: "ARK", Price: 1.5}}
	rep := fixedAggregator(p).Build(context.Background(), model.Cycle{}, nil)
	require.NotNil(t, rep.Price)
	assert.Equal(t, 1.5, rep.Price.Price)
}

func TestBuild_PriceFailureOmitsField(t *testing.T) {
	p := &stubPrice{err: errors.New("api down")}
	rep := fixedAggregator(p).Build(context.Background(), model.Cycle{}, []model.ActionOutcome{
		outcome(1, model.KindClaim, true, bal(1)),
	})
	assert.Nil(t, rep.Price)
	assert.True(t, rep.Stats.HasData)
}

func TestBuild_PriceTimeout(t *testing.T) {
	p := &stubPrice{snap: &model.PriceSnapshot{Price: 1}, delay: time.Second}
	a := fixedAggregator(p)
	a.PriceTimeout = 20 * time.Millisecond

	start := time.Now()
	rep := a.Build(context.Background(), model.Cycle{}, nil)
	assert.Nil(t, rep.Price)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type countingSink struct {
	calls int
	err   error
}

func (s *countingSink) Deliver(_ context.Context, _ *model.Report) error {
	s.calls++
	return s.err
}

func TestDeliver_CallsSinkOnce(t *testing.T) {
	sink := &countingSink{}
	require.NoError(t, Deliver(context.Background(), &model.Report{ID: "r"}, sink))
	assert.Equal(t, 1, sink.calls)
}

func TestDeliver_FailureNotRetried(t *testing.T) {
	sink := &countingSink{err: errors.New("smtp down")}
	err := Deliver(context.Background(), &model.Report{ID: "r"}, sink)
	assert.Error(t, err)
	assert.Equal(t, 1, sink.calls)
}

func TestDeliver_NilSink(t *testing.T) {
	assert.NoError(t, Deliver(context.Background(), &model.Report{}, nil))
}
