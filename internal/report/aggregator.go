// Package report folds a cycle's outcomes into one consolidated report and
// hands it to the notification sink.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"VaultKeeper/internal/calculator"
	"VaultKeeper/internal/model"
)

// Sink receives finished reports.
type Sink interface {
	Deliver(ctx context.Context, r *model.Report) error
}

// PriceLookup provides the optional price snapshot.
type PriceLookup interface {
	Snapshot(ctx context.Context) (*model.PriceSnapshot, error)
}

// DefaultPriceTimeout bounds the price lookup so a slow API cannot delay the
// report.
const DefaultPriceTimeout = 10 * time.Second

// Aggregator builds cycle reports.
type Aggregator struct {
	Title        string
	Target       string
	Price        PriceLookup
	PriceTimeout time.Duration
	now          func() time.Time
}

// New creates an Aggregator. price may be nil.
func New(title, target string, price PriceLookup) *Aggregator {
	return &Aggregator{Title: title, Target: target, Price: price, PriceTimeout: DefaultPriceTimeout, now: time.Now}
}

// Build folds outcomes into a report. Outcomes keep their task order.
func (a *Aggregator) Build(ctx context.Context, cycle model.Cycle, outcomes []model.ActionOutcome) *model.Report {
	now := a.now
	if now == nil {
		now = time.Now
	}
	generated := now()
	rep := &model.Report{
		ID:          uuid.NewString(),
		Title:       fmt.Sprintf("%s %s", a.Title, generated.Format("02/01/2006")),
		GeneratedAt: generated,
		Outcomes:    outcomes,
		Target:      a.Target,
		Schedule:    cycle.Schedule,
	}

	stats, gaps := Summarize(outcomes)
	rep.Stats = stats
	rep.Gaps = gaps
	if !stats.HasData {
		rep.Gaps = append(rep.Gaps, "no balances reported by any successful operation")
	}
	for _, g := range rep.Gaps {
		log.Warn().Str("cycle", cycle.ID).Str("gap", g).Msg("aggregation data gap")
	}

	if a.Price != nil {
		rep.Price = a.lookupPrice(ctx)
	}
	return rep
}

func (a *Aggregator) lookupPrice(ctx context.Context) *model.PriceSnapshot {
	timeout := a.PriceTimeout
	if timeout <= 0 {
		timeout = DefaultPriceTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := a.Price.Snapshot(pctx)
	if err != nil {
		log.Warn().Err(err).Msg("price lookup failed, report sent without price")
		return nil
	}
	return snap
}

// Summarize computes the stats. Only the last successful balance per account
// counts, so an account touched in several phases is not weighted twice.
func Summarize(outcomes []model.ActionOutcome) (model.Stats, []string) {
	stats := model.Stats{Total: len(outcomes), MeanBalance: math.NaN()}
	var gaps []string

	latest := make(map[int]float64)
	var order []int
	for _, o := range outcomes {
		if !o.Succeeded {
			stats.Failed++
			continue
		}
		stats.Succeeded++
		bal, ok := o.Balance()
		if !ok {
			if !o.Kind.ReportsBalance() || o.Skipped() {
				continue
			}
			gaps = append(gaps, fmt.Sprintf("account %d %s: no balance in result", o.Account.Index, o.Kind))
			continue
		}
		if !calculator.Finite(bal) {
			gaps = append(gaps, fmt.Sprintf("account %d %s: non-finite balance", o.Account.Index, o.Kind))
			continue
		}
		if _, seen := latest[o.Account.Index]; !seen {
			order = append(order, o.Account.Index)
		}
		latest[o.Account.Index] = bal
	}

	values := make([]float64, 0, len(order))
	for _, idx := range order {
		values = append(values, latest[idx])
	}

	mean, err := calculator.Mean(values)
	if errors.Is(err, calculator.ErrNoData) {
		return stats, gaps
	}
	high, low, _ := calculator.Range(values)
	stats.HasData = true
	stats.BalanceCount = len(values)
	stats.MeanBalance = mean
	stats.MinBalance = low
	stats.MaxBalance = high
	stats.SumBalance = calculator.Sum(values)
	return stats, gaps
}

// Deliver hands the report to the sink exactly once. A failure is logged and
// returned; it is not retried within the cycle.
func Deliver(ctx context.Context, r *model.Report, sink Sink) error {
	if sink == nil {
		return nil
	}
	if err := sink.Deliver(ctx, r); err != nil {
		log.Error().Err(err).Str("report", r.ID).Msg("report delivery failed")
		return fmt.Errorf("deliver report: %w", err)
	}
	log.Info().Str("report", r.ID).Int("outcomes", len(r.Outcomes)).Msg("report delivered")
	return nil
}
