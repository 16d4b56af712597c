// Package policy decides which operations run for which account in a cycle.
package policy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"VaultKeeper/internal/model"
)

// StateReader reads a numeric on-chain value for an account.
type StateReader interface {
	ReadState(ctx context.Context, acct model.Account, query string) (float64, error)
}

type calendarEntry struct {
	rule CalendarRule
	kind model.OperationKind
}

type redirect struct {
	from, to  model.OperationKind
	query     string
	threshold float64
}

// Selector turns Rules into per-cycle tasks.
type Selector struct {
	base      model.OperationKind
	overrides map[int]model.OperationKind
	calendar  []calendarEntry
	redirects []redirect
	followUps map[model.OperationKind][]model.OperationKind
	reader    StateReader
}

// NewSelector validates rules. reader may be nil when no redirect is configured.
func NewSelector(rules Rules, reader StateReader) (*Selector, error) {
	s := &Selector{
		overrides: make(map[int]model.OperationKind),
		followUps: make(map[model.OperationKind][]model.OperationKind),
		reader:    reader,
	}

	var err error
	if s.base, err = model.ParseKind(rules.Default); err != nil {
		return nil, model.NewConfigError("policy.default", "%v", err)
	}
	for idx, k := range rules.Overrides {
		if idx < 1 {
			return nil, model.NewConfigError("policy.overrides", "account index %d must be >= 1", idx)
		}
		kind, err := model.ParseKind(k)
		if err != nil {
			return nil, model.NewConfigError("policy.overrides", "%v", err)
		}
		s.overrides[idx] = kind
	}
	for i, r := range rules.Calendar {
		kind, err := model.ParseKind(r.Kind)
		if err != nil {
			return nil, model.NewConfigError(fmt.Sprintf("policy.calendar[%d]", i), "%v", err)
		}
		if err := r.validate(); err != nil {
			return nil, model.NewConfigError(fmt.Sprintf("policy.calendar[%d]", i), "%v", err)
		}
		s.calendar = append(s.calendar, calendarEntry{rule: r, kind: kind})
	}
	for i, r := range rules.Redirects {
		field := fmt.Sprintf("policy.redirects[%d]", i)
		from, err := model.ParseKind(r.From)
		if err != nil {
			return nil, model.NewConfigError(field, "%v", err)
		}
		to, err := model.ParseKind(r.To)
		if err != nil {
			return nil, model.NewConfigError(field, "%v", err)
		}
		if r.Query == "" {
			return nil, model.NewConfigError(field, "query is required")
		}
		if reader == nil {
			return nil, model.NewConfigError(field, "redirects need a ledger state reader")
		}
		s.redirects = append(s.redirects, redirect{from: from, to: to, query: r.Query, threshold: r.Threshold})
	}
	for k, next := range rules.FollowUps {
		from, err := model.ParseKind(k)
		if err != nil {
			return nil, model.NewConfigError("policy.follow_ups", "%v", err)
		}
		for _, n := range next {
			kind, err := model.ParseKind(n)
			if err != nil {
				return nil, model.NewConfigError("policy.follow_ups", "%v", err)
			}
			s.followUps[from] = append(s.followUps[from], kind)
		}
	}
	if err := checkAcyclic(s.followUps); err != nil {
		return nil, model.NewConfigError("policy.follow_ups", "%v", err)
	}
	return s, nil
}

// Select returns the tasks of a cycle. Phase 0 holds each account's base
// operation, phase 1 the calendar operations due on this cycle.
func (s *Selector) Select(ctx context.Context, cycle model.Cycle, accounts []model.Account) []model.Task {
	base := make([]model.Task, len(accounts))
	var g errgroup.Group
	for i, acct := range accounts {
		kind := s.base
		if k, ok := s.overrides[acct.Index]; ok {
			kind = k
		}
		g.Go(func() error {
			base[i] = model.Task{Account: acct, Kind: s.redirect(ctx, acct, kind), Phase: 0}
			return nil
		})
	}
	_ = g.Wait()

	tasks := base
	for _, c := range s.calendar {
		if !c.rule.Matches(cycle.StartedAt, cycle.Number) {
			continue
		}
		log.Info().Str("kind", string(c.kind)).Str("mode", c.rule.Mode).Msg("calendar rule due this cycle")
		for _, acct := range accounts {
			tasks = append(tasks, model.Task{Account: acct, Kind: c.kind, Phase: 1})
		}
	}
	return tasks
}

// redirect applies the first matching state redirect for one account. A
// failed read keeps the selected kind.
func (s *Selector) redirect(ctx context.Context, acct model.Account, kind model.OperationKind) model.OperationKind {
	for _, r := range s.redirects {
		if r.from != kind {
			continue
		}
		v, err := s.reader.ReadState(ctx, acct, r.query)
		if err != nil {
			log.Warn().Err(err).Int("account", acct.Index).Str("query", r.query).
				Msgf("state read failed, keeping %s", kind)
			return kind
		}
		if v < r.threshold {
			log.Info().Int("account", acct.Index).Float64(r.query, v).Float64("threshold", r.threshold).
				Msgf("redirecting %s to %s", r.from, r.to)
			return r.to
		}
		return kind
	}
	return kind
}

// FollowUps returns the tasks triggered by successful outcomes, one phase
// after the outcome that triggered them.
func (s *Selector) FollowUps(outcomes []model.ActionOutcome) []model.Task {
	var tasks []model.Task
	for _, o := range outcomes {
		if !o.Succeeded {
			continue
		}
		for _, k := range s.followUps[o.Kind] {
			tasks = append(tasks, model.Task{Account: o.Account, Kind: k, Phase: o.Phase + 1})
		}
	}
	return tasks
}

func checkAcyclic(graph map[model.OperationKind][]model.OperationKind) error {
	const (
		unvisited = iota
		inProgress
		done
	)
	marks := make(map[model.OperationKind]int)
	var visit func(k model.OperationKind) error
	visit = func(k model.OperationKind) error {
		switch marks[k] {
		case inProgress:
			return fmt.Errorf("follow-up loop through %s", k)
		case done:
			return nil
		}
		marks[k] = inProgress
		for _, n := range graph[k] {
			if err := visit(n); err != nil {
				return err
			}
		}
		marks[k] = done
		return nil
	}
	for k := range graph {
		if err := visit(k); err != nil {
			return err
		}
	}
	return nil
}
