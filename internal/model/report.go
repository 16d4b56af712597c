package model

import "time"

// PriceSnapshot is the market price attached to a report when available.
type PriceSnapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Stats aggregates balances over successful outcomes. MeanBalance is NaN when
// HasData is false.
type Stats struct {
	Total        int     `json:"total"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	BalanceCount int     `json:"balance_count"`
	HasData      bool    `json:"has_data"`
	MeanBalance  float64 `json:"-"`
	MinBalance   float64 `json:"min_balance,omitempty"`
	MaxBalance   float64 `json:"max_balance,omitempty"`
	SumBalance   float64 `json:"sum_balance,omitempty"`
}

// Report is the consolidated result of one cycle.
type Report struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	GeneratedAt time.Time       `json:"generated_at"`
	Outcomes    []ActionOutcome `json:"outcomes"`
	Stats       Stats           `json:"stats"`
	Target      string          `json:"target,omitempty"`
	Price       *PriceSnapshot  `json:"price,omitempty"`
	Schedule    ScheduleState   `json:"schedule"`
	Gaps        []string        `json:"gaps,omitempty"`
}

// Failures returns the failed outcomes in report order.
func (r *Report) Failures() []ActionOutcome {
	var out []ActionOutcome
	for _, o := range r.Outcomes {
		if !o.Succeeded {
			out = append(out, o)
		}
	}
	return out
}
