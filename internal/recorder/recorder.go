// Package recorder keeps the history of cycles, outcomes and attempts for
// later analysis.
package recorder

import (
	"context"

	"VaultKeeper/internal/model"
)

// Recorder persists historical data for analysis.
type Recorder interface {
	Record(ctx context.Context, r *model.Report) error
	Close() error
}

// CycleRow is one stored report.
type CycleRow struct {
	ReportID    string   `db:"report_id"`
	Title       string   `db:"title"`
	GeneratedAt int64    `db:"generated_at"`
	CycleCount  int      `db:"cycle_count"`
	NextRun     int64    `db:"next_run"`
	Total       int      `db:"total"`
	Succeeded   int      `db:"succeeded"`
	Failed      int      `db:"failed"`
	MeanBalance *float64 `db:"mean_balance"`
	Price       *float64 `db:"price"`
}

// OutcomeRow is one stored outcome.
type OutcomeRow struct {
	ReportID     string   `db:"report_id"`
	Seq          int      `db:"seq"`
	AccountIndex int      `db:"account_index"`
	AccountID    string   `db:"account_id"`
	Kind         string   `db:"kind"`
	Phase        int      `db:"phase"`
	Succeeded    bool     `db:"succeeded"`
	Attempts     int      `db:"attempts"`
	TxRef        string   `db:"tx_ref"`
	Balance      *float64 `db:"balance"`
	Error        string   `db:"error"`
}
