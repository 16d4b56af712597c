package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"VaultKeeper/internal/model"
)

// SQLRecorder persists reports through sqlx. The driver is "sqlite" for a
// local file or "postgres" for a shared database.
type SQLRecorder struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewSQLRecorder opens (or creates) the database and runs migrations.
func NewSQLRecorder(ctx context.Context, driver, dsn string) (*SQLRecorder, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, model.NewConfigError("database.driver", "unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// Readers (dashboards) can query while the keeper writes.
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
	}

	r := &SQLRecorder{db: db}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("driver", driver).Msg("sql recorder opened")
	return r, nil
}

func (r *SQLRecorder) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			report_id    TEXT PRIMARY KEY,
			title        TEXT NOT NULL,
			generated_at BIGINT NOT NULL,
			cycle_count  INTEGER NOT NULL,
			next_run     BIGINT NOT NULL,
			total        INTEGER NOT NULL,
			succeeded    INTEGER NOT NULL,
			failed       INTEGER NOT NULL,
			mean_balance DOUBLE PRECISION,
			price        DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_ts ON cycles(generated_at)`,

		`CREATE TABLE IF NOT EXISTS outcomes (
			report_id     TEXT NOT NULL,
			seq           INTEGER NOT NULL,
			account_index INTEGER NOT NULL,
			account_id    TEXT NOT NULL,
			kind          TEXT NOT NULL,
			phase         INTEGER NOT NULL,
			succeeded     BOOLEAN NOT NULL,
			attempts      INTEGER NOT NULL,
			tx_ref        TEXT NOT NULL,
			balance       DOUBLE PRECISION,
			error         TEXT NOT NULL,
			PRIMARY KEY (report_id, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS attempts (
			report_id   TEXT NOT NULL,
			seq         INTEGER NOT NULL,
			attempt     INTEGER NOT NULL,
			state       TEXT NOT NULL,
			fee_rate    DOUBLE PRECISION NOT NULL,
			gas_limit   BIGINT NOT NULL,
			timeout_ms  BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL,
			error       TEXT NOT NULL,
			PRIMARY KEY (report_id, seq, attempt)
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", strings.Fields(s)[5], err)
		}
	}
	return nil
}

// Record stores the report, its outcomes and their attempts in one
// transaction.
func (r *SQLRecorder) Record(ctx context.Context, rep *model.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var mean, price *float64
	if rep.Stats.HasData {
		m := rep.Stats.MeanBalance
		mean = &m
	}
	if rep.Price != nil {
		p := rep.Price.Price
		price = &p
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO cycles
		(report_id, title, generated_at, cycle_count, next_run, total, succeeded, failed, mean_balance, price)
		VALUES (?,?,?,?,?,?,?,?,?,?)`),
		rep.ID, rep.Title, rep.GeneratedAt.Unix(), rep.Schedule.CycleCount, rep.Schedule.NextRun.Unix(),
		rep.Stats.Total, rep.Stats.Succeeded, rep.Stats.Failed, mean, price,
	); err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	outcomeSQL := tx.Rebind(`INSERT INTO outcomes
		(report_id, seq, account_index, account_id, kind, phase, succeeded, attempts, tx_ref, balance, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	attemptSQL := tx.Rebind(`INSERT INTO attempts
		(report_id, seq, attempt, state, fee_rate, gas_limit, timeout_ms, duration_ms, error)
		VALUES (?,?,?,?,?,?,?,?,?)`)

	for seq, o := range rep.Outcomes {
		var txRef string
		var balance *float64
		if o.Result != nil {
			txRef = o.Result.TxRef
			balance = o.Result.Balance
		}
		if _, err := tx.ExecContext(ctx, outcomeSQL,
			rep.ID, seq, o.Account.Index, o.Account.ID, string(o.Kind), o.Phase,
			o.Succeeded, o.Attempts, txRef, balance, o.Error,
		); err != nil {
			return fmt.Errorf("insert outcome %d: %w", seq, err)
		}
		for _, a := range o.History {
			if _, err := tx.ExecContext(ctx, attemptSQL,
				rep.ID, seq, a.Attempt, string(a.State), a.Budget.FeeRate, int64(a.Budget.GasLimit),
				a.Budget.Timeout.Milliseconds(), a.Duration.Milliseconds(), a.Err,
			); err != nil {
				return fmt.Errorf("insert attempt %d/%d: %w", seq, a.Attempt, err)
			}
		}
	}
	return tx.Commit()
}

// RecentCycles returns the newest cycles first.
func (r *SQLRecorder) RecentCycles(ctx context.Context, limit int) ([]CycleRow, error) {
	var rows []CycleRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT
		report_id, title, generated_at, cycle_count, next_run, total, succeeded, failed, mean_balance, price
		FROM cycles ORDER BY generated_at DESC, cycle_count DESC LIMIT ?`), limit)
	return rows, err
}

// Outcomes returns the stored outcomes of one report in task order.
func (r *SQLRecorder) Outcomes(ctx context.Context, reportID string) ([]OutcomeRow, error) {
	var rows []OutcomeRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT
		report_id, seq, account_index, account_id, kind, phase, succeeded, attempts, tx_ref, balance, error
		FROM outcomes WHERE report_id = ? ORDER BY seq`), reportID)
	return rows, err
}

// AttemptCount returns how many attempts were stored for a report.
func (r *SQLRecorder) AttemptCount(ctx context.Context, reportID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM attempts WHERE report_id = ?`), reportID)
	return n, err
}

func (r *SQLRecorder) Close() error {
	log.Info().Msg("closing sql recorder")
	return r.db.Close()
}
