package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"VaultKeeper/internal/config"
	"VaultKeeper/internal/model"
	"VaultKeeper/internal/notifier"
	"VaultKeeper/internal/recorder"
	"VaultKeeper/internal/registry"
	"VaultKeeper/internal/scheduler"
	"VaultKeeper/internal/server"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})

	var cfgPath string
	rootCmd := &cobra.Command{
		Use:           "keeper",
		Short:         "Recurring maintenance for a ring of vault accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default $CONFIG_PATH or "+config.DefaultPath+")")

	load := func() (*config.Config, error) {
		path := cfgPath
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}
		if path == "" {
			path = config.DefaultPath
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		setupLogging(cfg)
		return cfg, nil
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler until interrupted",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runDaemon(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run one cycle now, persist the schedule and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return runOnce(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the persisted schedule",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return printStatus(cmd.Context(), cfg)
			},
		},
		historyCmd(load),
		&cobra.Command{
			Use:   "ring",
			Short: "Build and verify the account ring",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return printRing(cfg)
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("keeper failed")
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	log.Info().
		Int("accounts", len(app.Runner.Accounts)).
		Int("max_attempts", cfg.MaxAttempts()).
		Str("store", app.Store.Name()).
		Msg("VaultKeeper starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Scheduler.RunForever(gctx) })

	if cfg.HTTP.Addr != "" {
		srv := server.New(cfg.HTTP.Addr, app.Scheduler, app.Runner.LastReport, app.Metrics.Handler())
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	if tn, ok := app.Sink.(*notifier.TelegramNotifier); ok && cfg.Telegram.Commands {
		cmds := &scheduler.Commands{Scheduler: app.Scheduler, LastReport: app.Runner.LastReport}
		g.Go(func() error {
			tn.StartPolling(gctx, cmds.Handle)
			return nil
		})
		log.Info().Msg("telegram polling started")
	}

	err = g.Wait()
	log.Info().Msg("VaultKeeper stopped")
	return err
}

func runOnce(ctx context.Context, cfg *config.Config) error {
	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.Scheduler.LoadOrInit(ctx); err != nil {
		return err
	}
	err = app.Scheduler.RunCycleNow(context.WithoutCancel(ctx))
	st := app.Scheduler.State()
	fmt.Printf("cycle %d done, next run %s\n", st.CycleCount, st.NextRun.Format(time.RFC3339))
	if app.Scheduler.PendingWrite() {
		return fmt.Errorf("schedule state could not be persisted to %s", app.Store.Name())
	}
	return err
}

func printStatus(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	st, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", store.Name(), err)
	}
	fmt.Printf("store:        %s\n", store.Name())
	fmt.Printf("cycles:       %d\n", st.CycleCount)
	fmt.Printf("previous run: %s\n", st.PreviousRun.Format(time.RFC3339))
	fmt.Printf("next run:     %s", st.NextRun.Format(time.RFC3339))
	if d := time.Until(st.NextRun); d > 0 {
		fmt.Printf(" (in %s)\n", d.Round(time.Second))
	} else {
		fmt.Println(" (due)")
	}
	return nil
}

func printRing(cfg *config.Config) error {
	accounts, err := registry.BuildRing(cfg.Accounts.Count, ringSource(cfg))
	if err != nil {
		return err
	}
	if err := registry.VerifyRing(accounts); err != nil {
		return err
	}
	for _, a := range accounts {
		fmt.Printf("%2d  %s  referrer %s  downline %s\n", a.Index, a.Masked(),
			model.Account{ID: a.Referrer}.Masked(), model.Account{ID: a.Downline}.Masked())
	}
	fmt.Printf("ring of %d accounts verified\n", len(accounts))
	return nil
}

func historyCmd(load func() (*config.Config, error)) *cobra.Command {
	var limit int
	var reportID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recorded cycles, or the outcomes of one report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return model.NewConfigError("database.dsn", "history needs a database")
			}
			rec, err := recorder.NewSQLRecorder(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer rec.Close()
			if reportID != "" {
				return printOutcomes(cmd.Context(), rec, reportID)
			}
			return printCycles(cmd.Context(), rec, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of cycles to list")
	cmd.Flags().StringVar(&reportID, "report", "", "show the outcomes of one report")
	return cmd
}

func printCycles(ctx context.Context, rec *recorder.SQLRecorder, limit int) error {
	rows, err := rec.RecentCycles(ctx, limit)
	if err != nil {
		return fmt.Errorf("read cycles: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("no cycles recorded")
		return nil
	}
	for _, r := range rows {
		mean := "n/a"
		if r.MeanBalance != nil {
			mean = fmt.Sprintf("%.4f", *r.MeanBalance)
		}
		fmt.Printf("%s  #%-4d %s  ok %d/%d  mean %s\n", r.ReportID,
			r.CycleCount, time.Unix(r.GeneratedAt, 0).Format(time.DateTime), r.Succeeded, r.Total, mean)
	}
	return nil
}

func printOutcomes(ctx context.Context, rec *recorder.SQLRecorder, reportID string) error {
	rows, err := rec.Outcomes(ctx, reportID)
	if err != nil {
		return fmt.Errorf("read outcomes: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("no outcomes recorded for report %s", reportID)
	}
	attempts, err := rec.AttemptCount(ctx, reportID)
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	for _, o := range rows {
		state := "ok"
		if !o.Succeeded {
			state = "FAILED " + o.Error
		}
		fmt.Printf("phase %d  %2d %-13s %d tries  %s\n", o.Phase, o.AccountIndex, o.Kind, o.Attempts, state)
	}
	fmt.Printf("%d outcomes, %d attempts\n", len(rows), attempts)
	return nil
}
