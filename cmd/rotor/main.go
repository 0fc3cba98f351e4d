// rotor schedules and drives a paced weekly rotation of external
// actions across a tracked target population.
//
// The binary wires the storage backend, the scheduling core, the daily
// runner and the HTTP API, then runs until interrupted. Each day at the
// start of the operating window the runner works through the day's
// queue; the weekly plan regenerates itself across week boundaries.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/outreachloop/rotor/internal/api"
	"github.com/outreachloop/rotor/internal/config"
	"github.com/outreachloop/rotor/internal/health"
	"github.com/outreachloop/rotor/internal/lockfile"
	"github.com/outreachloop/rotor/internal/models"
	"github.com/outreachloop/rotor/internal/runner"
	"github.com/outreachloop/rotor/internal/scheduler"
	"github.com/outreachloop/rotor/internal/scorer"
	"github.com/outreachloop/rotor/internal/store"
	"github.com/outreachloop/rotor/internal/timing"
)

// DefaultDBFileName is the SQLite file created inside the state
// directory when no DSN is configured.
const DefaultDBFileName = "rotor.db"

// Store is the combined storage contract the main wiring needs.
type Store interface {
	LoadState() (*models.ScheduleState, error)
	SaveState(*models.ScheduleState) error
	EnsureTarget(key, name string) error
	ReadTargetSnapshots(now time.Time) ([]models.TargetSnapshot, error)
	WriteTargetOutcome(key string, outcome models.ActionStatus, ts time.Time) error
	LogAction(entry models.ActionLogEntry) error
	Close() error
}

// Flags holds command line flag values.
type Flags struct {
	stateDir   *string
	dbDSN      *string
	apiAddr    *string
	dryRun     *bool
	once       *bool
	seed       *uint64
	engagerCmd *string
	addTarget  *string
	targetName *string
}

func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads the .env file and the typed environment
// configuration.
func loadEnvironmentConfig() (*config.AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
	return config.Load()
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(cfg *config.AppConfig) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", cfg.StateDir, "state directory for rotor data (overrides $ROTOR_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", cfg.DatabaseDSN, "database DSN, postgres URL or SQLite path (overrides $DATABASE_URL)"),
		apiAddr:    flag.String("api-addr", cfg.APIAddr, "API server address (overrides $ROTOR_API_ADDR)"),
		dryRun:     flag.Bool("dry-run", false, "resolve every action as done without engaging"),
		once:       flag.Bool("once", false, "run today's queue immediately and exit"),
		seed:       flag.Uint64("seed", 0, "random seed for reproducible plans (0 seeds from the clock)"),
		engagerCmd: flag.String("engager-cmd", "", "external command invoked per action, reads EngageResult JSON from its stdout"),
		addTarget:  flag.String("add-target", "", "register a target key and exit"),
		targetName: flag.String("target-name", "", "display name for -add-target"),
	}
	flag.Parse()

	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}
	return flags
}

// openStore selects the storage backend by DSN type.
func openStore(dsn string) (Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// newRand builds the shared random source, seeded for reproducibility
// when requested.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed>>1))
}

// selectEngager picks the engagement backend from flags.
func selectEngager(flags Flags) runner.Engager {
	if *flags.dryRun || *flags.engagerCmd == "" {
		if !*flags.dryRun {
			slog.Warn("No engager command configured, falling back to dry-run engager")
		}
		return runner.DryRunEngager{}
	}
	return runner.CommandEngager{Command: *flags.engagerCmd}
}

func main() {
	initializeLogger()

	cfg, err := loadEnvironmentConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	flags := parseCommandLineFlags(cfg)

	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lock.Release()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if *flags.addTarget != "" {
		if err := st.EnsureTarget(*flags.addTarget, *flags.targetName); err != nil {
			slog.Error("Failed to register target", "error", err, "key", *flags.addTarget)
			os.Exit(1)
		}
		slog.Info("Target registered", "key", *flags.addTarget, "name", *flags.targetName)
		return
	}

	rng := newRand(*flags.seed)
	sc := scorer.New(cfg.ScorerConfig(), rng)
	tg := timing.New(cfg.TimingConfig(), rng)

	sched, err := scheduler.New(cfg.SchedulerConfig(), sc, tg, st, st,
		scheduler.WithRand(rng),
		scheduler.WithDiscardInvalidPlan())
	if err != nil {
		slog.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}

	monitor := health.NewMonitor(nil)
	run := runner.New(cfg.RunnerConfig(), sched, selectEngager(flags), monitor,
		runner.WithAuditLog(st),
		runner.WithRand(rng))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *flags.once {
		stats, err := run.RunDay(ctx)
		if err != nil {
			slog.Error("Run failed", "error", err, "run_id", stats.RunID)
			os.Exit(1)
		}
		slog.Info("Run complete",
			"run_id", stats.RunID,
			"attempted", stats.Attempted,
			"done", stats.Done,
			"failed", stats.Failed,
			"aborted", stats.Aborted)
		return
	}

	srv := api.NewServer(sched, st, api.WithAddr(*flags.apiAddr))
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("API server failed", "error", err)
			stop()
		}
	}()

	// Fire the runner at the start of each day's operating window.
	start, _ := models.ParseClock(cfg.OperatingStart)
	c := cron.New(cron.WithLocation(cfg.Location()))
	spec := fmt.Sprintf("%d %d * * *", start.Minute(), start.Hour())
	if _, err := c.AddFunc(spec, func() {
		stats, err := run.RunDay(ctx)
		if err != nil {
			slog.Error("Daily run failed", "error", err, "run_id", stats.RunID)
			return
		}
		slog.Info("Daily run complete",
			"run_id", stats.RunID,
			"attempted", stats.Attempted,
			"done", stats.Done,
			"failed", stats.Failed,
			"aborted", stats.Aborted)
	}); err != nil {
		slog.Error("Failed to schedule daily run", "error", err, "spec", spec)
		os.Exit(1)
	}
	c.Start()
	slog.Info("rotor running", "daily_trigger", spec, "api_addr", *flags.apiAddr)

	<-ctx.Done()
	slog.Info("Shutting down")

	cronCtx := c.Stop()
	<-cronCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API shutdown failed", "error", err)
	}
}
