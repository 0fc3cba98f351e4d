// Package store provides storage backends for rotor.
//
// This file implements the PostgreSQL-backed state and target stores.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/outreachloop/rotor/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists schedule state and target tracking in
// PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// LoadState returns the persisted schedule state, or nil if none was
// saved yet.
func (s *PostgresStore) LoadState() (*models.ScheduleState, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM schedule_state WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore.LoadState: no persisted state")
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.LoadState query failed", "error", err)
		return nil, fmt.Errorf("failed to load schedule state: %w", err)
	}
	var st models.ScheduleState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		slog.Error("PostgresStore.LoadState decode failed", "error", err)
		return nil, fmt.Errorf("failed to decode schedule state: %w", err)
	}
	return &st, nil
}

// SaveState persists the schedule state as a single JSON document.
func (s *PostgresStore) SaveState(st *models.ScheduleState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode schedule state: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO schedule_state (id, data, saved_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at`,
		string(data), st.SavedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveState failed", "error", err)
		return fmt.Errorf("failed to save schedule state: %w", err)
	}
	return nil
}

// EnsureTarget inserts a target if it is not tracked yet.
func (s *PostgresStore) EnsureTarget(key, name string) error {
	_, err := s.db.Exec(
		`INSERT INTO targets (key, name, status) VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`,
		key, name, models.TargetStatusActive,
	)
	if err != nil {
		slog.Error("PostgresStore.EnsureTarget failed", "error", err, "key", key)
		return fmt.Errorf("failed to ensure target %s: %w", key, err)
	}
	return nil
}

// ReadTargetSnapshots returns one snapshot per tracked target, with
// days-since values computed relative to now's calendar date.
func (s *PostgresStore) ReadTargetSnapshots(now time.Time) ([]models.TargetSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT key, name, last_action_date, last_content_date, action_count, consecutive_non_actionable, status FROM targets`)
	if err != nil {
		slog.Error("PostgresStore.ReadTargetSnapshots query failed", "error", err)
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	today := models.DateOf(now)
	var snaps []models.TargetSnapshot
	for rows.Next() {
		var snap models.TargetSnapshot
		var lastAction, lastContent sql.NullTime
		var status string
		if err := rows.Scan(&snap.Key, &snap.Name, &lastAction, &lastContent,
			&snap.LifetimeActionCount, &snap.ConsecutiveNonActionable, &status); err != nil {
			slog.Error("PostgresStore.ReadTargetSnapshots scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		snap.Status = models.TargetStatus(status)
		snap.DaysSinceLastAction = daysSinceTime(today, lastAction)
		snap.DaysSinceLastContent = daysSinceTime(today, lastContent)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate target rows: %w", err)
	}
	slog.Debug("PostgresStore.ReadTargetSnapshots succeeded", "count", len(snaps))
	return snaps, nil
}

// WriteTargetOutcome applies an action outcome to the tracker.
func (s *PostgresStore) WriteTargetOutcome(key string, outcome models.ActionStatus, ts time.Time) error {
	var res sql.Result
	var err error
	if outcome.ResetsCoverage() {
		res, err = s.db.Exec(
			`UPDATE targets SET last_action_date = $1, action_count = action_count + 1, consecutive_non_actionable = 0 WHERE key = $2`,
			models.DateOf(ts).Time(time.UTC), key,
		)
	} else {
		res, err = s.db.Exec(
			`UPDATE targets SET consecutive_non_actionable = consecutive_non_actionable + 1 WHERE key = $1`,
			key,
		)
	}
	if err != nil {
		slog.Error("PostgresStore.WriteTargetOutcome failed", "error", err, "key", key, "outcome", outcome)
		return fmt.Errorf("failed to write outcome for %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("PostgresStore.WriteTargetOutcome: target not tracked", "key", key)
	}
	return nil
}

// LogAction appends an audit row. An empty ID is filled in.
func (s *PostgresStore) LogAction(entry models.ActionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO action_log (id, run_id, target_key, name, outcome, detail, logged_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.RunID, entry.TargetKey, entry.Name, entry.Outcome, entry.Detail, entry.LoggedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.LogAction failed", "error", err, "target", entry.TargetKey)
		return fmt.Errorf("failed to insert action log row: %w", err)
	}
	return nil
}

// daysSinceTime converts a nullable DATE column into a days-since
// value; NULL maps to -1 (unknown).
func daysSinceTime(today models.Date, col sql.NullTime) float64 {
	if !col.Valid {
		return -1
	}
	return float64(today.DaysSince(models.DateOf(col.Time)))
}
