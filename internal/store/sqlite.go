// Package store provides storage backends for rotor.
//
// This file implements the SQLite-backed state and target stores.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/outreachloop/rotor/internal/models"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists schedule state and target tracking in a SQLite
// database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadState returns the persisted schedule state, or nil if none was
// saved yet. Decoding failures surface as errors so corrupted state is
// rejected rather than silently repaired.
func (s *SQLiteStore) LoadState() (*models.ScheduleState, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM schedule_state WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore.LoadState: no persisted state")
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.LoadState query failed", "error", err)
		return nil, fmt.Errorf("failed to load schedule state: %w", err)
	}
	var st models.ScheduleState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		slog.Error("SQLiteStore.LoadState decode failed", "error", err)
		return nil, fmt.Errorf("failed to decode schedule state: %w", err)
	}
	return &st, nil
}

// SaveState persists the schedule state as a single JSON document.
func (s *SQLiteStore) SaveState(st *models.ScheduleState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode schedule state: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO schedule_state (id, data, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		string(data), st.SavedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveState failed", "error", err)
		return fmt.Errorf("failed to save schedule state: %w", err)
	}
	slog.Debug("SQLiteStore.SaveState succeeded", "saved_at", st.SavedAt)
	return nil
}

// EnsureTarget inserts a target if it is not tracked yet.
func (s *SQLiteStore) EnsureTarget(key, name string) error {
	_, err := s.db.Exec(
		`INSERT INTO targets (key, name, status) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING`,
		key, name, models.TargetStatusActive,
	)
	if err != nil {
		slog.Error("SQLiteStore.EnsureTarget failed", "error", err, "key", key)
		return fmt.Errorf("failed to ensure target %s: %w", key, err)
	}
	return nil
}

// ReadTargetSnapshots returns one snapshot per tracked target, with
// days-since values computed relative to now's calendar date.
func (s *SQLiteStore) ReadTargetSnapshots(now time.Time) ([]models.TargetSnapshot, error) {
	rows, err := s.db.Query(
		`SELECT key, name, last_action_date, last_content_date, action_count, consecutive_non_actionable, status FROM targets`)
	if err != nil {
		slog.Error("SQLiteStore.ReadTargetSnapshots query failed", "error", err)
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	today := models.DateOf(now)
	var snaps []models.TargetSnapshot
	for rows.Next() {
		var snap models.TargetSnapshot
		var lastAction, lastContent sql.NullString
		var status string
		if err := rows.Scan(&snap.Key, &snap.Name, &lastAction, &lastContent,
			&snap.LifetimeActionCount, &snap.ConsecutiveNonActionable, &status); err != nil {
			slog.Error("SQLiteStore.ReadTargetSnapshots scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		snap.Status = models.TargetStatus(status)
		snap.DaysSinceLastAction = daysSinceText(today, lastAction)
		snap.DaysSinceLastContent = daysSinceText(today, lastContent)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate target rows: %w", err)
	}
	slog.Debug("SQLiteStore.ReadTargetSnapshots succeeded", "count", len(snaps))
	return snaps, nil
}

// WriteTargetOutcome applies an action outcome to the tracker. A done
// outcome resets the coverage clock and the non-actionable streak; any
// other terminal outcome extends the streak.
func (s *SQLiteStore) WriteTargetOutcome(key string, outcome models.ActionStatus, ts time.Time) error {
	var res sql.Result
	var err error
	if outcome.ResetsCoverage() {
		res, err = s.db.Exec(
			`UPDATE targets SET last_action_date = ?, action_count = action_count + 1, consecutive_non_actionable = 0 WHERE key = ?`,
			models.DateOf(ts).String(), key,
		)
	} else {
		res, err = s.db.Exec(
			`UPDATE targets SET consecutive_non_actionable = consecutive_non_actionable + 1 WHERE key = ?`,
			key,
		)
	}
	if err != nil {
		slog.Error("SQLiteStore.WriteTargetOutcome failed", "error", err, "key", key, "outcome", outcome)
		return fmt.Errorf("failed to write outcome for %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("SQLiteStore.WriteTargetOutcome: target not tracked", "key", key)
	}
	return nil
}

// LogAction appends an audit row. An empty ID is filled in.
func (s *SQLiteStore) LogAction(entry models.ActionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO action_log (id, run_id, target_key, name, outcome, detail, logged_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RunID, entry.TargetKey, entry.Name, entry.Outcome, entry.Detail, entry.LoggedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.LogAction failed", "error", err, "target", entry.TargetKey)
		return fmt.Errorf("failed to insert action log row: %w", err)
	}
	return nil
}

// daysSinceText converts a nullable ISO date column into a days-since
// value; NULL or malformed dates map to -1 (unknown).
func daysSinceText(today models.Date, col sql.NullString) float64 {
	if !col.Valid || col.String == "" {
		return -1
	}
	d, err := models.ParseDate(col.String)
	if err != nil {
		slog.Warn("store: malformed date column", "value", col.String)
		return -1
	}
	return float64(today.DaysSince(d))
}
