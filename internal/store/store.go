// Package store provides storage backends for rotor.
//
// Two concerns live here: the scheduler's persisted state (weekly plan
// plus usage counters, stored as a single JSON document so the on-disk
// schema is format-agnostic) and the target tracker (per-target
// coverage state plus an append-only action audit log). Each concern
// has SQLite, PostgreSQL and in-memory implementations selected by DSN.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outreachloop/rotor/internal/models"
)

// Opts holds configuration for store backends.
type Opts struct {
	// DSN is the database connection string. File paths select SQLite,
	// postgres:// URLs or key=value DSNs select PostgreSQL.
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite".
// PostgreSQL DSNs are URLs (postgres:// or postgresql://) or key=value
// strings containing host=; anything else is treated as a SQLite file
// path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStateStore keeps schedule state in memory. It round-trips
// the state through JSON on every save/load so it exercises the same
// serialization path as the durable backends.
type InMemoryStateStore struct {
	mu   sync.Mutex
	data []byte
}

// NewInMemoryStateStore creates an empty in-memory state store.
func NewInMemoryStateStore() *InMemoryStateStore {
	return &InMemoryStateStore{}
}

// LoadState returns the stored state, or nil if nothing was saved yet.
func (s *InMemoryStateStore) LoadState() (*models.ScheduleState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	var st models.ScheduleState
	if err := json.Unmarshal(s.data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode schedule state: %w", err)
	}
	return &st, nil
}

// SaveState persists the state.
func (s *InMemoryStateStore) SaveState(st *models.ScheduleState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode schedule state: %w", err)
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// targetRow is the in-memory tracker row, mirroring the SQL schema.
type targetRow struct {
	Key                      string
	Name                     string
	LastActionDate           *models.Date
	LastContentDate          *models.Date
	ActionCount              int
	ConsecutiveNonActionable int
	Status                   models.TargetStatus
}

// InMemoryTargetStore keeps the target tracker and audit log in memory.
// It is used in tests and dry runs.
type InMemoryTargetStore struct {
	mu      sync.Mutex
	targets map[string]*targetRow
	order   []string
	log     []models.ActionLogEntry
}

// NewInMemoryTargetStore creates an empty in-memory target store.
func NewInMemoryTargetStore() *InMemoryTargetStore {
	return &InMemoryTargetStore{targets: make(map[string]*targetRow)}
}

// EnsureTarget inserts a target if it is not tracked yet. Existing
// targets are left untouched.
func (s *InMemoryTargetStore) EnsureTarget(key, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[key]; ok {
		return nil
	}
	s.targets[key] = &targetRow{Key: key, Name: name, Status: models.TargetStatusActive}
	s.order = append(s.order, key)
	return nil
}

// SeedTarget inserts or replaces a target with an explicit last action
// date, for tests and simulations.
func (s *InMemoryTargetStore) SeedTarget(key, name string, lastAction *models.Date, status models.TargetStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[key]; !ok {
		s.order = append(s.order, key)
	}
	s.targets[key] = &targetRow{Key: key, Name: name, LastActionDate: lastAction, Status: status}
}

// ReadTargetSnapshots returns one snapshot per tracked target, with
// days-since values computed relative to now's calendar date. Unknown
// dates yield negative days-since.
func (s *InMemoryTargetStore) ReadTargetSnapshots(now time.Time) ([]models.TargetSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := models.DateOf(now)
	snaps := make([]models.TargetSnapshot, 0, len(s.order))
	for _, key := range s.order {
		row := s.targets[key]
		snaps = append(snaps, models.TargetSnapshot{
			Key:                      row.Key,
			Name:                     row.Name,
			DaysSinceLastAction:      daysSince(today, row.LastActionDate),
			DaysSinceLastContent:     daysSince(today, row.LastContentDate),
			LifetimeActionCount:      row.ActionCount,
			ConsecutiveNonActionable: row.ConsecutiveNonActionable,
			Status:                   row.Status,
		})
	}
	return snaps, nil
}

// WriteTargetOutcome applies an action outcome to the tracker. A done
// outcome resets the coverage clock; any other terminal outcome bumps
// the consecutive-non-actionable counter. Unknown targets are logged
// and ignored.
func (s *InMemoryTargetStore) WriteTargetOutcome(key string, outcome models.ActionStatus, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.targets[key]
	if !ok {
		slog.Warn("InMemoryTargetStore.WriteTargetOutcome: target not tracked", "key", key)
		return nil
	}
	if outcome.ResetsCoverage() {
		d := models.DateOf(ts)
		row.LastActionDate = &d
		row.ActionCount++
		row.ConsecutiveNonActionable = 0
	} else {
		row.ConsecutiveNonActionable++
	}
	return nil
}

// LogAction appends an audit row. An empty ID is filled in.
func (s *InMemoryTargetStore) LogAction(entry models.ActionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.log = append(s.log, entry)
	s.mu.Unlock()
	return nil
}

// ActionLog returns a copy of the recorded audit rows.
func (s *InMemoryTargetStore) ActionLog() []models.ActionLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ActionLogEntry, len(s.log))
	copy(out, s.log)
	return out
}

// daysSince converts an optional last-event date into a days-since
// value; nil dates map to -1 (unknown).
func daysSince(today models.Date, last *models.Date) float64 {
	if last == nil {
		return -1
	}
	return float64(today.DaysSince(*last))
}
