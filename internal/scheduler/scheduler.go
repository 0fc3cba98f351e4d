// Package scheduler orchestrates weekly plan generation, daily queue
// retrieval, hard-limit counters and outcome recording for rotor.
//
// The Scheduler is the only stateful component in the core and the
// single writer of the persisted plan and counters. Scoring and timing
// are delegated to the stateless scorer and timing packages.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/outreachloop/rotor/internal/models"
	"github.com/outreachloop/rotor/internal/scorer"
	"github.com/outreachloop/rotor/internal/timing"
)

// ErrActionNotFound is returned by MarkOutcome when no pending action
// exists for the target today. This legitimately happens when the plan
// was regenerated mid-day; callers must treat it as a skip, not a
// crash.
var ErrActionNotFound = errors.New("no pending scheduled action for target today")

// StateStore persists the scheduler's plan and counters. LoadState
// returns (nil, nil) when nothing was saved yet.
type StateStore interface {
	LoadState() (*models.ScheduleState, error)
	SaveState(*models.ScheduleState) error
}

// TargetSource supplies target snapshots and receives coverage-clock
// updates. It is the narrow contract to the external tracking store.
type TargetSource interface {
	ReadTargetSnapshots(now time.Time) ([]models.TargetSnapshot, error)
	WriteTargetOutcome(key string, outcome models.ActionStatus, ts time.Time) error
}

// Config holds the scheduler's budget, limit and window parameters.
type Config struct {
	// DailyBudgetMean and DailyBudgetStd parameterize the normal draw
	// behind each day's budget.
	DailyBudgetMean float64
	DailyBudgetStd  float64
	// DailyBudgetMin and DailyBudgetMax clamp each sampled day budget.
	DailyBudgetMin int
	DailyBudgetMax int
	// WeeklyBudgetTarget is the weekly cap the day budgets sum to.
	WeeklyBudgetTarget int
	// WeeklyBudgetFloor triggers upward rescaling when the sampled week
	// lands materially under target.
	WeeklyBudgetFloor int
	// BurstExtraMin/Max bound the adjustment applied to the designated
	// burst and light days.
	BurstExtraMin int
	BurstExtraMax int
	// HourlyLimit, DailyLimit and WeeklyLimit are the hard usage caps
	// enforced by CheckLimits, independent of the weekly plan.
	HourlyLimit int
	DailyLimit  int
	WeeklyLimit int
	// OperatingStart and OperatingEnd bound the intra-day window.
	OperatingStart models.MinuteOfDay
	OperatingEnd   models.MinuteOfDay
	// Location is the time zone all calendar boundaries are computed in.
	Location *time.Location
}

// DefaultConfig returns the documented default scheduler parameters.
// Boundaries are computed in US Eastern time.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		DailyBudgetMean:    12,
		DailyBudgetStd:     4,
		DailyBudgetMin:     5,
		DailyBudgetMax:     20,
		WeeklyBudgetTarget: 80,
		WeeklyBudgetFloor:  70,
		BurstExtraMin:      3,
		BurstExtraMax:      5,
		HourlyLimit:        5,
		DailyLimit:         20,
		WeeklyLimit:        80,
		OperatingStart:     9 * 60,
		OperatingEnd:       18 * 60,
		Location:           loc,
	}
}

// Opts holds construction options for the Scheduler.
type Opts struct {
	rng                *rand.Rand
	discardInvalidPlan bool
}

// Option configures the Scheduler.
type Option func(*Opts)

// WithRand injects a seeded random source for reproducible runs.
func WithRand(rng *rand.Rand) Option {
	return func(o *Opts) { o.rng = rng }
}

// WithDiscardInvalidPlan makes New drop a persisted plan that fails
// validation instead of returning the validation error. The next queue
// request then regenerates it. Without this option a corrupted plan
// fails loudly and the caller decides what to do.
func WithDiscardInvalidPlan() Option {
	return func(o *Opts) { o.discardInvalidPlan = true }
}

// Scheduler owns the weekly plan and usage counters for their full
// lifecycle. All methods serialize on an internal mutex; cross-process
// deployments still need external locking (see the lockfile package)
// because the check-then-consume protocol is not atomic across
// processes.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	scorer  *scorer.Scorer
	timing  *timing.Generator
	state   StateStore
	targets TargetSource
	rng     *rand.Rand
	st      *models.ScheduleState
}

// New wires a Scheduler and loads its persisted state. A persisted
// plan failing validation is surfaced as an error unless
// WithDiscardInvalidPlan is set.
func New(cfg Config, sc *scorer.Scorer, tg *timing.Generator, state StateStore, targets TargetSource, opts ...Option) (*Scheduler, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		now := uint64(time.Now().UnixNano())
		o.rng = rand.New(rand.NewPCG(now, now>>1))
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	s := &Scheduler{
		cfg:     cfg,
		scorer:  sc,
		timing:  tg,
		state:   state,
		targets: targets,
		rng:     o.rng,
	}

	st, err := state.LoadState()
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}
	if st == nil {
		st = freshState(time.Now().In(cfg.Location))
		slog.Debug("Scheduler.New: no persisted state, starting fresh")
	} else if st.Plan != nil {
		if err := st.Plan.Validate(); err != nil {
			if !o.discardInvalidPlan {
				return nil, fmt.Errorf("persisted plan failed validation: %w", err)
			}
			slog.Error("Scheduler.New: discarding invalid persisted plan", "error", err)
			st.Plan = nil
		}
	}
	s.st = st
	return s, nil
}

// freshState builds an empty state with counter markers anchored at
// now.
func freshState(now time.Time) *models.ScheduleState {
	today := models.DateOf(now)
	return &models.ScheduleState{
		Counters: models.Counters{
			HourlyResetTime: now,
			DailyResetDate:  today,
			WeeklyResetDate: today,
		},
		SavedAt: now,
	}
}

// TodaysQueue returns today's pending actions sorted by scheduled time
// of day. A missing or stale plan (week_start outside the current
// calendar week) is regenerated transparently from fresh target
// snapshots; that self-healing is not an error condition.
func (s *Scheduler) TodaysQueue(now time.Time) ([]models.ScheduledAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := now.In(s.cfg.Location)
	today := models.DateOf(local)

	if reason := s.planStaleReason(today); reason != "" {
		slog.Info("Scheduler.TodaysQueue: regenerating plan", "reason", reason, "today", today.String())
		snaps, err := s.targets.ReadTargetSnapshots(now)
		if err != nil {
			// External store errors propagate unchanged; the core never
			// retries them.
			return nil, err
		}
		if _, err := s.generatePlanLocked(snaps, now); err != nil {
			return nil, err
		}
	}

	return s.st.Plan.PendingOn(today), nil
}

// planStaleReason reports why the loaded plan cannot serve the given
// date, or "" when it can.
func (s *Scheduler) planStaleReason(today models.Date) string {
	switch {
	case s.st.Plan == nil:
		return "no plan loaded"
	case models.WeekStartOf(today) != s.st.Plan.WeekStart:
		return "plan belongs to a different week"
	case s.st.Plan.GetDay(today) == nil:
		return "today missing from plan"
	default:
		return ""
	}
}

// CheckLimits resets any counter whose window has elapsed, then checks
// the hourly, daily and weekly caps in that order. The first violated
// cap is returned as the reason; an allowed check returns "ok".
// Calling it repeatedly without an intervening Consume returns
// identical results.
func (s *Scheduler) CheckLimits(now time.Time) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetCounters(now)

	c := s.st.Counters
	if c.HourlyCount >= s.cfg.HourlyLimit {
		return false, fmt.Sprintf("hourly_limit (%d/%d)", c.HourlyCount, s.cfg.HourlyLimit)
	}
	if c.DailyCount >= s.cfg.DailyLimit {
		return false, fmt.Sprintf("daily_limit (%d/%d)", c.DailyCount, s.cfg.DailyLimit)
	}
	if c.WeeklyCount >= s.cfg.WeeklyLimit {
		return false, fmt.Sprintf("weekly_limit (%d/%d)", c.WeeklyCount, s.cfg.WeeklyLimit)
	}
	return true, "ok"
}

// Consume increments all three counters by amount and persists the
// state write-through. Callers must have passed CheckLimits and
// actually performed the external action first.
func (s *Scheduler) Consume(amount int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeResetCounters(now)

	c := &s.st.Counters
	c.HourlyCount += amount
	c.DailyCount += amount
	c.WeeklyCount += amount
	s.st.SavedAt = now
	if err := s.state.SaveState(s.st); err != nil {
		return fmt.Errorf("failed to persist counters: %w", err)
	}
	slog.Info("Scheduler.Consume: counters updated",
		"amount", amount,
		"hourly", c.HourlyCount,
		"daily", c.DailyCount,
		"weekly", c.WeeklyCount)
	return nil
}

// maybeResetCounters applies reset-on-boundary semantics: a new hour
// since the last hourly reset, a new calendar date, and a new week
// starting Monday, all in the configured time zone.
func (s *Scheduler) maybeResetCounters(now time.Time) {
	local := now.In(s.cfg.Location)
	today := models.DateOf(local)
	c := &s.st.Counters

	if local.Sub(c.HourlyResetTime) >= time.Hour {
		c.HourlyCount = 0
		c.HourlyResetTime = local
		slog.Debug("Scheduler: hourly counter reset")
	}
	if today.After(c.DailyResetDate) {
		c.DailyCount = 0
		c.DailyResetDate = today
		slog.Info("Scheduler: daily counter reset", "date", today.String())
	}
	if today.Weekday() == time.Monday && today.After(c.WeeklyResetDate) {
		c.WeeklyCount = 0
		c.WeeklyResetDate = today
		slog.Info("Scheduler: weekly counter reset", "date", today.String())
	}
}

// MarkOutcome resolves today's pending action for the target to a
// terminal status. Every terminal transition increments the day's
// completed counter; only done resets the target's coverage clock in
// the target store. A duplicate report for the same target and day is
// a warned no-op and never double-counts.
func (s *Scheduler) MarkOutcome(key string, outcome models.ActionStatus, now time.Time) error {
	if !outcome.Terminal() {
		return fmt.Errorf("%w: %q", models.ErrInvalidOutcome, outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	local := now.In(s.cfg.Location)
	today := models.DateOf(local)
	slot := s.st.Plan.GetDay(today)
	if slot == nil {
		slog.Info("Scheduler.MarkOutcome: no slot for today", "key", key, "today", today.String())
		return ErrActionNotFound
	}

	for i := range slot.Actions {
		action := &slot.Actions[i]
		if action.Key != key {
			continue
		}
		if action.Status.Terminal() {
			slog.Warn("Scheduler.MarkOutcome: duplicate outcome report ignored",
				"key", key, "existing", action.Status, "reported", outcome)
			return nil
		}
		action.Status = outcome
		slot.Completed++
		s.st.SavedAt = now
		if err := s.state.SaveState(s.st); err != nil {
			return fmt.Errorf("failed to persist outcome: %w", err)
		}
		if err := s.targets.WriteTargetOutcome(key, outcome, now); err != nil {
			return err
		}
		slog.Info("Scheduler.MarkOutcome: outcome recorded",
			"key", key, "outcome", outcome, "completed", slot.Completed)
		return nil
	}

	slog.Info("Scheduler.MarkOutcome: no pending action for target today", "key", key)
	return ErrActionNotFound
}

// WindowUsage pairs a counter with its cap.
type WindowUsage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// StatusSnapshot is a point-in-time view of limits and plan state.
type StatusSnapshot struct {
	Hourly         WindowUsage `json:"hourly"`
	Daily          WindowUsage `json:"daily"`
	Weekly         WindowUsage `json:"weekly"`
	PlanExists     bool        `json:"plan_exists"`
	PlanWeek       int         `json:"plan_week,omitempty"`
	TotalCompleted int         `json:"total_completed"`
}

// Status reports counter usage and plan presence. It does not mutate
// any state.
func (s *Scheduler) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.st.Counters
	snap := StatusSnapshot{
		Hourly: WindowUsage{Used: c.HourlyCount, Limit: s.cfg.HourlyLimit},
		Daily:  WindowUsage{Used: c.DailyCount, Limit: s.cfg.DailyLimit},
		Weekly: WindowUsage{Used: c.WeeklyCount, Limit: s.cfg.WeeklyLimit},
	}
	if s.st.Plan != nil {
		snap.PlanExists = true
		snap.PlanWeek = s.st.Plan.WeekNumber
		snap.TotalCompleted = s.st.Plan.TotalCompleted()
	}
	return snap
}

// CurrentPlan returns a deep copy of the loaded plan, or nil when no
// plan exists. The copy is safe to expose to API consumers.
func (s *Scheduler) CurrentPlan() *models.WeeklyPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Plan == nil {
		return nil
	}
	return clonePlan(s.st.Plan)
}
