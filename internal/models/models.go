package models

import (
	"errors"
	"time"
)

// TargetStatus represents the lifecycle status of a rotation target.
type TargetStatus string

const (
	// TargetStatusActive indicates the target participates in scheduling.
	TargetStatusActive TargetStatus = "active"
	// TargetStatusPaused indicates the target is temporarily excluded.
	TargetStatusPaused TargetStatus = "paused"
	// TargetStatusRemoved indicates the target left the rotation population.
	TargetStatusRemoved TargetStatus = "removed"
)

// IsValidTargetStatus checks if the given target status is supported.
func IsValidTargetStatus(s TargetStatus) bool {
	switch s {
	case TargetStatusActive, TargetStatusPaused, TargetStatusRemoved:
		return true
	default:
		return false
	}
}

// ActionStatus represents the lifecycle status of a scheduled action.
type ActionStatus string

const (
	// ActionStatusPending indicates the action has not been attempted yet.
	ActionStatusPending ActionStatus = "pending"
	// ActionStatusDone indicates the action succeeded and resets the
	// target's coverage clock.
	ActionStatusDone ActionStatus = "done"
	// ActionStatusSkipped indicates the action was deliberately skipped.
	ActionStatusSkipped ActionStatus = "skipped"
	// ActionStatusFailed indicates the action was attempted and failed.
	ActionStatusFailed ActionStatus = "failed"
	// ActionStatusAlreadyDone indicates the target needed no action today.
	ActionStatusAlreadyDone ActionStatus = "already_done"
	// ActionStatusNoContent indicates the target had nothing to act on.
	ActionStatusNoContent ActionStatus = "no_content"
)

// IsValidActionStatus checks if the given action status is supported.
func IsValidActionStatus(s ActionStatus) bool {
	switch s {
	case ActionStatusPending, ActionStatusDone, ActionStatusSkipped,
		ActionStatusFailed, ActionStatusAlreadyDone, ActionStatusNoContent:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is final. Terminal statuses admit
// no further transitions.
func (s ActionStatus) Terminal() bool {
	return IsValidActionStatus(s) && s != ActionStatusPending
}

// ResetsCoverage reports whether the status resets the target's
// coverage clock. Only a successful action does; already_done,
// no_content and failed spend the slot but leave the target overdue.
func (s ActionStatus) ResetsCoverage() bool {
	return s == ActionStatusDone
}

// UnknownDaysSince is substituted when a target has no recorded last
// action, so never-visited targets rank as maximally overdue.
const UnknownDaysSince = 999

// TargetSnapshot is a read-only view of one target's tracked state.
// Snapshots are produced by the target store; the core never creates
// or deletes targets.
type TargetSnapshot struct {
	Key                      string       `json:"key"` // profile URL, unique
	Name                     string       `json:"name,omitempty"`
	DaysSinceLastAction      float64      `json:"days_since_last_action"`  // negative when unknown
	DaysSinceLastContent     float64      `json:"days_since_last_content"` // negative when unknown
	LifetimeActionCount      int          `json:"lifetime_action_count"`
	ConsecutiveNonActionable int          `json:"consecutive_non_actionable"`
	Status                   TargetStatus `json:"status"`
}

// ScoredTarget is the ephemeral result of one scoring pass. It exists
// only during plan generation and is never persisted on its own.
type ScoredTarget struct {
	Key       string
	Name      string
	Score     float64
	DaysSince float64
	Forced    bool
}

// ScheduledAction is one persisted unit of work inside a day slot.
type ScheduledAction struct {
	Key       string       `json:"key"`
	Name      string       `json:"name"`
	Time      MinuteOfDay  `json:"time"`
	Score     float64      `json:"score"`
	DaysSince float64      `json:"days_since"`
	Forced    bool         `json:"forced"`
	Status    ActionStatus `json:"status"`
}

// DaySlot is one calendar day of the weekly plan. The date is carried
// by the plan's day key and restored on load.
type DaySlot struct {
	Date       Date              `json:"-"`
	Budget     int               `json:"budget"`
	IsBurstDay bool              `json:"is_burst_day"`
	IsLightDay bool              `json:"is_light_day"`
	Completed  int               `json:"completed"`
	Actions    []ScheduledAction `json:"actions"`
}

// Counters tracks hourly/daily/weekly usage against hard caps, with the
// markers needed for reset-on-boundary semantics.
type Counters struct {
	DailyCount      int       `json:"daily_count"`
	WeeklyCount     int       `json:"weekly_count"`
	HourlyCount     int       `json:"hourly_count"`
	HourlyResetTime time.Time `json:"hourly_reset_time"`
	DailyResetDate  Date      `json:"daily_reset_date"`
	WeeklyResetDate Date      `json:"weekly_reset_date"`
}

// ScheduleState is the root of the persisted scheduler state.
type ScheduleState struct {
	Counters Counters    `json:"counters"`
	Plan     *WeeklyPlan `json:"plan,omitempty"`
	SavedAt  time.Time   `json:"saved_at"`
}

// ActionLogEntry is one audit row recorded after an action resolves.
// Entries are append-only and kept for audit.
type ActionLogEntry struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id,omitempty"`
	TargetKey string       `json:"target_key"`
	Name      string       `json:"name,omitempty"`
	Outcome   ActionStatus `json:"outcome"`
	Detail    string       `json:"detail,omitempty"`
	LoggedAt  time.Time    `json:"logged_at"`
}

// ErrInvalidOutcome is returned when an outcome report carries a status
// that is not a terminal action status.
var ErrInvalidOutcome = errors.New("outcome must be a terminal action status")
