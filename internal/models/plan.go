package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// PlanDayCount is the number of day slots in every weekly plan.
const PlanDayCount = 7

// Validation error variables. A plan that fails validation is corrupted
// or hand-edited and must be rejected at load time, never silently
// repaired.
var (
	ErrPlanNoWeekStart    = errors.New("weekly plan is missing its week start date")
	ErrPlanDayCount       = errors.New("weekly plan must contain exactly 7 day slots")
	ErrPlanBadDateKey     = errors.New("weekly plan day key is not a valid date")
	ErrPlanNonContiguous  = errors.New("weekly plan days must cover the 7 consecutive dates from week_start")
	ErrPlanSlotDate       = errors.New("day slot date does not match its map key")
	ErrPlanNegativeBudget = errors.New("day slot budget cannot be negative")
	ErrPlanBadStatus      = errors.New("scheduled action carries an unknown status")
)

// WeeklyPlan is one calendar week's allocation of actions across the
// target population. Plans are created once per week and superseded,
// not mutated, across week boundaries; within the week only action
// statuses and completed counters change.
type WeeklyPlan struct {
	WeekStart   Date                `json:"week_start"`
	WeekNumber  int                 `json:"week_number"`
	TotalBudget int                 `json:"total_budget"`
	CreatedAt   time.Time           `json:"created_at"`
	Days        map[string]*DaySlot `json:"days"`
}

// WeekStartOf returns the Monday of the week containing d.
func WeekStartOf(d Date) Date {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDays(-offset)
}

// UnmarshalJSON restores each day slot's date from its map key after
// the default decoding pass.
func (p *WeeklyPlan) UnmarshalJSON(data []byte) error {
	type alias WeeklyPlan
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	for key, slot := range a.Days {
		d, err := ParseDate(key)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrPlanBadDateKey, key)
		}
		slot.Date = d
	}
	*p = WeeklyPlan(a)
	return nil
}

// Validate checks the plan's structural invariants: exactly 7 day
// slots whose keys are the 7 consecutive dates starting at WeekStart,
// consistent slot dates, non-negative budgets and known action
// statuses.
func (p *WeeklyPlan) Validate() error {
	if p.WeekStart.IsZero() {
		return ErrPlanNoWeekStart
	}
	if len(p.Days) != PlanDayCount {
		return fmt.Errorf("%w: got %d", ErrPlanDayCount, len(p.Days))
	}
	for i := 0; i < PlanDayCount; i++ {
		want := p.WeekStart.AddDays(i)
		slot, ok := p.Days[want.String()]
		if !ok {
			return fmt.Errorf("%w: missing %s", ErrPlanNonContiguous, want)
		}
		if slot.Date != want {
			return fmt.Errorf("%w: key %s holds date %s", ErrPlanSlotDate, want, slot.Date)
		}
		if slot.Budget < 0 {
			return fmt.Errorf("%w: %s has budget %d", ErrPlanNegativeBudget, want, slot.Budget)
		}
		for _, a := range slot.Actions {
			if !IsValidActionStatus(a.Status) {
				return fmt.Errorf("%w: %q on %s", ErrPlanBadStatus, a.Status, want)
			}
		}
	}
	return nil
}

// GetDay returns the day slot for the given date, or nil if the date
// is outside the plan.
func (p *WeeklyPlan) GetDay(d Date) *DaySlot {
	if p == nil {
		return nil
	}
	return p.Days[d.String()]
}

// TotalCompleted sums the completed counters across all day slots.
func (p *WeeklyPlan) TotalCompleted() int {
	total := 0
	for _, slot := range p.Days {
		total += slot.Completed
	}
	return total
}

// PendingOn returns the pending actions for the given date, sorted by
// scheduled time of day ascending.
func (p *WeeklyPlan) PendingOn(d Date) []ScheduledAction {
	slot := p.GetDay(d)
	if slot == nil {
		return nil
	}
	var pending []ScheduledAction
	for _, a := range slot.Actions {
		if a.Status == ActionStatusPending {
			pending = append(pending, a)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Time < pending[j].Time
	})
	return pending
}
