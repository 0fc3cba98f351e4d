package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/outreachloop/rotor/internal/models"
)

// GenerateWeeklyPlan builds, validates and persists a fresh plan for
// the week containing now. The persisted state is only replaced after
// the new plan validates and saves; any failure leaves the previous
// plan untouched.
func (s *Scheduler) GenerateWeeklyPlan(snapshots []models.TargetSnapshot, now time.Time) (*models.WeeklyPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generatePlanLocked(snapshots, now)
}

func (s *Scheduler) generatePlanLocked(snapshots []models.TargetSnapshot, now time.Time) (*models.WeeklyPlan, error) {
	local := now.In(s.cfg.Location)
	today := models.DateOf(local)
	weekStart := models.WeekStartOf(today)
	_, weekNumber := today.ISOWeek()

	scored := s.scorer.ScoreAll(snapshots, local)
	if len(scored) == 0 {
		slog.Warn("Scheduler.GenerateWeeklyPlan: no active targets, generating empty plan",
			"week_start", weekStart.String())
	}

	budgets, burstIdx, lightIdx := s.sampleDailyBudgets()
	if len(scored) == 0 {
		budgets = [models.PlanDayCount]int{}
	}

	totalBudget := 0
	for _, b := range budgets {
		totalBudget += b
	}

	plan := &models.WeeklyPlan{
		WeekStart:   weekStart,
		WeekNumber:  weekNumber,
		TotalBudget: totalBudget,
		CreatedAt:   local,
		Days:        make(map[string]*models.DaySlot, models.PlanDayCount),
	}

	// The first day excludes whatever ran on the last day of the
	// previous persisted plan, so week boundaries do not produce
	// back-to-back selections.
	excluded := s.previousWeekTailKeys(weekStart)

	for i := 0; i < models.PlanDayCount; i++ {
		date := weekStart.AddDays(i)
		selected := s.scorer.SelectForDay(scored, budgets[i], excluded)
		times := s.timing.GenerateDailyTimestamps(len(selected), s.cfg.OperatingStart, s.cfg.OperatingEnd)

		actions := make([]models.ScheduledAction, len(selected))
		for j, t := range selected {
			actions[j] = models.ScheduledAction{
				Key:       t.Key,
				Name:      t.Name,
				Time:      times[j],
				Score:     t.Score,
				DaysSince: t.DaysSince,
				Forced:    t.Forced,
				Status:    models.ActionStatusPending,
			}
		}
		plan.Days[date.String()] = &models.DaySlot{
			Date:       date,
			Budget:     budgets[i],
			IsBurstDay: i == burstIdx,
			IsLightDay: i == lightIdx,
			Actions:    actions,
		}

		excluded = make(map[string]struct{}, len(selected))
		for _, t := range selected {
			excluded[t.Key] = struct{}{}
		}
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("generated plan failed validation: %w", err)
	}

	next := &models.ScheduleState{
		Counters: s.st.Counters,
		Plan:     plan,
		SavedAt:  local,
	}
	if err := s.state.SaveState(next); err != nil {
		return nil, fmt.Errorf("failed to persist weekly plan: %w", err)
	}
	s.st = next

	slog.Info("Scheduler.GenerateWeeklyPlan: plan persisted",
		"week_start", weekStart.String(),
		"week_number", weekNumber,
		"total_budget", totalBudget,
		"targets", len(scored))
	return plan, nil
}

// previousWeekTailKeys returns the keys selected on the day before
// weekStart, when the loaded plan covers the immediately preceding
// week.
func (s *Scheduler) previousWeekTailKeys(weekStart models.Date) map[string]struct{} {
	if s.st.Plan == nil || s.st.Plan.WeekStart != weekStart.AddDays(-models.PlanDayCount) {
		return nil
	}
	slot := s.st.Plan.GetDay(weekStart.AddDays(-1))
	if slot == nil {
		return nil
	}
	keys := make(map[string]struct{}, len(slot.Actions))
	for _, a := range slot.Actions {
		keys[a.Key] = struct{}{}
	}
	return keys
}

// sampleDailyBudgets draws seven day budgets from a clamped normal
// distribution, rescales them toward the weekly target, designates a
// burst and a light day, and corrects the sum in random ±1 steps. The
// burst and light adjustments widen the per-day bounds before the
// correction pass so the final sum never exceeds the weekly target.
func (s *Scheduler) sampleDailyBudgets() (budgets [models.PlanDayCount]int, burstIdx, lightIdx int) {
	lo, hi := s.cfg.DailyBudgetMin, s.cfg.DailyBudgetMax

	for i := range budgets {
		v := int(math.Round(s.rng.NormFloat64()*s.cfg.DailyBudgetStd + s.cfg.DailyBudgetMean))
		budgets[i] = clampInt(v, lo, hi)
	}

	sum := sumOf(budgets)
	target := s.cfg.WeeklyBudgetTarget
	if sum > target || sum < s.cfg.WeeklyBudgetFloor {
		scale := float64(target) / float64(sum)
		for i, b := range budgets {
			budgets[i] = clampInt(int(math.Round(float64(b)*scale)), lo, hi)
		}
	}

	var loBounds, hiBounds [models.PlanDayCount]int
	for i := range loBounds {
		loBounds[i], hiBounds[i] = lo, hi
	}

	burstIdx = s.rng.IntN(models.PlanDayCount)
	burstExtra := s.cfg.BurstExtraMin + s.rng.IntN(s.cfg.BurstExtraMax-s.cfg.BurstExtraMin+1)
	hiBounds[burstIdx] = hi + burstExtra
	budgets[burstIdx] = min(budgets[burstIdx]+burstExtra, hiBounds[burstIdx])

	// A light day coinciding with the burst day would cancel it out, so
	// the designation is skipped for that draw.
	lightIdx = s.rng.IntN(models.PlanDayCount)
	if lightIdx == burstIdx {
		lightIdx = -1
	} else {
		lightExtra := s.cfg.BurstExtraMin + s.rng.IntN(s.cfg.BurstExtraMax-s.cfg.BurstExtraMin+1)
		loBounds[lightIdx] = max(0, lo-lightExtra)
		budgets[lightIdx] = max(budgets[lightIdx]-lightExtra, loBounds[lightIdx])
	}

	// Walk the days in random order adding or removing one unit at a
	// time until the sum hits the target or every day is pinned at a
	// bound.
	diff := target - sumOf(budgets)
	for diff != 0 {
		progress := false
		for _, i := range s.rng.Perm(models.PlanDayCount) {
			if diff == 0 {
				break
			}
			switch {
			case diff > 0 && budgets[i] < hiBounds[i]:
				budgets[i]++
				diff--
				progress = true
			case diff < 0 && budgets[i] > loBounds[i]:
				budgets[i]--
				diff++
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	return budgets, burstIdx, lightIdx
}

func sumOf(budgets [models.PlanDayCount]int) int {
	sum := 0
	for _, b := range budgets {
		sum += b
	}
	return sum
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clonePlan deep-copies a plan via its JSON representation. Plans are
// small (seven days) so the round trip is cheap.
func clonePlan(p *models.WeeklyPlan) *models.WeeklyPlan {
	data, err := json.Marshal(p)
	if err != nil {
		slog.Error("clonePlan: encode failed", "error", err)
		return nil
	}
	var out models.WeeklyPlan
	if err := json.Unmarshal(data, &out); err != nil {
		slog.Error("clonePlan: decode failed", "error", err)
		return nil
	}
	return &out
}
