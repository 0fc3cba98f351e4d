// Package scorer implements coverage-first priority scoring and
// constrained weighted selection for rotor.
//
// Priority is driven solely by how long a target has gone without a
// successful action. Content recency is deliberately excluded so the
// rotation never biases toward highly active targets.
package scorer

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/outreachloop/rotor/internal/models"
)

// Config holds the scoring and selection parameters.
type Config struct {
	// DaysWeight scales days-since-last-action into the score base.
	DaysWeight float64
	// DaysCap bounds the score base.
	DaysCap float64
	// JitterMax bounds the non-negative uniform jitter added to every
	// score. Jitter never pushes a score below a lower-debt target's
	// base alone.
	JitterMax float64
	// ForceThresholdDays is the staleness threshold beyond which a
	// target bypasses weighted sampling entirely.
	ForceThresholdDays float64
	// ForceMaxPerDay caps how many forced inclusions one day can carry.
	ForceMaxPerDay int
	// PoolMultiplier sizes the weighted-sampling pool as a multiple of
	// the day's budget.
	PoolMultiplier int
}

// DefaultConfig returns the documented default scoring parameters.
func DefaultConfig() Config {
	return Config{
		DaysWeight:         0.8,
		DaysCap:            12.0,
		JitterMax:          5.0,
		ForceThresholdDays: 12,
		ForceMaxPerDay:     5,
		PoolMultiplier:     2,
	}
}

// Scorer ranks targets and selects per-day subsets. It is stateless
// apart from its random source and safe to call repeatedly for
// simulation.
type Scorer struct {
	cfg Config
	rng *rand.Rand
}

// New creates a Scorer. A nil rng falls back to a time-seeded source;
// tests and simulations should inject a seeded one.
func New(cfg Config, rng *rand.Rand) *Scorer {
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now>>1))
	}
	return &Scorer{cfg: cfg, rng: rng}
}

// CalculatePriority computes the coverage-first priority for a target
// given its days since last successful action. Negative (unknown)
// inputs are treated as maximally overdue. The result lies in
// [0, DaysCap+JitterMax).
func (s *Scorer) CalculatePriority(daysSince float64) float64 {
	if daysSince < 0 {
		daysSince = models.UnknownDaysSince
	}
	base := daysSince * s.cfg.DaysWeight
	if base > s.cfg.DaysCap {
		base = s.cfg.DaysCap
	}
	jitter := s.rng.Float64() * s.cfg.JitterMax
	return base + jitter
}

// ScoreAll scores every active snapshot and returns the results sorted
// descending by score. Snapshots without a key or not in active status
// are skipped.
func (s *Scorer) ScoreAll(snapshots []models.TargetSnapshot, now time.Time) []models.ScoredTarget {
	scored := make([]models.ScoredTarget, 0, len(snapshots))
	for _, snap := range snapshots {
		if snap.Status != models.TargetStatusActive {
			continue
		}
		if snap.Key == "" {
			slog.Warn("Scorer.ScoreAll: skipping snapshot without key", "name", snap.Name)
			continue
		}
		daysSince := snap.DaysSinceLastAction
		if daysSince < 0 {
			daysSince = models.UnknownDaysSince
		}
		scored = append(scored, models.ScoredTarget{
			Key:       snap.Key,
			Name:      snap.Name,
			Score:     s.CalculatePriority(daysSince),
			DaysSince: daysSince,
			Forced:    daysSince > s.cfg.ForceThresholdDays,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	slog.Debug("Scorer.ScoreAll: scored targets", "count", len(scored), "at", now)
	return scored
}

// SelectForDay picks a subset of the scored targets for one day's
// budget:
//
//  1. drop targets selected the immediately preceding day,
//  2. force-include stale targets (days since over the threshold), most
//     overdue first, capped per day and truncated to the budget,
//  3. build a pool of the top PoolMultiplier*budget remaining
//     candidates by score,
//  4. weighted-random sample without replacement from the pool until
//     the budget is filled.
//
// A budget larger than the available candidates returns everything
// available; the call never fails.
func (s *Scorer) SelectForDay(scored []models.ScoredTarget, budget int, excluded map[string]struct{}) []models.ScoredTarget {
	if budget <= 0 {
		return nil
	}

	eligible := make([]models.ScoredTarget, 0, len(scored))
	for _, t := range scored {
		if _, skip := excluded[t.Key]; skip {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 {
		slog.Warn("Scorer.SelectForDay: no eligible targets after exclusion filter")
		return nil
	}

	// Forced inclusions come from the full eligible set, most overdue
	// first, and bypass sampling.
	var forced []models.ScoredTarget
	for _, t := range eligible {
		if t.Forced {
			forced = append(forced, t)
		}
	}
	sort.SliceStable(forced, func(i, j int) bool {
		return forced[i].DaysSince > forced[j].DaysSince
	})
	forceMax := s.cfg.ForceMaxPerDay
	if forceMax > budget {
		forceMax = budget
	}
	if len(forced) > forceMax {
		forced = forced[:forceMax]
	}

	selected := append([]models.ScoredTarget(nil), forced...)
	slotsLeft := budget - len(selected)
	if slotsLeft <= 0 {
		return selected
	}

	chosen := make(map[string]struct{}, len(selected))
	for _, t := range selected {
		chosen[t.Key] = struct{}{}
	}
	pool := make([]models.ScoredTarget, 0, len(eligible))
	poolSize := budget * s.cfg.PoolMultiplier
	for _, t := range eligible {
		if _, already := chosen[t.Key]; already {
			continue
		}
		pool = append(pool, t)
		if len(pool) >= poolSize {
			break
		}
	}
	if len(pool) == 0 {
		return selected
	}

	sampled := s.sampleWithoutReplacement(pool, slotsLeft)
	return append(selected, sampled...)
}

// sampleWithoutReplacement draws up to k targets from the pool with
// probability proportional to score. A pool whose total score is zero
// degenerates to uniform sampling rather than failing.
func (s *Scorer) sampleWithoutReplacement(pool []models.ScoredTarget, k int) []models.ScoredTarget {
	if k > len(pool) {
		k = len(pool)
	}

	total := 0.0
	for _, t := range pool {
		if t.Score > 0 {
			total += t.Score
		}
	}
	if total <= 0 {
		slog.Debug("Scorer.sampleWithoutReplacement: zero-score pool, falling back to uniform sampling", "pool", len(pool))
		picked := make([]models.ScoredTarget, len(pool))
		copy(picked, pool)
		s.rng.Shuffle(len(picked), func(i, j int) {
			picked[i], picked[j] = picked[j], picked[i]
		})
		return picked[:k]
	}

	remaining := make([]models.ScoredTarget, len(pool))
	copy(remaining, pool)
	picked := make([]models.ScoredTarget, 0, k)
	for len(picked) < k && len(remaining) > 0 {
		weightSum := 0.0
		for _, t := range remaining {
			weightSum += weightOf(t)
		}
		r := s.rng.Float64() * weightSum
		idx := len(remaining) - 1
		for i, t := range remaining {
			r -= weightOf(t)
			if r < 0 {
				idx = i
				break
			}
		}
		picked = append(picked, remaining[idx])
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return picked
}

// weightOf floors sampling weights so zero-score stragglers in an
// otherwise scored pool keep a nonzero chance.
func weightOf(t models.ScoredTarget) float64 {
	const minWeight = 0.01
	if t.Score < minWeight {
		return minWeight
	}
	return t.Score
}
