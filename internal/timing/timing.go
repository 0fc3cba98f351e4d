// Package timing generates irregular, human-looking times of day for a
// batch of scheduled actions.
//
// Arrivals follow a non-homogeneous Poisson process whose rate varies
// across the operating window (slow warm-up, mid-morning peak, lunch
// dip, afternoon peak, wind-down), sampled by thinning: candidate times
// are drawn uniformly and accepted with probability rate(t)/maxRate.
package timing

import (
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/outreachloop/rotor/internal/models"
)

// RateSegment is one piece of the piecewise arrival-rate function.
// The multiplier applies to times in [Start, End).
type RateSegment struct {
	Start      models.MinuteOfDay
	End        models.MinuteOfDay
	Multiplier float64
}

// defaultOffWindowRate applies outside every configured segment.
const defaultOffWindowRate = 0.4

// Config holds the timestamp generation parameters.
type Config struct {
	// Segments define the time-varying rate multipliers.
	Segments []RateSegment
	// JitterMinutes is the half-width of the independent per-timestamp
	// jitter applied after acceptance.
	JitterMinutes int
	// MinGapMinutes is the minimum spacing enforced between consecutive
	// timestamps after sorting.
	MinGapMinutes int
	// AttemptsPerSlot caps the thinning loop at n*AttemptsPerSlot draws
	// before falling back to uniform fill. The loop must never spin
	// unbounded.
	AttemptsPerSlot int
}

// DefaultSegments returns the six default rate segments for a
// 09:00-18:00 operating day.
func DefaultSegments() []RateSegment {
	return []RateSegment{
		{Start: 9 * 60, End: 10 * 60, Multiplier: 0.6},  // morning warm-up
		{Start: 10 * 60, End: 12 * 60, Multiplier: 1.3}, // mid-morning peak
		{Start: 12 * 60, End: 13 * 60, Multiplier: 0.8}, // lunch dip
		{Start: 13 * 60, End: 15 * 60, Multiplier: 1.2}, // afternoon peak
		{Start: 15 * 60, End: 17 * 60, Multiplier: 0.7}, // wind-down
		{Start: 17 * 60, End: 18 * 60, Multiplier: 0.4}, // end of day
	}
}

// DefaultConfig returns the documented default timing parameters.
func DefaultConfig() Config {
	return Config{
		Segments:        DefaultSegments(),
		JitterMinutes:   5,
		MinGapMinutes:   3,
		AttemptsPerSlot: 100,
	}
}

// Generator produces daily timestamp batches. It is stateless apart
// from its random source.
type Generator struct {
	cfg Config
	rng *rand.Rand
}

// New creates a Generator. A nil rng falls back to a time-seeded
// source; tests should inject a seeded one.
func New(cfg Config, rng *rand.Rand) *Generator {
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now>>1))
	}
	if cfg.AttemptsPerSlot <= 0 {
		cfg.AttemptsPerSlot = 100
	}
	return &Generator{cfg: cfg, rng: rng}
}

// rateAt returns the rate multiplier for a time of day.
func (g *Generator) rateAt(m models.MinuteOfDay) float64 {
	for _, seg := range g.cfg.Segments {
		if m >= seg.Start && m < seg.End {
			return seg.Multiplier
		}
	}
	return defaultOffWindowRate
}

// maxRate returns the largest configured rate multiplier.
func (g *Generator) maxRate() float64 {
	max := defaultOffWindowRate
	for _, seg := range g.cfg.Segments {
		if seg.Multiplier > max {
			max = seg.Multiplier
		}
	}
	return max
}

// GenerateDailyTimestamps returns n times of day inside
// [start, end], sorted ascending, at least MinGapMinutes apart where
// the window allows it. n <= 0 returns an empty batch without error.
func (g *Generator) GenerateDailyTimestamps(n int, start, end models.MinuteOfDay) []models.MinuteOfDay {
	if n <= 0 {
		return nil
	}
	window := int(end) - int(start)
	if window <= 0 {
		slog.Warn("Generator.GenerateDailyTimestamps: degenerate operating window", "start", start.Clock(), "end", end.Clock())
		out := make([]models.MinuteOfDay, n)
		for i := range out {
			out[i] = start
		}
		return out
	}

	maxRate := g.maxRate()
	if maxRate <= 0 {
		maxRate = 1.0
	}

	candidates := make([]models.MinuteOfDay, 0, n)
	maxAttempts := n * g.cfg.AttemptsPerSlot
	for attempts := 0; len(candidates) < n && attempts < maxAttempts; attempts++ {
		m := g.uniformMinute(start, end)
		if g.rng.Float64() <= g.rateAt(m)/maxRate {
			candidates = append(candidates, g.jitter(m, start, end))
		}
	}

	// Rejection sampling ran out of attempts; fill uniformly so the
	// call terminates with the requested count regardless.
	if len(candidates) < n {
		slog.Warn("Generator.GenerateDailyTimestamps: thinning under-filled, padding uniformly",
			"wanted", n, "got", len(candidates))
		for len(candidates) < n {
			candidates = append(candidates, g.uniformMinute(start, end))
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	return g.enforceMinGap(candidates[:n], start, end)
}

// uniformMinute draws a uniformly random minute in [start, end].
func (g *Generator) uniformMinute(start, end models.MinuteOfDay) models.MinuteOfDay {
	span := int(end) - int(start) + 1
	return start + models.MinuteOfDay(g.rng.IntN(span))
}

// jitter shifts a minute by up to ±JitterMinutes, re-clamped into the
// window.
func (g *Generator) jitter(m, start, end models.MinuteOfDay) models.MinuteOfDay {
	if g.cfg.JitterMinutes <= 0 {
		return m
	}
	j := g.rng.IntN(2*g.cfg.JitterMinutes+1) - g.cfg.JitterMinutes
	return clamp(m+models.MinuteOfDay(j), start, end)
}

// enforceMinGap walks the sorted sequence pushing any too-close
// timestamp forward by the deficit. When pushing would overrun the
// window end the earlier entries are pulled backward instead.
func (g *Generator) enforceMinGap(sorted []models.MinuteOfDay, start, end models.MinuteOfDay) []models.MinuteOfDay {
	gap := models.MinuteOfDay(g.cfg.MinGapMinutes)
	if gap <= 0 || len(sorted) < 2 {
		return sorted
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] < gap {
			sorted[i] = clamp(sorted[i-1]+gap, start, end)
		}
	}
	// Backward repair pass for entries squeezed against the window end.
	for i := len(sorted) - 2; i >= 0; i-- {
		if sorted[i+1]-sorted[i] < gap {
			sorted[i] = clamp(sorted[i+1]-gap, start, end)
		}
	}
	return sorted
}

func clamp(m, lo, hi models.MinuteOfDay) models.MinuteOfDay {
	if m < lo {
		return lo
	}
	if m > hi {
		return hi
	}
	return m
}
