// Package runner drives one day of scheduled actions end to end: it
// pulls the queue, waits out the scheduled times, gates every action on
// health and hard limits, delegates the external work to an Engager and
// feeds outcomes back into the scheduler and audit log.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/outreachloop/rotor/internal/health"
	"github.com/outreachloop/rotor/internal/models"
)

// Planner is the slice of the scheduler the runner needs.
type Planner interface {
	TodaysQueue(now time.Time) ([]models.ScheduledAction, error)
	CheckLimits(now time.Time) (bool, string)
	Consume(amount int, now time.Time) error
	MarkOutcome(key string, outcome models.ActionStatus, now time.Time) error
}

// AuditLog receives one append-only row per resolved action.
type AuditLog interface {
	LogAction(entry models.ActionLogEntry) error
}

// Config holds the runner's pacing parameters.
type Config struct {
	// MinDelay and MaxDelay bound the uniform base of the inter-action
	// delay.
	MinDelay time.Duration
	MaxDelay time.Duration
	// DelayJitterStd is the standard deviation of the gaussian jitter
	// added to the base delay.
	DelayJitterStd time.Duration
	// DelayFloor is the minimum delay after jitter.
	DelayFloor time.Duration
	// NoiseProbability is the chance of a noise action after each
	// engagement.
	NoiseProbability float64
	// HourlyBackoff is how long to wait before re-checking a tripped
	// hourly limit.
	HourlyBackoff time.Duration
	// Location anchors scheduled times of day onto the wall clock.
	Location *time.Location
}

// DefaultConfig returns the documented default pacing parameters.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		MinDelay:         180 * time.Second,
		MaxDelay:         480 * time.Second,
		DelayJitterStd:   30 * time.Second,
		DelayFloor:       60 * time.Second,
		NoiseProbability: 0.10,
		HourlyBackoff:    5 * time.Minute,
		Location:         loc,
	}
}

// RunStats summarizes one day's run.
type RunStats struct {
	RunID     string `json:"run_id"`
	Queued    int    `json:"queued"`
	Attempted int    `json:"attempted"`
	Done      int    `json:"done"`
	Failed    int    `json:"failed"`
	Other     int    `json:"other"`
	// Aborted names the gate that ended the run early, empty when the
	// queue drained normally.
	Aborted string `json:"aborted,omitempty"`
}

// Opts holds construction options for the Runner.
type Opts struct {
	noise NoiseActor
	audit AuditLog
	rng   *rand.Rand
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures the Runner.
type Option func(*Opts)

// WithNoiseActor enables interleaved noise actions.
func WithNoiseActor(n NoiseActor) Option {
	return func(o *Opts) { o.noise = n }
}

// WithAuditLog enables per-action audit rows.
func WithAuditLog(a AuditLog) Option {
	return func(o *Opts) { o.audit = a }
}

// WithRand injects a seeded random source for reproducible runs.
func WithRand(rng *rand.Rand) Option {
	return func(o *Opts) { o.rng = rng }
}

// WithClock injects the time source and sleep function. Tests use this
// to run a full day instantly.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Opts) {
		o.now = now
		o.sleep = sleep
	}
}

// Runner executes one day of the plan against an Engager.
type Runner struct {
	cfg     Config
	sched   Planner
	engager Engager
	monitor *health.Monitor
	noise   NoiseActor
	audit   AuditLog
	rng     *rand.Rand
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New wires a Runner.
func New(cfg Config, sched Planner, engager Engager, monitor *health.Monitor, opts ...Option) *Runner {
	o := Opts{
		now:   time.Now,
		sleep: ctxSleep,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		seed := uint64(time.Now().UnixNano())
		o.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Runner{
		cfg:     cfg,
		sched:   sched,
		engager: engager,
		monitor: monitor,
		noise:   o.noise,
		audit:   o.audit,
		rng:     o.rng,
		now:     o.now,
		sleep:   o.sleep,
	}
}

// RunDay works through today's queue in scheduled order. State is
// persisted after every action, so a cancelled or crashed run resumes
// cleanly from the remaining pending actions.
func (r *Runner) RunDay(ctx context.Context) (RunStats, error) {
	stats := RunStats{RunID: uuid.NewString()}
	log := slog.With("run_id", stats.RunID)

	queue, err := r.sched.TodaysQueue(r.now())
	if err != nil {
		return stats, err
	}
	stats.Queued = len(queue)
	log.Info("Runner.RunDay: starting", "queued", len(queue))

	for i, action := range queue {
		if err := r.waitUntilScheduled(ctx, action.Time); err != nil {
			stats.Aborted = "cancelled"
			return stats, err
		}

		if !r.monitor.CanProceed() {
			log.Warn("Runner.RunDay: health gate tripped, ending run",
				"score", r.monitor.Score(),
				"resume_in", r.monitor.TimeUntilResume())
			stats.Aborted = "health"
			return stats, nil
		}

		proceed, err := r.waitForLimits(ctx, log)
		if err != nil {
			stats.Aborted = "cancelled"
			return stats, err
		}
		if !proceed {
			stats.Aborted = "limits"
			return stats, nil
		}

		outcome := r.engageOne(ctx, log, action)
		stats.Attempted++
		switch outcome {
		case models.ActionStatusDone:
			stats.Done++
		case models.ActionStatusFailed:
			stats.Failed++
		default:
			stats.Other++
		}
		r.recordOutcome(log, stats.RunID, action, outcome)

		if r.noise != nil && r.rng.Float64() < r.cfg.NoiseProbability {
			if err := r.noise.PerformNoise(ctx); err != nil {
				log.Warn("Runner.RunDay: noise action failed", "error", err)
			}
		}

		if i < len(queue)-1 {
			if err := r.sleep(ctx, r.humanDelay()); err != nil {
				stats.Aborted = "cancelled"
				return stats, err
			}
		}
	}

	log.Info("Runner.RunDay: finished",
		"attempted", stats.Attempted,
		"done", stats.Done,
		"failed", stats.Failed,
		"other", stats.Other)
	return stats, nil
}

// engageOne performs one engagement and maps its result onto a terminal
// action status and a health event.
func (r *Runner) engageOne(ctx context.Context, log *slog.Logger, action models.ScheduledAction) models.ActionStatus {
	res, err := r.engager.Engage(ctx, action)
	if err != nil {
		log.Error("Runner: engagement errored", "key", action.Key, "error", err)
		r.monitor.Record(health.EventFailure)
		return models.ActionStatusFailed
	}

	switch res.Outcome {
	case models.ActionStatusDone:
		r.monitor.Record(health.EventSuccess)
	case models.ActionStatusFailed:
		r.monitor.Record(health.EventFailure)
	}
	log.Info("Runner: engagement resolved", "key", action.Key, "outcome", res.Outcome, "detail", res.Detail)
	return res.Outcome
}

// recordOutcome consumes budget for completed work, marks the action in
// the plan and appends the audit row. Budget is consumed on every
// terminal outcome, not just done: a failed or empty visit still spent
// an external request.
func (r *Runner) recordOutcome(log *slog.Logger, runID string, action models.ScheduledAction, outcome models.ActionStatus) {
	now := r.now()
	if err := r.sched.Consume(1, now); err != nil {
		log.Error("Runner: failed to consume budget", "error", err)
	}
	if err := r.sched.MarkOutcome(action.Key, outcome, now); err != nil {
		// A regenerated plan may have dropped the action mid-day; the
		// work already happened, so this is noted and tolerated.
		if errors.Is(err, models.ErrInvalidOutcome) {
			log.Error("Runner: invalid outcome", "key", action.Key, "outcome", outcome)
		} else {
			log.Warn("Runner: outcome not recorded in plan", "key", action.Key, "error", err)
		}
	}
	if r.audit != nil {
		entry := models.ActionLogEntry{
			RunID:     runID,
			TargetKey: action.Key,
			Name:      action.Name,
			Outcome:   outcome,
			LoggedAt:  now,
		}
		if err := r.audit.LogAction(entry); err != nil {
			log.Error("Runner: audit log append failed", "error", err, "key", action.Key)
		}
	}
}

// waitUntilScheduled sleeps until the action's scheduled time of day.
// Times already in the past run immediately.
func (r *Runner) waitUntilScheduled(ctx context.Context, at models.MinuteOfDay) error {
	now := r.now().In(r.cfg.Location)
	target := at.At(models.DateOf(now), r.cfg.Location)
	if wait := target.Sub(now); wait > 0 {
		slog.Debug("Runner: waiting for scheduled time", "at", at.Clock(), "wait", wait)
		return r.sleep(ctx, wait)
	}
	return nil
}

// waitForLimits blocks through hourly-limit windows and reports false
// when a daily or weekly cap ends the run.
func (r *Runner) waitForLimits(ctx context.Context, log *slog.Logger) (bool, error) {
	for {
		ok, reason := r.sched.CheckLimits(r.now())
		if ok {
			return true, nil
		}
		if !strings.HasPrefix(reason, "hourly") {
			log.Warn("Runner: hard limit reached, ending run", "reason", reason)
			return false, nil
		}
		log.Info("Runner: hourly limit reached, backing off", "reason", reason, "backoff", r.cfg.HourlyBackoff)
		if err := r.sleep(ctx, r.cfg.HourlyBackoff); err != nil {
			return false, err
		}
	}
}

// humanDelay draws the inter-action delay: uniform base plus gaussian
// jitter, floored.
func (r *Runner) humanDelay() time.Duration {
	span := r.cfg.MaxDelay - r.cfg.MinDelay
	base := r.cfg.MinDelay
	if span > 0 {
		base += time.Duration(r.rng.Int64N(int64(span)))
	}
	d := base + time.Duration(r.rng.NormFloat64()*float64(r.cfg.DelayJitterStd))
	if d < r.cfg.DelayFloor {
		d = r.cfg.DelayFloor
	}
	return d
}

// ctxSleep sleeps for d or until the context is cancelled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
