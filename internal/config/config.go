// Package config loads rotor's runtime configuration from environment
// variables, with documented defaults for every knob.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/outreachloop/rotor/internal/models"
	"github.com/outreachloop/rotor/internal/runner"
	"github.com/outreachloop/rotor/internal/scheduler"
	"github.com/outreachloop/rotor/internal/scorer"
	"github.com/outreachloop/rotor/internal/timing"
)

// AppConfig is the full runtime configuration.
type AppConfig struct {
	// StateDir holds the lock file and the default SQLite database.
	StateDir string `envconfig:"ROTOR_STATE_DIR" default:"/var/lib/rotor"`
	// DatabaseDSN selects the storage backend: a postgres:// URL or a
	// SQLite file path. Empty defaults to rotor.db inside StateDir.
	DatabaseDSN string `envconfig:"DATABASE_URL"`
	// APIAddr is the HTTP listen address.
	APIAddr string `envconfig:"ROTOR_API_ADDR" default:":8080"`
	// Timezone anchors all calendar boundaries.
	Timezone string `envconfig:"ROTOR_TIMEZONE" default:"America/New_York"`

	// Operating window, HH:MM local time.
	OperatingStart string `envconfig:"ROTOR_OPERATING_START" default:"09:00"`
	OperatingEnd   string `envconfig:"ROTOR_OPERATING_END" default:"18:00"`

	// Hard usage caps.
	HourlyLimit int `envconfig:"ROTOR_HOURLY_LIMIT" default:"5"`
	DailyLimit  int `envconfig:"ROTOR_DAILY_LIMIT" default:"20"`
	WeeklyLimit int `envconfig:"ROTOR_WEEKLY_LIMIT" default:"80"`

	// Weekly budget sampling.
	DailyBudgetMean    float64 `envconfig:"ROTOR_DAILY_BUDGET_MEAN" default:"12"`
	DailyBudgetStd     float64 `envconfig:"ROTOR_DAILY_BUDGET_STD" default:"4"`
	DailyBudgetMin     int     `envconfig:"ROTOR_DAILY_BUDGET_MIN" default:"5"`
	DailyBudgetMax     int     `envconfig:"ROTOR_DAILY_BUDGET_MAX" default:"20"`
	WeeklyBudgetTarget int     `envconfig:"ROTOR_WEEKLY_BUDGET_TARGET" default:"80"`
	WeeklyBudgetFloor  int     `envconfig:"ROTOR_WEEKLY_BUDGET_FLOOR" default:"70"`
	BurstExtraMin      int     `envconfig:"ROTOR_BURST_EXTRA_MIN" default:"3"`
	BurstExtraMax      int     `envconfig:"ROTOR_BURST_EXTRA_MAX" default:"5"`

	// Priority scoring and selection.
	ScoreDaysWeight    float64 `envconfig:"ROTOR_SCORE_DAYS_WEIGHT" default:"0.8"`
	ScoreDaysCap       float64 `envconfig:"ROTOR_SCORE_DAYS_CAP" default:"12"`
	ScoreJitterMax     float64 `envconfig:"ROTOR_SCORE_JITTER_MAX" default:"5"`
	ForceThresholdDays float64 `envconfig:"ROTOR_FORCE_THRESHOLD_DAYS" default:"12"`
	ForceMaxPerDay     int     `envconfig:"ROTOR_FORCE_MAX_PER_DAY" default:"5"`
	PoolMultiplier     int     `envconfig:"ROTOR_POOL_MULTIPLIER" default:"2"`

	// Intra-day timing.
	TimingJitterMinutes int `envconfig:"ROTOR_TIMING_JITTER_MINUTES" default:"5"`
	TimingMinGapMinutes int `envconfig:"ROTOR_TIMING_MIN_GAP_MINUTES" default:"3"`

	// Runner pacing.
	MinDelay         time.Duration `envconfig:"ROTOR_MIN_DELAY" default:"180s"`
	MaxDelay         time.Duration `envconfig:"ROTOR_MAX_DELAY" default:"480s"`
	NoiseProbability float64       `envconfig:"ROTOR_NOISE_PROBABILITY" default:"0.10"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field consistency.
func (c *AppConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	start, err := models.ParseClock(c.OperatingStart)
	if err != nil {
		return fmt.Errorf("invalid operating start: %w", err)
	}
	end, err := models.ParseClock(c.OperatingEnd)
	if err != nil {
		return fmt.Errorf("invalid operating end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("operating window %s-%s is empty", start.Clock(), end.Clock())
	}
	if c.DailyBudgetMin > c.DailyBudgetMax {
		return fmt.Errorf("daily budget min %d exceeds max %d", c.DailyBudgetMin, c.DailyBudgetMax)
	}
	if c.WeeklyBudgetFloor > c.WeeklyBudgetTarget {
		return fmt.Errorf("weekly budget floor %d exceeds target %d", c.WeeklyBudgetFloor, c.WeeklyBudgetTarget)
	}
	if c.BurstExtraMin > c.BurstExtraMax {
		return fmt.Errorf("burst extra min %d exceeds max %d", c.BurstExtraMin, c.BurstExtraMax)
	}
	if c.MinDelay > c.MaxDelay {
		return fmt.Errorf("min delay %s exceeds max delay %s", c.MinDelay, c.MaxDelay)
	}
	if c.NoiseProbability < 0 || c.NoiseProbability > 1 {
		return fmt.Errorf("noise probability %v outside [0, 1]", c.NoiseProbability)
	}
	if c.HourlyLimit <= 0 || c.DailyLimit <= 0 || c.WeeklyLimit <= 0 {
		return fmt.Errorf("limits must be positive (hourly %d, daily %d, weekly %d)",
			c.HourlyLimit, c.DailyLimit, c.WeeklyLimit)
	}
	return nil
}

// Location returns the configured time zone.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SchedulerConfig converts the app config into scheduler parameters.
func (c *AppConfig) SchedulerConfig() scheduler.Config {
	start, _ := models.ParseClock(c.OperatingStart)
	end, _ := models.ParseClock(c.OperatingEnd)
	return scheduler.Config{
		DailyBudgetMean:    c.DailyBudgetMean,
		DailyBudgetStd:     c.DailyBudgetStd,
		DailyBudgetMin:     c.DailyBudgetMin,
		DailyBudgetMax:     c.DailyBudgetMax,
		WeeklyBudgetTarget: c.WeeklyBudgetTarget,
		WeeklyBudgetFloor:  c.WeeklyBudgetFloor,
		BurstExtraMin:      c.BurstExtraMin,
		BurstExtraMax:      c.BurstExtraMax,
		HourlyLimit:        c.HourlyLimit,
		DailyLimit:         c.DailyLimit,
		WeeklyLimit:        c.WeeklyLimit,
		OperatingStart:     start,
		OperatingEnd:       end,
		Location:           c.Location(),
	}
}

// ScorerConfig converts the app config into scoring parameters.
func (c *AppConfig) ScorerConfig() scorer.Config {
	return scorer.Config{
		DaysWeight:         c.ScoreDaysWeight,
		DaysCap:            c.ScoreDaysCap,
		JitterMax:          c.ScoreJitterMax,
		ForceThresholdDays: c.ForceThresholdDays,
		ForceMaxPerDay:     c.ForceMaxPerDay,
		PoolMultiplier:     c.PoolMultiplier,
	}
}

// TimingConfig converts the app config into timestamp generation
// parameters.
func (c *AppConfig) TimingConfig() timing.Config {
	cfg := timing.DefaultConfig()
	cfg.JitterMinutes = c.TimingJitterMinutes
	cfg.MinGapMinutes = c.TimingMinGapMinutes
	return cfg
}

// RunnerConfig converts the app config into runner pacing parameters.
func (c *AppConfig) RunnerConfig() runner.Config {
	cfg := runner.DefaultConfig()
	cfg.MinDelay = c.MinDelay
	cfg.MaxDelay = c.MaxDelay
	cfg.NoiseProbability = c.NoiseProbability
	cfg.Location = c.Location()
	return cfg
}
