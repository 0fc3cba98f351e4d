package config

import (
	"strings"
	"testing"
	"time"
)

func defaultsConfig(t *testing.T) *AppConfig {
	t.Helper()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := defaultsConfig(t)

	if cfg.StateDir != "/var/lib/rotor" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.APIAddr != ":8080" {
		t.Errorf("APIAddr = %q", cfg.APIAddr)
	}
	if cfg.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if cfg.HourlyLimit != 5 || cfg.DailyLimit != 20 || cfg.WeeklyLimit != 80 {
		t.Errorf("limits = %d/%d/%d", cfg.HourlyLimit, cfg.DailyLimit, cfg.WeeklyLimit)
	}
	if cfg.MinDelay != 180*time.Second || cfg.MaxDelay != 480*time.Second {
		t.Errorf("delays = %s/%s", cfg.MinDelay, cfg.MaxDelay)
	}
	if cfg.NoiseProbability != 0.10 {
		t.Errorf("NoiseProbability = %v", cfg.NoiseProbability)
	}
}

func TestLoadRespectsEnvironment(t *testing.T) {
	t.Setenv("ROTOR_TIMEZONE", "Europe/Berlin")
	t.Setenv("ROTOR_DAILY_LIMIT", "10")
	t.Setenv("ROTOR_OPERATING_END", "17:30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timezone != "Europe/Berlin" {
		t.Errorf("Timezone = %q", cfg.Timezone)
	}
	if cfg.DailyLimit != 10 {
		t.Errorf("DailyLimit = %d", cfg.DailyLimit)
	}
	if cfg.OperatingEnd != "17:30" {
		t.Errorf("OperatingEnd = %q", cfg.OperatingEnd)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"bad timezone", func(c *AppConfig) { c.Timezone = "Mars/Olympus" }, "invalid timezone"},
		{"bad start clock", func(c *AppConfig) { c.OperatingStart = "9am" }, "operating start"},
		{"bad end clock", func(c *AppConfig) { c.OperatingEnd = "25:00" }, "operating end"},
		{"inverted window", func(c *AppConfig) { c.OperatingStart, c.OperatingEnd = "18:00", "09:00" }, "empty"},
		{"budget min over max", func(c *AppConfig) { c.DailyBudgetMin = 25 }, "daily budget min"},
		{"floor over target", func(c *AppConfig) { c.WeeklyBudgetFloor = 90 }, "weekly budget floor"},
		{"burst min over max", func(c *AppConfig) { c.BurstExtraMin = 9 }, "burst extra min"},
		{"min delay over max", func(c *AppConfig) { c.MinDelay = 10 * time.Minute }, "min delay"},
		{"noise out of range", func(c *AppConfig) { c.NoiseProbability = 1.5 }, "noise probability"},
		{"non-positive limit", func(c *AppConfig) { c.WeeklyLimit = 0 }, "limits must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultsConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := defaultsConfig(t)
	cfg.Timezone = "Mars/Olympus"
	if loc := cfg.Location(); loc != time.UTC {
		t.Errorf("Location = %v, want UTC", loc)
	}
}

func TestSchedulerConfigConversion(t *testing.T) {
	cfg := defaultsConfig(t)
	sc := cfg.SchedulerConfig()

	if sc.OperatingStart.Clock() != "09:00" || sc.OperatingEnd.Clock() != "18:00" {
		t.Errorf("window = %s-%s", sc.OperatingStart.Clock(), sc.OperatingEnd.Clock())
	}
	if sc.WeeklyBudgetTarget != 80 || sc.WeeklyBudgetFloor != 70 {
		t.Errorf("weekly budget = %d/%d", sc.WeeklyBudgetTarget, sc.WeeklyBudgetFloor)
	}
	if sc.Location.String() != "America/New_York" {
		t.Errorf("location = %v", sc.Location)
	}
}

func TestRunnerConfigConversion(t *testing.T) {
	cfg := defaultsConfig(t)
	cfg.MinDelay = 2 * time.Minute
	cfg.MaxDelay = 6 * time.Minute
	cfg.NoiseProbability = 0.25

	rc := cfg.RunnerConfig()
	if rc.MinDelay != 2*time.Minute || rc.MaxDelay != 6*time.Minute {
		t.Errorf("delays = %s/%s", rc.MinDelay, rc.MaxDelay)
	}
	if rc.NoiseProbability != 0.25 {
		t.Errorf("NoiseProbability = %v", rc.NoiseProbability)
	}
}
