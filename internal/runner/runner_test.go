package runner

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/outreachloop/rotor/internal/health"
	"github.com/outreachloop/rotor/internal/models"
)

// stubPlanner is a scripted scheduler for runner tests.
type stubPlanner struct {
	queue        []models.ScheduledAction
	limitAnswers []string // per-call reasons, "" meaning allowed; exhausted answers allow
	limitCalls   int
	consumed     int
	outcomes     map[string]models.ActionStatus
	markErr      error
}

func (p *stubPlanner) TodaysQueue(time.Time) ([]models.ScheduledAction, error) {
	return p.queue, nil
}

func (p *stubPlanner) CheckLimits(time.Time) (bool, string) {
	i := p.limitCalls
	p.limitCalls++
	if i < len(p.limitAnswers) && p.limitAnswers[i] != "" {
		return false, p.limitAnswers[i]
	}
	return true, "ok"
}

func (p *stubPlanner) Consume(amount int, _ time.Time) error {
	p.consumed += amount
	return nil
}

func (p *stubPlanner) MarkOutcome(key string, outcome models.ActionStatus, _ time.Time) error {
	if p.outcomes == nil {
		p.outcomes = make(map[string]models.ActionStatus)
	}
	p.outcomes[key] = outcome
	return p.markErr
}

// scriptedEngager returns pre-set results per target key.
type scriptedEngager struct {
	results map[string]EngageResult
	errs    map[string]error
	calls   []string
}

func (e *scriptedEngager) Engage(_ context.Context, a models.ScheduledAction) (EngageResult, error) {
	e.calls = append(e.calls, a.Key)
	if err := e.errs[a.Key]; err != nil {
		return EngageResult{}, err
	}
	return e.results[a.Key], nil
}

// recordingAudit collects audit rows.
type recordingAudit struct {
	rows []models.ActionLogEntry
}

func (a *recordingAudit) LogAction(entry models.ActionLogEntry) error {
	a.rows = append(a.rows, entry)
	return nil
}

// countingNoise counts noise invocations.
type countingNoise struct {
	count int
}

func (n *countingNoise) PerformNoise(context.Context) error {
	n.count++
	return nil
}

func testQueue(keys ...string) []models.ScheduledAction {
	actions := make([]models.ScheduledAction, len(keys))
	for i, k := range keys {
		actions[i] = models.ScheduledAction{
			Key:    k,
			Name:   k,
			Time:   models.MinuteOfDay(9*60 + i),
			Status: models.ActionStatusPending,
		}
	}
	return actions
}

// instantClock pins now past every scheduled time and records sleeps
// without waiting.
type instantClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *instantClock) clockOptions() Option {
	return WithClock(
		func() time.Time { return c.now },
		func(_ context.Context, d time.Duration) error {
			c.sleeps = append(c.sleeps, d)
			return nil
		},
	)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	return cfg
}

func newTestRunner(planner *stubPlanner, engager Engager, opts ...Option) (*Runner, *health.Monitor, *instantClock) {
	monitor := health.NewMonitor(nil)
	clock := &instantClock{now: time.Date(2026, time.August, 3, 20, 0, 0, 0, time.UTC)}
	base := []Option{
		clock.clockOptions(),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	}
	r := New(testConfig(), planner, engager, monitor, append(base, opts...)...)
	return r, monitor, clock
}

func TestRunDayHappyPath(t *testing.T) {
	planner := &stubPlanner{queue: testQueue("a", "b", "c")}
	engager := &scriptedEngager{results: map[string]EngageResult{
		"a": {Outcome: models.ActionStatusDone},
		"b": {Outcome: models.ActionStatusDone},
		"c": {Outcome: models.ActionStatusNoContent},
	}}
	audit := &recordingAudit{}
	r, monitor, _ := newTestRunner(planner, engager, WithAuditLog(audit))

	stats, err := r.RunDay(context.Background())
	if err != nil {
		t.Fatalf("RunDay failed: %v", err)
	}
	if stats.Queued != 3 || stats.Attempted != 3 || stats.Done != 2 || stats.Other != 1 || stats.Aborted != "" {
		t.Errorf("stats = %+v", stats)
	}
	if planner.consumed != 3 {
		t.Errorf("consumed = %d, want 3", planner.consumed)
	}
	if planner.outcomes["a"] != models.ActionStatusDone || planner.outcomes["c"] != models.ActionStatusNoContent {
		t.Errorf("outcomes = %v", planner.outcomes)
	}
	if len(audit.rows) != 3 {
		t.Fatalf("audit rows = %d, want 3", len(audit.rows))
	}
	for _, row := range audit.rows {
		if row.RunID != stats.RunID {
			t.Errorf("audit row run ID %q, want %q", row.RunID, stats.RunID)
		}
	}
	if monitor.Score() != health.MaxScore {
		t.Errorf("health score = %d after clean run", monitor.Score())
	}
}

func TestRunDayEngagerErrorCountsAsFailure(t *testing.T) {
	planner := &stubPlanner{queue: testQueue("a")}
	engager := &scriptedEngager{errs: map[string]error{"a": errors.New("browser crashed")}}
	r, monitor, _ := newTestRunner(planner, engager)

	stats, err := r.RunDay(context.Background())
	if err != nil {
		t.Fatalf("RunDay failed: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
	if planner.outcomes["a"] != models.ActionStatusFailed {
		t.Errorf("outcome = %s, want failed", planner.outcomes["a"])
	}
	if monitor.Score() >= health.MaxScore {
		t.Errorf("failure should lower the health score")
	}
}

func TestRunDayHealthGateAborts(t *testing.T) {
	planner := &stubPlanner{queue: testQueue("a", "b")}
	engager := &scriptedEngager{}
	r, monitor, _ := newTestRunner(planner, engager)

	// Crash the score below the manual review threshold.
	for i := 0; i < 5; i++ {
		monitor.Record(health.EventCaptcha)
	}

	stats, err := r.RunDay(context.Background())
	if err != nil {
		t.Fatalf("RunDay failed: %v", err)
	}
	if stats.Aborted != "health" || stats.Attempted != 0 {
		t.Errorf("stats = %+v, want health abort before any attempt", stats)
	}
	if len(engager.calls) != 0 {
		t.Errorf("engager called despite health gate")
	}
}

func TestRunDayDailyLimitEndsRun(t *testing.T) {
	planner := &stubPlanner{
		queue:        testQueue("a", "b"),
		limitAnswers: []string{"daily_limit (20/20)"},
	}
	engager := &scriptedEngager{}
	r, _, _ := newTestRunner(planner, engager)

	stats, err := r.RunDay(context.Background())
	if err != nil {
		t.Fatalf("RunDay failed: %v", err)
	}
	if stats.Aborted != "limits" || stats.Attempted != 0 {
		t.Errorf("stats = %+v, want limits abort", stats)
	}
}

func TestRunDayHourlyLimitBacksOffThenContinues(t *testing.T) {
	planner := &stubPlanner{
		queue:        testQueue("a"),
		limitAnswers: []string{"hourly_limit (5/5)", ""},
	}
	engager := &scriptedEngager{results: map[string]EngageResult{"a": {Outcome: models.ActionStatusDone}}}
	r, _, clock := newTestRunner(planner, engager)

	stats, err := r.RunDay(context.Background())
	if err != nil {
		t.Fatalf("RunDay failed: %v", err)
	}
	if stats.Done != 1 || stats.Aborted != "" {
		t.Errorf("stats = %+v, want completed run after backoff", stats)
	}
	found := false
	for _, d := range clock.sleeps {
		if d == testConfig().HourlyBackoff {
			found = true
		}
	}
	if !found {
		t.Errorf("no hourly backoff sleep recorded: %v", clock.sleeps)
	}
}

func TestRunDayToleratesMissingAction(t *testing.T) {
	planner := &stubPlanner{
		queue:   testQueue("a"),
		markErr: errors.New("no pending scheduled action for target today"),
	}
	engager := &scriptedEngager{results: map[string]EngageResult{"a": {Outcome: models.ActionStatusDone}}}
	r, _, _ := newTestRunner(planner, engager)

	stats, err := r.RunDay(context.Background())
	if err != nil {
		t.Fatalf("missing action must not fail the run: %v", err)
	}
	if stats.Done != 1 {
		t.Errorf("stats = %+v", stats)
	}
	// The external work happened, so the budget is still consumed.
	if planner.consumed != 1 {
		t.Errorf("consumed = %d, want 1", planner.consumed)
	}
}

func TestRunDayNoiseActions(t *testing.T) {
	planner := &stubPlanner{queue: testQueue("a", "b", "c", "d")}
	engager := &scriptedEngager{results: map[string]EngageResult{
		"a": {Outcome: models.ActionStatusDone},
		"b": {Outcome: models.ActionStatusDone},
		"c": {Outcome: models.ActionStatusDone},
		"d": {Outcome: models.ActionStatusDone},
	}}
	noise := &countingNoise{}

	cfg := testConfig()
	cfg.NoiseProbability = 1.0
	monitor := health.NewMonitor(nil)
	clock := &instantClock{now: time.Date(2026, time.August, 3, 20, 0, 0, 0, time.UTC)}
	r := New(cfg, planner, engager, monitor,
		clock.clockOptions(),
		WithRand(rand.New(rand.NewPCG(3, 4))),
		WithNoiseActor(noise))

	if _, err := r.RunDay(context.Background()); err != nil {
		t.Fatalf("RunDay failed: %v", err)
	}
	if noise.count != 4 {
		t.Errorf("noise actions = %d, want 4 at probability 1", noise.count)
	}
}

func TestRunDayCancellation(t *testing.T) {
	planner := &stubPlanner{queue: testQueue("a", "b")}
	engager := &scriptedEngager{results: map[string]EngageResult{
		"a": {Outcome: models.ActionStatusDone},
		"b": {Outcome: models.ActionStatusDone},
	}}
	monitor := health.NewMonitor(nil)
	clock := &instantClock{now: time.Date(2026, time.August, 3, 20, 0, 0, 0, time.UTC)}
	r := New(testConfig(), planner, engager, monitor,
		WithClock(
			func() time.Time { return clock.now },
			func(context.Context, time.Duration) error { return context.Canceled },
		),
		WithRand(rand.New(rand.NewPCG(5, 6))))

	stats, err := r.RunDay(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if stats.Aborted != "cancelled" {
		t.Errorf("stats = %+v, want cancelled abort", stats)
	}
}

func TestHumanDelayBounds(t *testing.T) {
	monitor := health.NewMonitor(nil)
	r := New(testConfig(), &stubPlanner{}, &scriptedEngager{}, monitor,
		WithRand(rand.New(rand.NewPCG(7, 8))))

	cfg := testConfig()
	for i := 0; i < 1000; i++ {
		d := r.humanDelay()
		if d < cfg.DelayFloor {
			t.Fatalf("delay %v below floor %v", d, cfg.DelayFloor)
		}
		// Gaussian jitter makes the upper side soft; allow generous slack.
		if d > cfg.MaxDelay+10*cfg.DelayJitterStd {
			t.Fatalf("delay %v implausibly large", d)
		}
	}
}

func TestDryRunEngager(t *testing.T) {
	res, err := DryRunEngager{}.Engage(context.Background(), models.ScheduledAction{Key: "x"})
	if err != nil {
		t.Fatalf("DryRunEngager failed: %v", err)
	}
	if res.Outcome != models.ActionStatusDone {
		t.Errorf("outcome = %s, want done", res.Outcome)
	}
}
