// Package health implements a score-decay circuit breaker for the
// runner. External symptoms (failures, rate limiting, challenges)
// erode a 0-100 score; low scores impose escalating pause windows and
// the runner checks CanProceed before every action.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// Event classifies an observed outcome of an external action attempt.
type Event string

const (
	// EventSuccess indicates a completed action.
	EventSuccess Event = "success"
	// EventFailure indicates an ordinary failed attempt.
	EventFailure Event = "failure"
	// EventRateLimit indicates the external service pushed back.
	EventRateLimit Event = "rate_limit"
	// EventCaptcha indicates a challenge was presented.
	EventCaptcha Event = "captcha"
	// EventSessionExpired indicates the session was invalidated.
	EventSessionExpired Event = "session_expired"
)

// IsValidEvent checks if the given health event is supported.
func IsValidEvent(e Event) bool {
	switch e {
	case EventSuccess, EventFailure, EventRateLimit, EventCaptcha, EventSessionExpired:
		return true
	default:
		return false
	}
}

// Score adjustments and pause thresholds.
const (
	MaxScore = 100

	successReward      = 1
	failurePenalty     = 5
	rateLimitPenalty   = 20
	captchaPenalty     = 30
	sessionExpPenalty  = 40
	manualReviewScore  = 10
	longPauseScore     = 30
	shortPauseScore    = 50
	longPauseDuration  = 3 * 24 * time.Hour
	shortPauseDuration = 24 * time.Hour
	// manualReviewPause is effectively indefinite; resuming requires
	// operator intervention and a process restart.
	manualReviewPause = 3650 * 24 * time.Hour
)

// Monitor tracks account health across a process lifetime. The zero
// value is not usable; create one with NewMonitor.
type Monitor struct {
	mu         sync.Mutex
	score      int
	lastChange time.Time
	pauseUntil time.Time
	now        func() time.Time
}

// NewMonitor returns a Monitor at full health. A nil now func defaults
// to time.Now; tests inject a fake clock.
func NewMonitor(now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		score:      MaxScore,
		lastChange: now(),
		now:        now,
	}
}

// Record applies an event to the score and recomputes the pause
// window. Scores are clamped to [0, MaxScore].
func (m *Monitor) Record(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event {
	case EventSuccess:
		m.score = min(MaxScore, m.score+successReward)
	case EventFailure:
		m.score = max(0, m.score-failurePenalty)
	case EventRateLimit:
		m.score = max(0, m.score-rateLimitPenalty)
	case EventCaptcha:
		m.score = max(0, m.score-captchaPenalty)
	case EventSessionExpired:
		m.score = max(0, m.score-sessionExpPenalty)
	default:
		slog.Warn("health.Record: unknown event ignored", "event", event)
		return
	}
	now := m.now()
	m.lastChange = now

	switch {
	case m.score < manualReviewScore:
		m.pauseUntil = now.Add(manualReviewPause)
		slog.Error("health: score critically low, manual review required", "score", m.score)
	case m.score < longPauseScore:
		m.pauseUntil = now.Add(longPauseDuration)
		slog.Warn("health: score low, pausing", "score", m.score, "pause", longPauseDuration)
	case m.score < shortPauseScore:
		m.pauseUntil = now.Add(shortPauseDuration)
		slog.Warn("health: score degraded, pausing", "score", m.score, "pause", shortPauseDuration)
	default:
		m.pauseUntil = time.Time{}
	}
}

// CanProceed reports whether actions may run right now.
func (m *Monitor) CanProceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseUntil.IsZero() || !m.now().Before(m.pauseUntil)
}

// TimeUntilResume returns how long until actions may resume, zero when
// unpaused.
func (m *Monitor) TimeUntilResume() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pauseUntil.IsZero() {
		return 0
	}
	d := m.pauseUntil.Sub(m.now())
	if d < 0 {
		return 0
	}
	return d
}

// Score returns the current health score.
func (m *Monitor) Score() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score
}
