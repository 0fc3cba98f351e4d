// Package api exposes rotor's scheduling state over HTTP.
//
// Endpoints cover the read side (status, queue, plan, limits) and the
// operations external collaborators need (plan regeneration, outcome
// reports, budget consumption). All responses use the standard
// APIResponse envelope.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/outreachloop/rotor/internal/models"
	"github.com/outreachloop/rotor/internal/scheduler"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// SchedulerService is the slice of the scheduler the API exposes.
type SchedulerService interface {
	TodaysQueue(now time.Time) ([]models.ScheduledAction, error)
	GenerateWeeklyPlan(snapshots []models.TargetSnapshot, now time.Time) (*models.WeeklyPlan, error)
	CheckLimits(now time.Time) (bool, string)
	Consume(amount int, now time.Time) error
	MarkOutcome(key string, outcome models.ActionStatus, now time.Time) error
	Status() scheduler.StatusSnapshot
	CurrentPlan() *models.WeeklyPlan
}

// Opts holds configuration for the API server.
type Opts struct {
	addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.addr = addr }
}

// Server is the rotor HTTP API server.
type Server struct {
	sched   SchedulerService
	targets scheduler.TargetSource
	httpSrv *http.Server
	now     func() time.Time
}

// NewServer wires the API server around a scheduler and target source.
func NewServer(sched SchedulerService, targets scheduler.TargetSource, opts ...Option) *Server {
	o := Opts{addr: DefaultAddr}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		sched:   sched,
		targets: targets,
		now:     time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/queue", s.queueHandler)
	mux.HandleFunc("/plan", s.planHandler)
	mux.HandleFunc("/limits", s.limitsHandler)
	mux.HandleFunc("/outcome", s.outcomeHandler)
	mux.HandleFunc("/consume", s.consumeHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.httpSrv = &http.Server{
		Addr:         o.addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	slog.Info("API server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.httpSrv.Shutdown(ctx)
}
