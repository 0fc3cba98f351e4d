package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/outreachloop/rotor/internal/models"
	"github.com/outreachloop/rotor/internal/scheduler"
)

// statusHandler returns counter usage and plan presence.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.sched.Status()))
}

// queueHandler returns today's pending actions, regenerating a stale
// plan if needed.
func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	queue, err := s.sched.TodaysQueue(s.now())
	if err != nil {
		slog.Error("Server.queueHandler: failed to build queue", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to build today's queue"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(queue))
}

// planHandler serves the current plan on GET and regenerates it on
// POST.
func (s *Server) planHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		plan := s.sched.CurrentPlan()
		if plan == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No plan exists yet"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(plan))
	case http.MethodPost:
		snaps, err := s.targets.ReadTargetSnapshots(s.now())
		if err != nil {
			slog.Error("Server.planHandler: failed to read snapshots", "error", err)
			writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to read target snapshots"))
			return
		}
		plan, err := s.sched.GenerateWeeklyPlan(snaps, s.now())
		if err != nil {
			slog.Error("Server.planHandler: plan generation failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate weekly plan"))
			return
		}
		slog.Info("Server.planHandler: plan regenerated", "week_start", plan.WeekStart.String())
		writeJSONResponse(w, http.StatusOK, models.Success(plan))
	default:
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	}
}

// limitsHandler reports whether an action may run right now.
func (s *Server) limitsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	allowed, reason := s.sched.CheckLimits(s.now())
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"allowed": allowed,
		"reason":  reason,
	}))
}

// outcomeRequest is the body of POST /outcome.
type outcomeRequest struct {
	Key     string              `json:"key"`
	Outcome models.ActionStatus `json:"outcome"`
}

// outcomeHandler records a terminal outcome for today's action on a
// target.
func (s *Server) outcomeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	if req.Key == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing target key"))
		return
	}

	err := s.sched.MarkOutcome(req.Key, req.Outcome, s.now())
	switch {
	case errors.Is(err, models.ErrInvalidOutcome):
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Outcome must be a terminal action status"))
	case errors.Is(err, scheduler.ErrActionNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("No pending action for target today"))
	case err != nil:
		slog.Error("Server.outcomeHandler: failed to record outcome", "error", err, "key", req.Key)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record outcome"))
	default:
		writeJSONResponse(w, http.StatusOK, models.Recorded("Outcome recorded"))
	}
}

// consumeRequest is the body of POST /consume.
type consumeRequest struct {
	Amount int `json:"amount"`
}

// consumeHandler increments the usage counters after an external
// action was performed. A missing amount defaults to 1.
func (s *Server) consumeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}
	if err := s.sched.Consume(req.Amount, s.now()); err != nil {
		slog.Error("Server.consumeHandler: failed to consume", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update counters"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Recorded("Budget consumed"))
}

// healthHandler is a liveness probe.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
