package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/outreachloop/rotor/internal/models"
	"github.com/outreachloop/rotor/internal/scheduler"
)

// stubService is a scripted SchedulerService.
type stubService struct {
	queue       []models.ScheduledAction
	queueErr    error
	plan        *models.WeeklyPlan
	generateErr error
	allowed     bool
	reason      string
	consumed    int
	outcomes    map[string]models.ActionStatus
	markErr     error
	status      scheduler.StatusSnapshot
}

func (s *stubService) TodaysQueue(time.Time) ([]models.ScheduledAction, error) {
	return s.queue, s.queueErr
}

func (s *stubService) GenerateWeeklyPlan([]models.TargetSnapshot, time.Time) (*models.WeeklyPlan, error) {
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	s.plan = &models.WeeklyPlan{WeekStart: models.NewDate(2026, time.August, 3), WeekNumber: 32}
	return s.plan, nil
}

func (s *stubService) CheckLimits(time.Time) (bool, string) {
	return s.allowed, s.reason
}

func (s *stubService) Consume(amount int, _ time.Time) error {
	s.consumed += amount
	return nil
}

func (s *stubService) MarkOutcome(key string, outcome models.ActionStatus, _ time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	if s.outcomes == nil {
		s.outcomes = make(map[string]models.ActionStatus)
	}
	s.outcomes[key] = outcome
	return nil
}

func (s *stubService) Status() scheduler.StatusSnapshot { return s.status }
func (s *stubService) CurrentPlan() *models.WeeklyPlan  { return s.plan }

// stubTargets is a scripted TargetSource.
type stubTargets struct {
	snapshots []models.TargetSnapshot
	readErr   error
}

func (s *stubTargets) ReadTargetSnapshots(time.Time) ([]models.TargetSnapshot, error) {
	return s.snapshots, s.readErr
}

func (s *stubTargets) WriteTargetOutcome(string, models.ActionStatus, time.Time) error {
	return nil
}

func serve(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	var resp models.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("%s %s returned invalid JSON: %v", method, path, err)
	}
	return rec, resp
}

func TestStatusEndpoint(t *testing.T) {
	svc := &stubService{status: scheduler.StatusSnapshot{
		Hourly:     scheduler.WindowUsage{Used: 2, Limit: 5},
		PlanExists: true,
		PlanWeek:   32,
	}}
	srv := NewServer(svc, &stubTargets{})

	rec, resp := serve(t, srv, http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("envelope status = %q", resp.Status)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result has unexpected shape: %T", resp.Result)
	}
	if result["plan_week"] != float64(32) {
		t.Errorf("plan_week = %v", result["plan_week"])
	}
}

func TestStatusEndpointRejectsPost(t *testing.T) {
	srv := NewServer(&stubService{}, &stubTargets{})
	rec, resp := serve(t, srv, http.MethodPost, "/status", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 405", rec.Code)
	}
	if resp.Status != string(models.APIStatusError) {
		t.Errorf("envelope status = %q", resp.Status)
	}
}

func TestQueueEndpoint(t *testing.T) {
	svc := &stubService{queue: []models.ScheduledAction{
		{Key: "t1", Name: "One", Time: 10 * 60, Status: models.ActionStatusPending},
		{Key: "t2", Name: "Two", Time: 14 * 60, Status: models.ActionStatusPending},
	}}
	srv := NewServer(svc, &stubTargets{})

	rec, resp := serve(t, srv, http.MethodGet, "/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	queue, ok := resp.Result.([]interface{})
	if !ok || len(queue) != 2 {
		t.Errorf("queue result = %v", resp.Result)
	}
}

func TestQueueEndpointReportsFailure(t *testing.T) {
	svc := &stubService{queueErr: errors.New("store unavailable")}
	srv := NewServer(svc, &stubTargets{})

	rec, _ := serve(t, srv, http.MethodGet, "/queue", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want 500", rec.Code)
	}
}

func TestPlanEndpointGetWithoutPlan(t *testing.T) {
	srv := NewServer(&stubService{}, &stubTargets{})
	rec, _ := serve(t, srv, http.MethodGet, "/plan", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", rec.Code)
	}
}

func TestPlanEndpointPostRegenerates(t *testing.T) {
	svc := &stubService{}
	srv := NewServer(svc, &stubTargets{snapshots: []models.TargetSnapshot{{Key: "t1"}}})

	rec, resp := serve(t, srv, http.MethodPost, "/plan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, resp.Message)
	}
	if svc.plan == nil {
		t.Fatalf("plan not regenerated")
	}

	// The regenerated plan is now served on GET.
	rec, _ = serve(t, srv, http.MethodGet, "/plan", "")
	if rec.Code != http.StatusOK {
		t.Errorf("GET after regenerate = %d", rec.Code)
	}
}

func TestPlanEndpointPostSnapshotFailure(t *testing.T) {
	srv := NewServer(&stubService{}, &stubTargets{readErr: errors.New("sheet offline")})
	rec, _ := serve(t, srv, http.MethodPost, "/plan", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status code = %d, want 502", rec.Code)
	}
}

func TestLimitsEndpoint(t *testing.T) {
	svc := &stubService{allowed: false, reason: "daily_limit (20/20)"}
	srv := NewServer(svc, &stubTargets{})

	rec, resp := serve(t, srv, http.MethodGet, "/limits", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result has unexpected shape: %T", resp.Result)
	}
	if result["allowed"] != false || result["reason"] != "daily_limit (20/20)" {
		t.Errorf("result = %v", result)
	}
}

func TestOutcomeEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		markErr  error
		wantCode int
	}{
		{"recorded", `{"key":"t1","outcome":"done"}`, nil, http.StatusOK},
		{"invalid json", `{"key":`, nil, http.StatusBadRequest},
		{"missing key", `{"outcome":"done"}`, nil, http.StatusBadRequest},
		{"non-terminal outcome", `{"key":"t1","outcome":"pending"}`, models.ErrInvalidOutcome, http.StatusBadRequest},
		{"unknown target", `{"key":"ghost","outcome":"done"}`, scheduler.ErrActionNotFound, http.StatusNotFound},
		{"store failure", `{"key":"t1","outcome":"done"}`, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{markErr: tt.markErr}
			srv := NewServer(svc, &stubTargets{})
			rec, resp := serve(t, srv, http.MethodPost, "/outcome", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d (%s)", rec.Code, tt.wantCode, resp.Message)
			}
		})
	}
}

func TestOutcomeEndpointRecordsOutcome(t *testing.T) {
	svc := &stubService{}
	srv := NewServer(svc, &stubTargets{})

	_, resp := serve(t, srv, http.MethodPost, "/outcome", `{"key":"t1","outcome":"failed"}`)
	if resp.Status != string(models.APIStatusRecorded) {
		t.Errorf("envelope status = %q, want recorded", resp.Status)
	}
	if svc.outcomes["t1"] != models.ActionStatusFailed {
		t.Errorf("outcome = %s", svc.outcomes["t1"])
	}
}

func TestConsumeEndpoint(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantConsumed int
	}{
		{"explicit amount", `{"amount":3}`, 3},
		{"missing amount defaults to one", `{}`, 1},
		{"non-positive amount defaults to one", `{"amount":-2}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			srv := NewServer(svc, &stubTargets{})
			rec, _ := serve(t, srv, http.MethodPost, "/consume", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status code = %d", rec.Code)
			}
			if svc.consumed != tt.wantConsumed {
				t.Errorf("consumed = %d, want %d", svc.consumed, tt.wantConsumed)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&stubService{}, &stubTargets{})
	rec, resp := serve(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d", rec.Code)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("envelope status = %q", resp.Status)
	}
}
