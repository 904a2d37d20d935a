package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/copyleftdev/SAMO/internal/config"
	apperrors "github.com/copyleftdev/SAMO/internal/errors"
	"github.com/copyleftdev/SAMO/internal/logging"
	"github.com/copyleftdev/SAMO/internal/loop"
	"github.com/copyleftdev/SAMO/internal/metrics"
	"github.com/copyleftdev/SAMO/internal/problem"
	"github.com/copyleftdev/SAMO/internal/store"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// RunState tracks one surrogate-optimization run. It is thread-safe
// through the server's mutex and reaches a terminal status exactly once.
type RunState struct {
	ID          string
	Problem     string
	Identity    store.Identity
	Status      string // "pending", "running", "completed", "failed", "conflict", "cancelled"
	StartTime   time.Time
	EndTime     *time.Time
	Reason      string
	Summary     *loop.Summary
	CancelFunc  context.CancelFunc
	LastUpdated time.Time
}

// Server exposes the run lifecycle over HTTP. It owns the run registry
// and launches one controller goroutine per accepted run.
type Server struct {
	cfg    *config.Config
	met    *metrics.Metrics
	logger Logger

	runs   map[string]*RunState
	runsMu sync.RWMutex
	nextID int
}

// NewServer creates a new server instance with the given config, metrics
// and logger.
func NewServer(cfg *config.Config, met *metrics.Metrics, logger Logger) *Server {
	return &Server{
		cfg:    cfg,
		met:    met,
		logger: logger,
		runs:   make(map[string]*RunState),
	}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleRunStatus)
		r.Delete("/runs/{id}", s.handleCancelRun)
		r.Get("/problems", s.handleListProblems)
	})
}

type startRunRequest struct {
	Problem string `json:"problem"`
	// ID is the client-chosen problem identity. Requests with the same
	// id and problem share one database, which is what makes resuming
	// (or conflicting with) an earlier run possible. Zero means the
	// server assigns a fresh identity.
	ID        int  `json:"id"`
	Overwrite bool `json:"overwrite"`
}

// handleStartRun accepts a run request, resolves any prior run of the
// same identity and launches the controller in the background.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Problem == "" {
		s.respondError(w, http.StatusBadRequest, "problem is required")
		return
	}

	bench, err := problem.LoadBenchmark(req.Problem)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ID < 0 {
		s.respondError(w, http.StatusBadRequest, "id must not be negative")
		return
	}
	identity := store.Identity{ID: req.ID, Problem: req.Problem}
	s.runsMu.Lock()
	if req.ID == 0 {
		s.nextID++
		identity.ID = s.nextID
	} else if req.ID > s.nextID {
		// Keep server-assigned identities clear of client-chosen ones.
		s.nextID = req.ID
	}
	s.runsMu.Unlock()

	fingerprint, err := config.Fingerprint(s.cfg)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	decide := store.AutoDecision(s.cfg.Data.AutoOverwrite || req.Overwrite)
	db, resumed, err := store.Resolve(s.cfg, identity, fingerprint, decide)
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			s.respondError(w, http.StatusConflict, conflict.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	state := &RunState{
		ID:          id,
		Problem:     req.Problem,
		Identity:    identity,
		Status:      "pending",
		StartTime:   time.Now(),
		CancelFunc:  cancel,
		LastUpdated: time.Now(),
	}

	s.runsMu.Lock()
	s.runs[id] = state
	s.runsMu.Unlock()

	go s.runController(ctx, state, bench, db, resumed)

	s.logger.Info("Run accepted", map[string]interface{}{
		"run":      id,
		"problem":  req.Problem,
		"identity": identity.String(),
		"resumed":  resumed,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":  id,
		"status":  "pending",
		"resumed": resumed,
	})
}

// runController executes the full workflow for one run in a goroutine.
func (s *Server) runController(ctx context.Context, state *RunState, bench *problem.Benchmark,
	db *store.Store, resumed bool) {
	defer db.Close()

	s.setStatus(state, "running", "")

	ctrl, err := loop.NewController(s.cfg, bench.Descriptor, bench.Evaluator,
		db, s.met, s.logger.WithFields(map[string]interface{}{"problem": state.Problem}),
		state.ID, resumed)
	if err != nil {
		s.finishRun(state, nil, err)
		return
	}

	summary, err := ctrl.Run(ctx)
	if err != nil {
		err = apperrors.Wrap(err, "run execution failed").
			WithComponent("loop").
			WithOperation("run " + state.ID)
	}
	s.finishRun(state, summary, err)
}

func (s *Server) setStatus(state *RunState, status, reason string) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	state.Status = status
	state.Reason = reason
	state.LastUpdated = time.Now()
}

func (s *Server) finishRun(state *RunState, summary *loop.Summary, err error) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	if state.Status == "cancelled" {
		return
	}
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
	state.Summary = summary

	if err != nil {
		state.Status = "failed"
		state.Reason = err.Error()
		s.logger.Error("Run failed", map[string]interface{}{
			"run":   state.ID,
			"error": err.Error(),
		})
		return
	}
	state.Status = "completed"
	s.logger.Info("Run completed", map[string]interface{}{
		"run":       state.ID,
		"converged": summary.Converged,
		"cycles":    summary.Cycles,
		"samples":   summary.TotalSamples,
	})
}

// handleRunStatus reports the current state of one run.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.runsMu.RLock()
	state, exists := s.runs[id]
	if !exists {
		s.runsMu.RUnlock()
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	response := s.runResponse(state)
	s.runsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleListRuns reports all known runs, newest first not guaranteed.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.runsMu.RLock()
	responses := make([]map[string]interface{}, 0, len(s.runs))
	for _, state := range s.runs {
		responses = append(responses, s.runResponse(state))
	}
	s.runsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"runs": responses})
}

// handleCancelRun cancels a pending or running run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.runsMu.Lock()
	state, exists := s.runs[id]
	if !exists {
		s.runsMu.Unlock()
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	switch state.Status {
	case "completed", "failed", "cancelled":
		status := state.Status
		s.runsMu.Unlock()
		s.respondError(w, http.StatusConflict,
			fmt.Sprintf("cannot cancel run with status: %s", status))
		return
	}

	if state.CancelFunc != nil {
		state.CancelFunc()
	}
	state.Status = "cancelled"
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now
	s.runsMu.Unlock()

	s.logger.Info("Run cancelled", map[string]interface{}{"run": id})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
}

// handleListProblems reports the registered benchmark problems.
func (s *Server) handleListProblems(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"problems": problem.BenchmarkNames(),
	})
}

// runResponse builds the JSON view of a run. Caller holds the lock.
func (s *Server) runResponse(state *RunState) map[string]interface{} {
	response := map[string]interface{}{
		"run_id":      state.ID,
		"problem":     state.Problem,
		"identity":    state.Identity.String(),
		"status":      state.Status,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		response["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.Reason != "" {
		response["reason"] = state.Reason
	}
	if sum := state.Summary; sum != nil {
		result := map[string]interface{}{
			"converged":     sum.Converged,
			"cycles":        sum.Cycles,
			"iterations":    sum.Iterations,
			"total_samples": sum.TotalSamples,
			"error":         sum.ErrorMeasure,
		}
		if len(sum.Series.Values) > 0 {
			result["convergence"] = map[string]interface{}{
				"metric": sum.Series.Name,
				"values": sum.Series.Values,
			}
		}
		if sum.Result != nil {
			result["candidates"] = sum.Result.X
			result["objectives"] = sum.Result.F
		}
		response["summary"] = result
	}
	return response
}

func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": message})
}

// Close cancels all in-flight runs.
func (s *Server) Close() error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	for _, state := range s.runs {
		if state.CancelFunc != nil {
			state.CancelFunc()
		}
	}
	return nil
}
