package httpapi

import (
	"context"
	"net/http"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/montecarlo"
	"github.com/flowcast/forecaster/internal/tasks"
)

// simulateKind is the Task Runner kind dispatching to montecarlo.Run.
const simulateKind = "simulate"

// simulateHandler is the shared tasks.Handler backing both the sync cap
// bypass and the async path, so the two endpoints never drift.
func simulateHandler(ctx context.Context, payload any, report tasks.Reporter) (any, error) {
	cfg, ok := payload.(model.SimulationConfig)
	if !ok {
		return nil, apperr.New(apperr.InternalError, "simulate task payload was not a SimulationConfig")
	}
	report.Report(0, "running trials")
	result, err := montecarlo.Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	report.Report(100, "done")
	return result, nil
}

// handleSimulateSync is POST /simulate: synchronous, capped at
// SyncSimulationCap trials. Larger requests get 413 and must use the
// async path.
func (s *Server) handleSimulateSync(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeSimulationConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if cfg.NSimulations > s.cfg.SyncSimulationCap {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
			ErrorKind: string(apperr.ConfigInvalid),
			Message:   "n_simulations exceeds the synchronous cap; use /simulate/async",
			Details:   map[string]any{"sync_cap": s.cfg.SyncSimulationCap, "n_simulations": cfg.NSimulations},
		})
		return
	}

	fingerprint, err := montecarlo.Fingerprint(cfg)
	if err != nil {
		writeErr(w, apperr.Newf(apperr.InternalError, "fingerprint config: %v", err))
		return
	}

	// Coalesce a burst of identical concurrent requests into one Engine
	// run: the same config_fingerprint shares the same result instead of
	// each caller re-running n_simulations trials.
	v, err, _ := s.simSyncGroup.Do(fingerprint, func() (any, error) {
		return montecarlo.Run(r.Context(), cfg)
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleSimulateAsync is POST /simulate/async: dispatches through the Task
// Runner regardless of n_simulations and returns {task_id} immediately.
func (s *Server) handleSimulateAsync(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeSimulationConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := montecarlo.Validate(cfg); err != nil {
		writeErr(w, err)
		return
	}

	fingerprint, err := montecarlo.Fingerprint(cfg)
	if err != nil {
		writeErr(w, apperr.Newf(apperr.InternalError, "fingerprint config: %v", err))
		return
	}

	// A concurrent burst of identical async submissions shares one
	// Submit call (and therefore one task_id) instead of queuing a
	// duplicate Task per caller.
	v, err, _ := s.simAsyncGroup.Do(fingerprint, func() (any, error) {
		return s.runner.Submit(simulateKind, cfg)
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": v.(string)})
}

// handleTaskStatus is GET /tasks/{task_id}.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	task, err := s.runner.Status(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleTaskCancel is POST /tasks/{task_id}/cancel, idempotent.
func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("task_id")
	if _, err := s.runner.Status(id); err != nil {
		writeErr(w, err)
		return
	}
	cancelled := s.runner.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
