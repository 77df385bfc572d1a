// Package httpapi implements the service's HTTP surface: the
// synchronous/async simulation endpoints, the three forecast routes, the
// portfolio simulate/cod-analysis/optimize routes, task polling and
// cancellation, and /health. A Server struct holds every collaborator and
// registers its routes on a method-qualified http.ServeMux.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/config"
	"github.com/flowcast/forecaster/internal/logger"
	"github.com/flowcast/forecaster/internal/persistence"
	"github.com/flowcast/forecaster/internal/tasks"
)

// Server is the HTTP API server that connects the Task Runner, the
// Persistence Adapter, and process configuration.
type Server struct {
	cfg     *config.Config
	db      *persistence.DB
	runner  *tasks.Runner
	log     *logger.Logger
	startAt time.Time

	// simSyncGroup/simAsyncGroup collapse duplicate concurrent /simulate
	// and /simulate/async requests sharing a config_fingerprint: a burst
	// of identical requests runs the Monte Carlo trials (or the task
	// submission) once and shares the result/task_id with every caller
	// in the burst.
	simSyncGroup  singleflight.Group
	simAsyncGroup singleflight.Group
}

// New builds a Server. cfg, db, runner, and lg are all constructed
// explicitly at startup and passed in; nothing here is package-global.
func New(cfg *config.Config, db *persistence.DB, runner *tasks.Runner, lg *logger.Logger) *Server {
	return &Server{cfg: cfg, db: db, runner: runner, log: lg, startAt: time.Now()}
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /simulate", s.handleSimulateSync)
	mux.HandleFunc("POST /simulate/async", s.handleSimulateAsync)

	mux.HandleFunc("GET /tasks/{task_id}", s.handleTaskStatus)
	mux.HandleFunc("POST /tasks/{task_id}/cancel", s.handleTaskCancel)

	mux.HandleFunc("POST /forecast/meet-deadline", s.handleMeetDeadline)
	mux.HandleFunc("POST /forecast/how-many", s.handleHowMany)
	mux.HandleFunc("POST /forecast/when", s.handleWhen)

	mux.HandleFunc("POST /projects", s.handleCreateProject)
	mux.HandleFunc("GET /projects", s.handleListProjects)
	mux.HandleFunc("GET /projects/{project_id}/forecasts", s.handleListForecasts)
	mux.HandleFunc("POST /projects/{project_id}/actuals", s.handleRecordActual)
	mux.HandleFunc("GET /projects/{project_id}/accuracy", s.handleAccuracy)

	mux.HandleFunc("POST /portfolios", s.handleCreatePortfolio)
	mux.HandleFunc("GET /portfolios", s.handleListPortfolios)
	mux.HandleFunc("POST /portfolios/{portfolio_id}/projects", s.handleAddProjectToPortfolio)
	mux.HandleFunc("POST /portfolios/{portfolio_id}/simulate", s.handlePortfolioSimulate)
	mux.HandleFunc("POST /portfolios/{portfolio_id}/cod-analysis", s.handleCoDAnalysis)
	mux.HandleFunc("POST /portfolios/{portfolio_id}/optimize", s.handlePortfolioOptimize)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the structured error payload: {error_kind, message, details}.
type errorBody struct {
	ErrorKind string         `json:"error_kind"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// writeErr maps err onto the apperr taxonomy and writes the matching
// status code and structured body. This is the only place a Kind maps to
// an HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	if e, ok := apperr.As(err); ok {
		writeJSON(w, statusFor(e.Kind), errorBody{ErrorKind: string(e.Kind), Message: e.Message, Details: e.Details})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{ErrorKind: string(apperr.InternalError), Message: err.Error()})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.ConfigInvalid, apperr.CyclicDependency:
		return http.StatusBadRequest
	case apperr.TaskNotFound:
		return http.StatusNotFound
	case apperr.Overloaded:
		return http.StatusServiceUnavailable
	case apperr.Infeasible:
		return http.StatusUnprocessableEntity
	case apperr.SolverTimeout:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Newf(apperr.ConfigInvalid, "malformed request body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if s.db == nil || s.db.Ping() != nil {
		dbStatus = "down"
	}
	status := "healthy"
	if dbStatus == "down" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"workers":     s.runner.Workers(),
		"queue_depth": s.runner.QueueDepth(),
		"db":          dbStatus,
		"uptime_s":    int(time.Since(s.startAt).Seconds()),
	})
}
