package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/flowcast/forecaster/internal/forecastfacade"
	"github.com/flowcast/forecaster/internal/logger"
	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/persistence"
	"github.com/flowcast/forecaster/internal/tasks"
)

const (
	kindMeetDeadline = "forecast_meet_deadline"
	kindHowMany      = "forecast_how_many"
	kindWhen         = "forecast_when"
)

// meetDeadlineRequest is the body of POST /forecast/meet-deadline.
type meetDeadlineRequest struct {
	Config       wireSimulationConfig `json:"config"`
	StartDate    string               `json:"start_date"`
	DeadlineDate string               `json:"deadline_date"`
	ProjectID    int64                `json:"project_id,omitempty"`
	Save         bool                 `json:"save,omitempty"`
}

type meetDeadlinePayload struct {
	Config    model.SimulationConfig
	Start     string
	Deadline  string
	ProjectID int64
	Save      bool
}

func (s *Server) handleMeetDeadline(w http.ResponseWriter, r *http.Request) {
	var req meetDeadlineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := dateField(req.StartDate, "start_date"); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := dateField(req.DeadlineDate, "deadline_date"); err != nil {
		writeErr(w, err)
		return
	}
	cfg := req.Config.toModel()
	payload := meetDeadlinePayload{Config: cfg, Start: req.StartDate, Deadline: req.DeadlineDate, ProjectID: req.ProjectID, Save: req.Save}

	s.dispatchOrRun(w, r, kindMeetDeadline, cfg, payload, func(ctx context.Context, report tasks.Reporter) (any, error) {
		return runMeetDeadline(ctx, s.db, s.log, payload, report)
	})
}

func runMeetDeadline(ctx context.Context, db *persistence.DB, lg *logger.Logger, p meetDeadlinePayload, report tasks.Reporter) (any, error) {
	start, err := dateField(p.Start, "start_date")
	if err != nil {
		return nil, err
	}
	deadline, err := dateField(p.Deadline, "deadline_date")
	if err != nil {
		return nil, err
	}
	report.Report(0, "running trials")
	verdict, result, err := forecastfacade.MeetDeadline(ctx, p.Config, start, deadline)
	if err != nil {
		return nil, err
	}
	if p.Save {
		resultJSON, _ := json.Marshal(result)
		saveForecast(db, lg, p.ProjectID, model.ForecastDeadline, p.Config, string(resultJSON), verdict.ProjectedWeeksP85)
	}
	report.Report(100, "done")
	return verdict, nil
}

// howManyRequest is the body of POST /forecast/how-many.
type howManyRequest struct {
	Config    wireSimulationConfig `json:"config"`
	StartDate string               `json:"start_date"`
	EndDate   string               `json:"end_date"`
	ProjectID int64                `json:"project_id,omitempty"`
	Save      bool                 `json:"save,omitempty"`
}

type howManyPayload struct {
	Config    model.SimulationConfig
	Start     string
	End       string
	ProjectID int64
	Save      bool
}

func (s *Server) handleHowMany(w http.ResponseWriter, r *http.Request) {
	var req howManyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := dateField(req.StartDate, "start_date"); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := dateField(req.EndDate, "end_date"); err != nil {
		writeErr(w, err)
		return
	}
	cfg := req.Config.toModel()
	payload := howManyPayload{Config: cfg, Start: req.StartDate, End: req.EndDate, ProjectID: req.ProjectID, Save: req.Save}

	s.dispatchOrRun(w, r, kindHowMany, cfg, payload, func(ctx context.Context, report tasks.Reporter) (any, error) {
		return runHowMany(ctx, s.db, s.log, payload, report)
	})
}

func runHowMany(ctx context.Context, db *persistence.DB, lg *logger.Logger, p howManyPayload, report tasks.Reporter) (any, error) {
	start, err := dateField(p.Start, "start_date")
	if err != nil {
		return nil, err
	}
	end, err := dateField(p.End, "end_date")
	if err != nil {
		return nil, err
	}
	report.Report(0, "running trials")
	forecast, err := forecastfacade.HowMany(ctx, p.Config, start, end)
	if err != nil {
		return nil, err
	}
	if p.Save {
		resultJSON, _ := json.Marshal(forecast)
		saveForecast(db, lg, p.ProjectID, model.ForecastThroughput, p.Config, string(resultJSON), forecast.Percentiles.P85)
	}
	report.Report(100, "done")
	return forecast, nil
}

// whenRequest is the body of POST /forecast/when.
type whenRequest struct {
	Config    wireSimulationConfig `json:"config"`
	StartDate string               `json:"start_date"`
	ProjectID int64                `json:"project_id,omitempty"`
	Save      bool                 `json:"save,omitempty"`
}

type whenPayload struct {
	Config    model.SimulationConfig
	Start     string
	ProjectID int64
	Save      bool
}

func (s *Server) handleWhen(w http.ResponseWriter, r *http.Request) {
	var req whenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := dateField(req.StartDate, "start_date"); err != nil {
		writeErr(w, err)
		return
	}
	cfg := req.Config.toModel()
	payload := whenPayload{Config: cfg, Start: req.StartDate, ProjectID: req.ProjectID, Save: req.Save}

	s.dispatchOrRun(w, r, kindWhen, cfg, payload, func(ctx context.Context, report tasks.Reporter) (any, error) {
		return runWhen(ctx, s.db, s.log, payload, report)
	})
}

func runWhen(ctx context.Context, db *persistence.DB, lg *logger.Logger, p whenPayload, report tasks.Reporter) (any, error) {
	start, err := dateField(p.Start, "start_date")
	if err != nil {
		return nil, err
	}
	report.Report(0, "running trials")
	forecast, result, err := forecastfacade.When(ctx, p.Config, start)
	if err != nil {
		return nil, err
	}
	if p.Save {
		resultJSON, _ := json.Marshal(result)
		saveForecast(db, lg, p.ProjectID, model.ForecastCost, p.Config, string(resultJSON), result.Percentiles.P85)
	}
	report.Report(100, "done")
	return forecast, nil
}

// dispatchOrRun runs a forecast operation synchronously when cfg is within
// the sync cap, otherwise submits it to the Task Runner under kind with
// the given payload, the same split /simulate and /simulate/async make.
func (s *Server) dispatchOrRun(w http.ResponseWriter, r *http.Request, kind string, cfg model.SimulationConfig, payload any, run func(ctx context.Context, report tasks.Reporter) (any, error)) {
	if cfg.NSimulations <= s.cfg.SyncSimulationCap {
		result, err := run(r.Context(), noopReporter{})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	taskID, err := s.runner.Submit(kind, payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

type noopReporter struct{}

func (noopReporter) Report(progress int, stage string) {}

func saveForecast(db *persistence.DB, lg *logger.Logger, projectID int64, ftype model.ForecastType, cfg model.SimulationConfig, resultJSON string, p85 float64) {
	if db == nil || projectID == 0 {
		return
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if _, err := db.SaveForecast(model.Forecast{
		ProjectID:         projectID,
		Type:              ftype,
		ConfigJSON:        string(configJSON),
		ResultJSON:        resultJSON,
		ProjectedWeeksP85: p85,
	}); err != nil && lg != nil {
		lg.Warn("httpapi", "failed to save forecast", map[string]any{"project_id": projectID, "error": err.Error()})
	}
}
