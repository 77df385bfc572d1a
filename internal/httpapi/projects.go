package httpapi

import (
	"net/http"
	"strconv"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/persistence"
)

// createProjectRequest is the body of POST /projects.
type createProjectRequest struct {
	Name              string                  `json:"name"`
	ThroughputHistory model.ThroughputHistory `json:"throughput_history"`
	TeamSize          int                     `json:"team_size"`
	BusinessValue     float64                 `json:"business_value"`
	RiskLevel         model.RiskLevel         `json:"risk_level"`
	CapacityAllocated float64                 `json:"capacity_allocated"`
	Tags              []string                `json:"tags,omitempty"`
	ExternalRef       string                  `json:"external_ref,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" {
		writeErr(w, apperr.New(apperr.ConfigInvalid, "name is required"))
		return
	}
	p, err := s.db.CreateProject(model.Project{
		Name:              req.Name,
		ThroughputHistory: req.ThroughputHistory,
		TeamSize:          req.TeamSize,
		BusinessValue:     req.BusinessValue,
		RiskLevel:         req.RiskLevel,
		CapacityAllocated: req.CapacityAllocated,
		Tags:              req.Tags,
		ExternalRef:       req.ExternalRef,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	status := model.ProjectStatus(r.URL.Query().Get("status"))
	projects, err := s.db.ListProjects(status)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func pathInt64(r *http.Request, key string) (int64, error) {
	v := r.PathValue(key)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, apperr.Newf(apperr.ConfigInvalid, "%s must be an integer id", key)
	}
	return n, nil
}

func (s *Server) handleListForecasts(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathInt64(r, "project_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	filter := persistence.ForecastFilter{Type: model.ForecastType(r.URL.Query().Get("type"))}
	forecasts, err := s.db.ListForecasts(projectID, filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forecasts)
}

type recordActualRequest struct {
	ForecastID  int64   `json:"forecast_id"`
	ActualWeeks float64 `json:"actual_weeks"`
	ActualItems int     `json:"actual_items"`
	Notes       string  `json:"notes,omitempty"`
}

func (s *Server) handleRecordActual(w http.ResponseWriter, r *http.Request) {
	if _, err := pathInt64(r, "project_id"); err != nil {
		writeErr(w, err)
		return
	}
	var req recordActualRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	actual, err := s.db.RecordActual(req.ForecastID, req.ActualWeeks, req.ActualItems, req.Notes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, actual)
}

func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathInt64(r, "project_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	report, err := s.db.ComputeAccuracy(projectID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
