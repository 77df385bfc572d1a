package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/logger"
	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/persistence"
	"github.com/flowcast/forecaster/internal/portfolio"
	"github.com/flowcast/forecaster/internal/selector"
	"github.com/flowcast/forecaster/internal/sequencer"
	"github.com/flowcast/forecaster/internal/tasks"
)

// createPortfolioRequest is the body of POST /portfolios.
type createPortfolioRequest struct {
	Name          string  `json:"name"`
	TotalBudget   float64 `json:"total_budget"`
	TotalCapacity float64 `json:"total_capacity"`
	Status        string  `json:"status,omitempty"`
	StartDate     string  `json:"start_date"`
	TargetEndDate string  `json:"target_end_date"`
}

func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req createPortfolioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" {
		writeErr(w, apperr.New(apperr.ConfigInvalid, "name is required"))
		return
	}
	start, err := dateField(req.StartDate, "start_date")
	if err != nil {
		writeErr(w, err)
		return
	}
	end, err := dateField(req.TargetEndDate, "target_end_date")
	if err != nil {
		writeErr(w, err)
		return
	}
	status := req.Status
	if status == "" {
		status = "active"
	}
	p, err := s.db.CreatePortfolio(model.Portfolio{
		Name: req.Name, TotalBudget: req.TotalBudget, TotalCapacity: req.TotalCapacity,
		Status: status, StartDate: start, TargetEndDate: end,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := s.db.ListPortfolios()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolios)
}

// addProjectToPortfolioRequest is the body of POST /portfolios/{id}/projects.
type addProjectToPortfolioRequest struct {
	ProjectID           int64   `json:"project_id"`
	PriorityInPortfolio int     `json:"priority_in_portfolio"`
	AllocationPct       float64 `json:"allocation_pct"`
	CoDWeekly           float64 `json:"cod_weekly"`
	BusinessValue       float64 `json:"business_value"`
	TimeCriticality     float64 `json:"time_criticality"`
	RiskReduction       float64 `json:"risk_reduction"`
	Dependencies        []int64 `json:"dependencies,omitempty"`
}

func (s *Server) handleAddProjectToPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := pathInt64(r, "portfolio_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	var req addProjectToPortfolioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.ProjectID == 0 {
		writeErr(w, apperr.New(apperr.ConfigInvalid, "project_id is required"))
		return
	}
	if req.AllocationPct == 0 {
		req.AllocationPct = 100
	}
	if req.PriorityInPortfolio == 0 {
		req.PriorityInPortfolio = 3
	}

	// wsjf_score is derived: it needs a duration estimate, which
	// comes from the project's most recent Forecast if one exists yet.
	p85 := latestP85(s.db, req.ProjectID)
	wsjf := sequencer.ProjectInput{
		BusinessValue: req.BusinessValue, TimeCriticality: req.TimeCriticality,
		RiskReduction: req.RiskReduction, P85Weeks: p85,
	}.WSJF()

	err = s.db.AddProjectToPortfolio(model.PortfolioProject{
		PortfolioID: portfolioID, ProjectID: req.ProjectID,
		PriorityInPortfolio: req.PriorityInPortfolio, AllocationPct: req.AllocationPct,
		CoDWeekly: req.CoDWeekly, BusinessValue: req.BusinessValue,
		TimeCriticality: req.TimeCriticality, RiskReduction: req.RiskReduction,
		WSJFScore: wsjf, Dependencies: req.Dependencies,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"portfolio_id": portfolioID, "project_id": req.ProjectID, "wsjf_score": wsjf})
}

// latestP85 returns the most recently saved Forecast's P85 weeks for a
// project, or 0 if none exists yet.
func latestP85(db *persistence.DB, projectID int64) float64 {
	forecasts, err := db.ListForecasts(projectID, persistence.ForecastFilter{})
	if err != nil || len(forecasts) == 0 {
		return 0
	}
	return forecasts[0].ProjectedWeeksP85 // newest first
}

const kindPortfolioSimulate = "portfolio_simulate"

// portfolioSimulateProjectInput is one project's request-supplied
// simulation inputs; backlog and mode are per-run and can't be derived
// from stored Project/PortfolioProject rows alone.
type portfolioSimulateProjectInput struct {
	ProjectID        int64        `json:"project_id"`
	Backlog          int          `json:"backlog"`
	Mode             model.Mode   `json:"mode,omitempty"`
	TeamSize         int          `json:"team_size,omitempty"`
	MinContributors  int          `json:"min_contributors,omitempty"`
	MaxContributors  int          `json:"max_contributors,omitempty"`
	SCurvePct        int          `json:"s_curve_pct,omitempty"`
	LTSamples        []float64    `json:"lt_samples,omitempty"`
	SplitRateSamples []float64    `json:"split_rate_samples,omitempty"`
	Risks            []model.Risk `json:"risks,omitempty"`
	NSimulations     int          `json:"n_simulations,omitempty"`
}

// portfolioSimulateRequest is the body of POST /portfolios/{id}/simulate.
type portfolioSimulateRequest struct {
	ExecutionMode model.ExecutionMode             `json:"execution_mode"`
	Seed          *uint64                         `json:"seed,omitempty"`
	Projects      []portfolioSimulateProjectInput `json:"projects"`
}

// portfolioSimulatePayload is what actually crosses into the Task Runner:
// every ProjectInput is pre-resolved against stored Project/PortfolioProject
// rows so the task handler never needs request context again.
type portfolioSimulatePayload struct {
	PortfolioID   int64
	ExecutionMode model.ExecutionMode
	Seed          uint64
	Inputs        []portfolio.ProjectInput
}

// handlePortfolioSimulate is POST /portfolios/{id}/simulate: always
// async, since a portfolio run composes N per-project Monte Carlo trial
// sets and routinely exceeds the sync cap on its own.
func (s *Server) handlePortfolioSimulate(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := pathInt64(r, "portfolio_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.db.GetPortfolio(portfolioID); err != nil {
		writeErr(w, err)
		return
	}
	var req portfolioSimulateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if len(req.Projects) == 0 {
		writeErr(w, apperr.New(apperr.ConfigInvalid, "projects must list at least one entry"))
		return
	}
	if req.ExecutionMode == "" {
		req.ExecutionMode = model.ExecutionParallel
	}

	memberships, err := s.db.ListPortfolioProjects(portfolioID)
	if err != nil {
		writeErr(w, err)
		return
	}
	byID := make(map[int64]model.PortfolioProject, len(memberships))
	for _, m := range memberships {
		byID[m.ProjectID] = m
	}

	inputs := make([]portfolio.ProjectInput, 0, len(req.Projects))
	for _, reqIn := range req.Projects {
		member, ok := byID[reqIn.ProjectID]
		if !ok {
			writeErr(w, apperr.Newf(apperr.ConfigInvalid, "project %d is not a member of portfolio %d", reqIn.ProjectID, portfolioID))
			return
		}
		proj, err := s.db.GetProject(reqIn.ProjectID)
		if err != nil {
			writeErr(w, err)
			return
		}
		teamSize := reqIn.TeamSize
		if teamSize == 0 {
			teamSize = proj.TeamSize
		}
		nSim := reqIn.NSimulations
		if nSim == 0 {
			nSim = 10_000
		}
		mode := reqIn.Mode
		if mode == "" {
			mode = model.ModeSimple
		}
		cfg := model.SimulationConfig{
			TPSamples: proj.ThroughputHistory, Backlog: reqIn.Backlog, NSimulations: nSim,
			Mode: mode, TeamSize: teamSize, MinContributors: reqIn.MinContributors,
			MaxContributors: reqIn.MaxContributors, SCurvePct: reqIn.SCurvePct,
			LTSamples: reqIn.LTSamples, SplitRateSamples: reqIn.SplitRateSamples, Risks: reqIn.Risks,
		}
		inputs = append(inputs, portfolio.ProjectInput{
			ProjectID: reqIn.ProjectID, Config: cfg, CoDWeekly: member.CoDWeekly,
			WSJF: member.WSJFScore, Dependencies: member.Dependencies,
		})
	}

	var seed uint64
	if req.Seed != nil {
		seed = *req.Seed
	}
	payload := portfolioSimulatePayload{PortfolioID: portfolioID, ExecutionMode: req.ExecutionMode, Seed: seed, Inputs: inputs}

	taskID, err := s.runner.Submit(kindPortfolioSimulate, payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// runPortfolioSimulate is the Task Runner handler body for
// kindPortfolioSimulate: it serializes on the portfolio's lock so two
// concurrent runs on the same portfolio never race on the saved
// SimulationRun, runs the requested execution policy, and persists the
// result.
func runPortfolioSimulate(ctx context.Context, db *persistence.DB, lg *logger.Logger, p portfolioSimulatePayload, report tasks.Reporter) (any, error) {
	var out any
	err := db.WithPortfolioLock(p.PortfolioID, func() error {
		report.Report(0, "running portfolio trials")
		start := time.Now()

		var resultJSON []byte
		var marshalErr error
		switch p.ExecutionMode {
		case model.ExecutionCompare:
			res, err := portfolio.RunCompare(ctx, p.Seed, p.Inputs)
			if err != nil {
				return err
			}
			out = res
			resultJSON, marshalErr = json.Marshal(res)
		default:
			res, err := portfolio.Run(ctx, p.ExecutionMode, p.Seed, p.Inputs)
			if err != nil {
				return err
			}
			out = res
			resultJSON, marshalErr = json.Marshal(res)
		}
		if marshalErr != nil {
			return apperr.Newf(apperr.InternalError, "marshal portfolio result: %v", marshalErr)
		}

		configJSON, _ := json.Marshal(p)
		if _, err := db.SaveSimulationRun(model.SimulationRun{
			PortfolioID: p.PortfolioID, ExecutionMode: p.ExecutionMode,
			ConfigJSON: string(configJSON), ResultJSON: string(resultJSON),
			RuntimeMS: time.Since(start).Milliseconds(),
		}); err != nil && lg != nil {
			lg.Warn("httpapi", "failed to save simulation run", map[string]any{"portfolio_id": p.PortfolioID, "error": err.Error()})
		}
		report.Report(100, "done")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// handleCoDAnalysis is POST /portfolios/{id}/cod-analysis: sync, pure
// computation over each member project's most recently saved
// Forecast P85, never running a fresh Monte Carlo trial itself.
func (s *Server) handleCoDAnalysis(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := pathInt64(r, "portfolio_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.db.GetPortfolio(portfolioID); err != nil {
		writeErr(w, err)
		return
	}
	memberships, err := s.db.ListPortfolioProjects(portfolioID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(memberships) == 0 {
		writeErr(w, apperr.New(apperr.ConfigInvalid, "portfolio has no member projects"))
		return
	}

	inputs := make([]sequencer.ProjectInput, 0, len(memberships))
	for _, m := range memberships {
		inputs = append(inputs, sequencer.ProjectInput{
			ProjectID: m.ProjectID, PriorityInPortfolio: m.PriorityInPortfolio,
			BusinessValue: m.BusinessValue, TimeCriticality: m.TimeCriticality,
			RiskReduction: m.RiskReduction, CoDWeekly: m.CoDWeekly,
			P85Weeks: latestP85(s.db, m.ProjectID),
		})
	}

	report, err := sequencer.Run(inputs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

const kindSelectionOptimize = "selection_optimize"

// optimizeProjectOverride lets a request supply the budget/capacity a
// project would consume, since neither lives on model.Project or
// model.PortfolioProject: those carry throughput/value/CoD, not
// selection-time resource cost.
type optimizeProjectOverride struct {
	ProjectID int64   `json:"project_id"`
	Budget    float64 `json:"budget"`
	Capacity  float64 `json:"capacity"`
}

type optimizeConstraints struct {
	MaxBudget        float64 `json:"max_budget"`
	MaxCapacity      float64 `json:"max_capacity"`
	MinBusinessValue float64 `json:"min_business_value,omitempty"`
	MaxRiskScore     float64 `json:"max_risk_score,omitempty"`
	Mandatory        []int64 `json:"mandatory,omitempty"`
	Excluded         []int64 `json:"excluded,omitempty"`
}

func (c optimizeConstraints) toModel() selector.Constraints {
	out := selector.Constraints{
		MaxBudget: c.MaxBudget, MaxCapacity: c.MaxCapacity,
		MinBusinessValue: c.MinBusinessValue, MaxRiskScore: c.MaxRiskScore,
		Mandatory: map[int64]bool{}, Excluded: map[int64]bool{},
	}
	for _, id := range c.Mandatory {
		out.Mandatory[id] = true
	}
	for _, id := range c.Excluded {
		out.Excluded[id] = true
	}
	return out
}

// portfolioOptimizeRequest is the body of POST /portfolios/{id}/optimize.
// Exactly one of Scenarios or ParetoK triggers CompareScenarios /
// ParetoFrontier instead of a single Solve.
type portfolioOptimizeRequest struct {
	Objective   selector.Objective             `json:"objective"`
	Constraints optimizeConstraints             `json:"constraints"`
	Projects    []optimizeProjectOverride       `json:"projects,omitempty"`
	Scenarios   map[string]optimizeConstraints  `json:"scenarios,omitempty"`
	ParetoK     int                             `json:"pareto_k,omitempty"`
}

type optimizePayload struct {
	PortfolioID int64
	Objective   selector.Objective
	Constraints selector.Constraints
	Candidates  []selector.Candidate
	Scenarios   map[string]selector.Constraints
	ParetoK     int
}

// handlePortfolioOptimize is POST /portfolios/{id}/optimize: always async,
// since the solver's time limit alone can exceed what a caller should
// block an HTTP request on.
func (s *Server) handlePortfolioOptimize(w http.ResponseWriter, r *http.Request) {
	portfolioID, err := pathInt64(r, "portfolio_id")
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.db.GetPortfolio(portfolioID); err != nil {
		writeErr(w, err)
		return
	}
	var req portfolioOptimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Objective == "" {
		req.Objective = selector.ObjectiveMaxWSJF
	}

	memberships, err := s.db.ListPortfolioProjects(portfolioID)
	if err != nil {
		writeErr(w, err)
		return
	}
	overrides := make(map[int64]optimizeProjectOverride, len(req.Projects))
	for _, o := range req.Projects {
		overrides[o.ProjectID] = o
	}

	candidates := make([]selector.Candidate, 0, len(memberships))
	for _, m := range memberships {
		proj, err := s.db.GetProject(m.ProjectID)
		if err != nil {
			writeErr(w, err)
			return
		}
		ov := overrides[m.ProjectID]
		candidates = append(candidates, selector.Candidate{
			ProjectID: m.ProjectID, BV: proj.BusinessValue, WSJF: m.WSJFScore,
			RiskScore: proj.RiskLevel.Score(), Budget: ov.Budget, Capacity: ov.Capacity,
		})
	}
	if len(candidates) == 0 {
		writeErr(w, apperr.New(apperr.ConfigInvalid, "portfolio has no member projects"))
		return
	}

	solverLimit := time.Duration(s.cfg.MILPTimeLimitSeconds) * time.Second
	constraints := req.Constraints.toModel()
	constraints.TimeLimit = solverLimit
	scenarios := make(map[string]selector.Constraints, len(req.Scenarios))
	for name, c := range req.Scenarios {
		sc := c.toModel()
		sc.TimeLimit = solverLimit
		scenarios[name] = sc
	}
	payload := optimizePayload{
		PortfolioID: portfolioID, Objective: req.Objective, Constraints: constraints,
		Candidates: candidates, Scenarios: scenarios, ParetoK: req.ParetoK,
	}

	taskID, err := s.runner.Submit(kindSelectionOptimize, payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// runSelectionOptimize is the Task Runner handler body for
// kindSelectionOptimize. It runs a scenario comparison, a Pareto sweep, or
// a single solve depending on which optional fields the request set.
func runSelectionOptimize(ctx context.Context, p optimizePayload, report tasks.Reporter) (any, error) {
	report.Report(0, "solving")
	defer report.Report(100, "done")

	if len(p.Scenarios) > 0 {
		return selector.CompareScenarios(ctx, p.Candidates, p.Objective, p.Scenarios), nil
	}
	if p.ParetoK > 0 {
		return selector.ParetoFrontier(ctx, p.Candidates, p.Objective, p.Constraints, p.ParetoK), nil
	}
	return selector.Solve(ctx, p.Candidates, p.Objective, p.Constraints), nil
}
