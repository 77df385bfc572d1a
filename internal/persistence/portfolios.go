package persistence

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/depgraph"
	"github.com/flowcast/forecaster/internal/model"
)

// CreatePortfolio inserts a new Portfolio and returns it with its ID.
func (d *DB) CreatePortfolio(p model.Portfolio) (model.Portfolio, error) {
	res, err := d.sql.Exec(`INSERT INTO portfolios (name, total_budget, total_capacity, status, start_date, target_end_date)
		VALUES (?,?,?,?,?,?)`,
		p.Name, p.TotalBudget, p.TotalCapacity, p.Status, dateStr(p.StartDate), dateStr(p.TargetEndDate))
	if err != nil {
		return model.Portfolio{}, apperr.Newf(apperr.InternalError, "insert portfolio: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Portfolio{}, apperr.Newf(apperr.InternalError, "last insert id: %v", err)
	}
	p.ID = id
	return p, nil
}

// ListPortfolios returns every stored Portfolio. The source spec's
// "list_portfolios(user)" has no multi-tenant user concept in this core
// (auth is explicitly out of scope), so this lists across the whole store.
func (d *DB) ListPortfolios() ([]model.Portfolio, error) {
	rows, err := d.sql.Query(`SELECT id, name, total_budget, total_capacity, status, start_date, target_end_date FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, apperr.Newf(apperr.InternalError, "list portfolios: %v", err)
	}
	defer rows.Close()

	var out []model.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// GetPortfolio loads a Portfolio by ID.
func (d *DB) GetPortfolio(id int64) (model.Portfolio, error) {
	row := d.sql.QueryRow(`SELECT id, name, total_budget, total_capacity, status, start_date, target_end_date FROM portfolios WHERE id = ?`, id)
	p, err := scanPortfolio(row)
	if err == sql.ErrNoRows {
		return model.Portfolio{}, apperr.Newf(apperr.ConfigInvalid, "portfolio %d not found", id)
	}
	return p, err
}

func scanPortfolio(row scannable) (model.Portfolio, error) {
	var p model.Portfolio
	var start, end string
	if err := row.Scan(&p.ID, &p.Name, &p.TotalBudget, &p.TotalCapacity, &p.Status, &start, &end); err != nil {
		return model.Portfolio{}, err
	}
	p.StartDate = parseDate(start)
	p.TargetEndDate = parseDate(end)
	return p, nil
}

func dateStr(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func parseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

// AddProjectToPortfolio upserts a PortfolioProject membership row on the
// (portfolio_id, project_id) unique key. The dependency graph for the
// whole portfolio is checked for cycles before the write commits; a
// cyclic result rejects the write with apperr.CyclicDependency, so the
// stored graph stays acyclic across every insert and update.
func (d *DB) AddProjectToPortfolio(pp model.PortfolioProject) error {
	existing, err := d.ListPortfolioProjects(pp.PortfolioID)
	if err != nil {
		return err
	}

	merged := make(map[int64]model.PortfolioProject, len(existing)+1)
	for _, e := range existing {
		merged[e.ProjectID] = e
	}
	merged[pp.ProjectID] = pp

	g := depgraph.New()
	for _, m := range merged {
		g.AddNode(m.ProjectID, m.WSJFScore)
		for _, dep := range m.Dependencies {
			g.AddDependency(m.ProjectID, dep)
		}
	}
	if g.HasCycle() {
		return apperr.New(apperr.CyclicDependency, "adding this membership would create a cyclic dependency")
	}

	depsJSON, err := json.Marshal(pp.Dependencies)
	if err != nil {
		return apperr.Newf(apperr.InternalError, "marshal dependencies: %v", err)
	}

	_, err = d.sql.Exec(`INSERT INTO portfolio_projects
		(portfolio_id, project_id, priority_in_portfolio, allocation_pct, cod_weekly, business_value, time_criticality, risk_reduction, wsjf_score, dependencies)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(portfolio_id, project_id) DO UPDATE SET
			priority_in_portfolio = excluded.priority_in_portfolio,
			allocation_pct = excluded.allocation_pct,
			cod_weekly = excluded.cod_weekly,
			business_value = excluded.business_value,
			time_criticality = excluded.time_criticality,
			risk_reduction = excluded.risk_reduction,
			wsjf_score = excluded.wsjf_score,
			dependencies = excluded.dependencies`,
		pp.PortfolioID, pp.ProjectID, pp.PriorityInPortfolio, pp.AllocationPct, pp.CoDWeekly,
		pp.BusinessValue, pp.TimeCriticality, pp.RiskReduction, pp.WSJFScore, string(depsJSON))
	if err != nil {
		return apperr.Newf(apperr.InternalError, "upsert portfolio_project: %v", err)
	}
	return nil
}

// ListPortfolioProjects returns every membership row for a portfolio.
func (d *DB) ListPortfolioProjects(portfolioID int64) ([]model.PortfolioProject, error) {
	rows, err := d.sql.Query(`SELECT portfolio_id, project_id, priority_in_portfolio, allocation_pct, cod_weekly, business_value, time_criticality, risk_reduction, wsjf_score, dependencies
		FROM portfolio_projects WHERE portfolio_id = ? ORDER BY project_id`, portfolioID)
	if err != nil {
		return nil, apperr.Newf(apperr.InternalError, "list portfolio projects: %v", err)
	}
	defer rows.Close()

	var out []model.PortfolioProject
	for rows.Next() {
		var pp model.PortfolioProject
		var depsJSON string
		if err := rows.Scan(&pp.PortfolioID, &pp.ProjectID, &pp.PriorityInPortfolio, &pp.AllocationPct, &pp.CoDWeekly,
			&pp.BusinessValue, &pp.TimeCriticality, &pp.RiskReduction, &pp.WSJFScore, &depsJSON); err != nil {
			return nil, apperr.Newf(apperr.InternalError, "scan portfolio project: %v", err)
		}
		if err := json.Unmarshal([]byte(depsJSON), &pp.Dependencies); err != nil {
			return nil, apperr.Newf(apperr.InternalError, "unmarshal dependencies: %v", err)
		}
		out = append(out, pp)
	}
	return out, nil
}

// SaveSimulationRun persists a portfolio-level SimulationRun.
func (d *DB) SaveSimulationRun(r model.SimulationRun) (model.SimulationRun, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := d.sql.Exec(`INSERT INTO simulation_runs (portfolio_id, execution_mode, config_json, result_json, created_at, runtime_ms)
		VALUES (?,?,?,?,?,?)`,
		r.PortfolioID, string(r.ExecutionMode), r.ConfigJSON, r.ResultJSON, r.CreatedAt.Format(time.RFC3339), r.RuntimeMS)
	if err != nil {
		return model.SimulationRun{}, apperr.Newf(apperr.InternalError, "insert simulation run: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.SimulationRun{}, apperr.Newf(apperr.InternalError, "last insert id: %v", err)
	}
	r.ID = id
	return r, nil
}

// ListSimulationRuns returns every stored SimulationRun for a portfolio,
// newest first.
func (d *DB) ListSimulationRuns(portfolioID int64) ([]model.SimulationRun, error) {
	rows, err := d.sql.Query(`SELECT id, portfolio_id, execution_mode, config_json, result_json, created_at, runtime_ms
		FROM simulation_runs WHERE portfolio_id = ? ORDER BY created_at DESC`, portfolioID)
	if err != nil {
		return nil, apperr.Newf(apperr.InternalError, "list simulation runs: %v", err)
	}
	defer rows.Close()

	var out []model.SimulationRun
	for rows.Next() {
		var r model.SimulationRun
		var mode, createdAt string
		if err := rows.Scan(&r.ID, &r.PortfolioID, &mode, &r.ConfigJSON, &r.ResultJSON, &createdAt, &r.RuntimeMS); err != nil {
			return nil, apperr.Newf(apperr.InternalError, "scan simulation run: %v", err)
		}
		r.ExecutionMode = model.ExecutionMode(mode)
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, apperr.Newf(apperr.InternalError, "parse simulation run created_at: %v", err)
		}
		r.CreatedAt = t
		out = append(out, r)
	}
	return out, nil
}
