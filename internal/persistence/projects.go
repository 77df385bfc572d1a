package persistence

import (
	"database/sql"
	"encoding/json"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/model"
)

// CreateProject inserts a new Project and returns it with its assigned ID.
func (d *DB) CreateProject(p model.Project) (model.Project, error) {
	tpJSON, err := json.Marshal(p.ThroughputHistory)
	if err != nil {
		return model.Project{}, apperr.Newf(apperr.InternalError, "marshal throughput history: %v", err)
	}
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return model.Project{}, apperr.Newf(apperr.InternalError, "marshal tags: %v", err)
	}
	if p.Status == "" {
		p.Status = model.ProjectActive
	}
	if p.RiskLevel == "" {
		p.RiskLevel = model.RiskMedium
	}

	res, err := d.sql.Exec(`INSERT INTO projects
		(name, throughput_history, team_size, status, business_value, risk_level, capacity_allocated, tags, external_ref)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		p.Name, string(tpJSON), p.TeamSize, string(p.Status), p.BusinessValue, string(p.RiskLevel), p.CapacityAllocated, string(tagsJSON), p.ExternalRef)
	if err != nil {
		return model.Project{}, apperr.Newf(apperr.InternalError, "insert project: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Project{}, apperr.Newf(apperr.InternalError, "last insert id: %v", err)
	}
	p.ID = id
	return p, nil
}

// GetProject loads a Project by ID.
func (d *DB) GetProject(id int64) (model.Project, error) {
	row := d.sql.QueryRow(`SELECT id, name, throughput_history, team_size, status, business_value, risk_level, capacity_allocated, tags, external_ref
		FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns projects ordered by id, optionally filtered by
// status; an empty status lists every project, cancelled ones included.
func (d *DB) ListProjects(status model.ProjectStatus) ([]model.Project, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = d.sql.Query(`SELECT id, name, throughput_history, team_size, status, business_value, risk_level, capacity_allocated, tags, external_ref FROM projects ORDER BY id`)
	} else {
		rows, err = d.sql.Query(`SELECT id, name, throughput_history, team_size, status, business_value, risk_level, capacity_allocated, tags, external_ref FROM projects WHERE status = ? ORDER BY id`, string(status))
	}
	if err != nil {
		return nil, apperr.Newf(apperr.InternalError, "list projects: %v", err)
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// scannable is satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanProject(row scannable) (model.Project, error) {
	var p model.Project
	var tpJSON, tagsJSON string
	var status, risk string
	if err := row.Scan(&p.ID, &p.Name, &tpJSON, &p.TeamSize, &status, &p.BusinessValue, &risk, &p.CapacityAllocated, &tagsJSON, &p.ExternalRef); err != nil {
		return model.Project{}, apperr.Newf(apperr.InternalError, "scan project: %v", err)
	}
	p.Status = model.ProjectStatus(status)
	p.RiskLevel = model.RiskLevel(risk)
	if err := json.Unmarshal([]byte(tpJSON), &p.ThroughputHistory); err != nil {
		return model.Project{}, apperr.Newf(apperr.InternalError, "unmarshal throughput history: %v", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
		return model.Project{}, apperr.Newf(apperr.InternalError, "unmarshal tags: %v", err)
	}
	return p, nil
}

// UpdateProjectStatus soft-deletes via status=cancelled, or moves a
// project through its other lifecycle states.
func (d *DB) UpdateProjectStatus(id int64, status model.ProjectStatus) error {
	res, err := d.sql.Exec(`UPDATE projects SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return apperr.Newf(apperr.InternalError, "update project status: %v", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.Newf(apperr.ConfigInvalid, "project %d not found", id)
	}
	return nil
}
