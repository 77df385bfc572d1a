package persistence

import (
	"database/sql"
	"math"
	"time"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/model"
)

// SaveForecast persists a Forecast row and returns it with its assigned ID.
func (d *DB) SaveForecast(f model.Forecast) (model.Forecast, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	res, err := d.sql.Exec(`INSERT INTO forecasts (project_id, created_at, type, config_json, result_json, projected_weeks_p85)
		VALUES (?,?,?,?,?,?)`,
		f.ProjectID, f.CreatedAt.Format(time.RFC3339), string(f.Type), f.ConfigJSON, f.ResultJSON, f.ProjectedWeeksP85)
	if err != nil {
		return model.Forecast{}, apperr.Newf(apperr.InternalError, "insert forecast: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Forecast{}, apperr.Newf(apperr.InternalError, "last insert id: %v", err)
	}
	f.ID = id
	return f, nil
}

// LoadForecast loads a single Forecast by ID. Forecasts are immutable once
// saved, so this is a plain point lookup.
func (d *DB) LoadForecast(id int64) (model.Forecast, error) {
	row := d.sql.QueryRow(`SELECT id, project_id, created_at, type, config_json, result_json, projected_weeks_p85
		FROM forecasts WHERE id = ?`, id)
	f, err := scanForecast(row)
	if err == sql.ErrNoRows {
		return model.Forecast{}, apperr.Newf(apperr.ConfigInvalid, "forecast %d not found", id)
	}
	return f, err
}

// ForecastFilter narrows ListForecasts; a zero value lists every Forecast
// for the project.
type ForecastFilter struct {
	Type model.ForecastType
}

// ListForecasts returns Forecasts for a project, newest first, optionally
// filtered by type.
func (d *DB) ListForecasts(projectID int64, filter ForecastFilter) ([]model.Forecast, error) {
	var rows *sql.Rows
	var err error
	if filter.Type == "" {
		rows, err = d.sql.Query(`SELECT id, project_id, created_at, type, config_json, result_json, projected_weeks_p85
			FROM forecasts WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	} else {
		rows, err = d.sql.Query(`SELECT id, project_id, created_at, type, config_json, result_json, projected_weeks_p85
			FROM forecasts WHERE project_id = ? AND type = ? ORDER BY created_at DESC`, projectID, string(filter.Type))
	}
	if err != nil {
		return nil, apperr.Newf(apperr.InternalError, "list forecasts: %v", err)
	}
	defer rows.Close()

	var out []model.Forecast
	for rows.Next() {
		f, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func scanForecast(row scannable) (model.Forecast, error) {
	var f model.Forecast
	var createdAt, ftype string
	if err := row.Scan(&f.ID, &f.ProjectID, &createdAt, &ftype, &f.ConfigJSON, &f.ResultJSON, &f.ProjectedWeeksP85); err != nil {
		return model.Forecast{}, err
	}
	f.Type = model.ForecastType(ftype)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return model.Forecast{}, apperr.Newf(apperr.InternalError, "parse forecast created_at: %v", err)
	}
	f.CreatedAt = t
	return f, nil
}

// RecordActual stores an observed outcome for a Forecast, computing
// error_weeks/error_pct against the Forecast's projected_weeks_p85.
func (d *DB) RecordActual(forecastID int64, actualWeeks float64, actualItems int, notes string) (model.Actual, error) {
	f, err := d.LoadForecast(forecastID)
	if err != nil {
		return model.Actual{}, err
	}

	a := model.Actual{
		ForecastID:  forecastID,
		ActualWeeks: actualWeeks,
		ActualItems: actualItems,
		RecordedAt:  time.Now().UTC(),
		ErrorWeeks:  actualWeeks - f.ProjectedWeeksP85,
		Notes:       notes,
	}
	if f.ProjectedWeeksP85 != 0 {
		a.ErrorPct = 100 * a.ErrorWeeks / f.ProjectedWeeksP85
	}

	res, err := d.sql.Exec(`INSERT INTO actuals (forecast_id, actual_weeks, actual_items, recorded_at, error_weeks, error_pct, notes)
		VALUES (?,?,?,?,?,?,?)`,
		a.ForecastID, a.ActualWeeks, a.ActualItems, a.RecordedAt.Format(time.RFC3339), a.ErrorWeeks, a.ErrorPct, a.Notes)
	if err != nil {
		return model.Actual{}, apperr.Newf(apperr.InternalError, "insert actual: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Actual{}, apperr.Newf(apperr.InternalError, "last insert id: %v", err)
	}
	a.ID = id
	return a, nil
}

// ComputeAccuracy reports MAPE/MAE/bias over every Forecast/Actual pair
// recorded for a project, for backtesting.
func (d *DB) ComputeAccuracy(projectID int64) (model.AccuracyReport, error) {
	rows, err := d.sql.Query(`
		SELECT a.error_weeks, a.error_pct
		FROM actuals a
		JOIN forecasts f ON f.id = a.forecast_id
		WHERE f.project_id = ?`, projectID)
	if err != nil {
		return model.AccuracyReport{}, apperr.Newf(apperr.InternalError, "compute accuracy: %v", err)
	}
	defer rows.Close()

	var sumAbsPct, sumAbsWeeks, sumWeeks float64
	var n int
	for rows.Next() {
		var errWeeks, errPct float64
		if err := rows.Scan(&errWeeks, &errPct); err != nil {
			return model.AccuracyReport{}, apperr.Newf(apperr.InternalError, "scan accuracy row: %v", err)
		}
		sumAbsPct += math.Abs(errPct)
		sumAbsWeeks += math.Abs(errWeeks)
		sumWeeks += errWeeks
		n++
	}
	if n == 0 {
		return model.AccuracyReport{}, nil
	}
	return model.AccuracyReport{
		MAPE: sumAbsPct / float64(n),
		MAE:  sumAbsWeeks / float64(n),
		Bias: sumWeeks / float64(n),
		N:    n,
	}, nil
}
