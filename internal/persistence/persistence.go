// Package persistence implements the Persistence Adapter: Projects,
// Forecasts, Actuals, Portfolios, PortfolioProjects, and SimulationRuns
// over SQLite, with a schema_version-gated migrate() sequence, a WAL-mode
// connection string, and upsert-on-unique-key writes.
package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/flowcast/forecaster/internal/logger"
)

// DB wraps a SQLite connection plus the in-process per-portfolio lock
// table used to serialize concurrent simulation runs on one portfolio.
type DB struct {
	sql *sql.DB
	log *logger.Logger

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string, lg *logger.Logger) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB.SetMaxOpenConns(15)
	sqlDB.SetMaxIdleConns(5)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB, log: lg, locks: make(map[int64]*sync.Mutex)}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	if lg != nil {
		lg.Success("persistence", fmt.Sprintf("opened %s", path))
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Ping checks the underlying connection, used by the health endpoint.
func (d *DB) Ping() error {
	return d.sql.Ping()
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS projects (
				id                 INTEGER PRIMARY KEY AUTOINCREMENT,
				name               TEXT NOT NULL,
				throughput_history TEXT NOT NULL DEFAULT '[]',
				team_size          INTEGER NOT NULL DEFAULT 1,
				status             TEXT NOT NULL DEFAULT 'active',
				business_value     REAL NOT NULL DEFAULT 0,
				risk_level         TEXT NOT NULL DEFAULT 'medium',
				capacity_allocated REAL NOT NULL DEFAULT 0,
				tags               TEXT NOT NULL DEFAULT '[]',
				external_ref       TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS forecasts (
				id                   INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id           INTEGER NOT NULL REFERENCES projects(id),
				created_at           TEXT NOT NULL,
				type                 TEXT NOT NULL,
				config_json          TEXT NOT NULL,
				result_json          TEXT NOT NULL,
				projected_weeks_p85  REAL NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_forecasts_project ON forecasts(project_id);

			CREATE TABLE IF NOT EXISTS actuals (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				forecast_id  INTEGER NOT NULL REFERENCES forecasts(id),
				actual_weeks REAL NOT NULL,
				actual_items INTEGER NOT NULL,
				recorded_at  TEXT NOT NULL,
				error_weeks  REAL NOT NULL,
				error_pct    REAL NOT NULL,
				notes        TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_actuals_forecast ON actuals(forecast_id);

			CREATE TABLE IF NOT EXISTS portfolios (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				name             TEXT NOT NULL,
				total_budget     REAL NOT NULL DEFAULT 0,
				total_capacity   REAL NOT NULL DEFAULT 0,
				status           TEXT NOT NULL DEFAULT 'active',
				start_date       TEXT NOT NULL,
				target_end_date  TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS portfolio_projects (
				portfolio_id          INTEGER NOT NULL REFERENCES portfolios(id),
				project_id            INTEGER NOT NULL REFERENCES projects(id),
				priority_in_portfolio INTEGER NOT NULL DEFAULT 3,
				allocation_pct        REAL NOT NULL DEFAULT 100,
				cod_weekly            REAL NOT NULL DEFAULT 0,
				business_value        REAL NOT NULL DEFAULT 0,
				time_criticality      REAL NOT NULL DEFAULT 0,
				risk_reduction        REAL NOT NULL DEFAULT 0,
				wsjf_score            REAL NOT NULL DEFAULT 0,
				dependencies          TEXT NOT NULL DEFAULT '[]',
				PRIMARY KEY (portfolio_id, project_id)
			);

			CREATE TABLE IF NOT EXISTS simulation_runs (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				portfolio_id   INTEGER NOT NULL REFERENCES portfolios(id),
				execution_mode TEXT NOT NULL,
				config_json    TEXT NOT NULL,
				result_json    TEXT NOT NULL,
				created_at     TEXT NOT NULL,
				runtime_ms     INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_runs_portfolio ON simulation_runs(portfolio_id);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		if d.log != nil {
			d.log.Info("persistence", "applied migration v1")
		}
	}

	return nil
}

// lockFor returns the process-local mutex guarding portfolioID, creating
// it on first use.
func (d *DB) lockFor(portfolioID int64) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	m, ok := d.locks[portfolioID]
	if !ok {
		m = &sync.Mutex{}
		d.locks[portfolioID] = m
	}
	return m
}

// WithPortfolioLock runs fn while holding the exclusive lock for
// portfolioID, serializing concurrent simulation runs on the same
// portfolio without relying on SQLite row-level locking, which
// SQLite's single-writer model doesn't offer.
func (d *DB) WithPortfolioLock(portfolioID int64, fn func() error) error {
	m := d.lockFor(portfolioID)
	m.Lock()
	defer m.Unlock()
	return fn()
}
