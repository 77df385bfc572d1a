package server

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flowcast/forecaster/internal/config"
	"github.com/flowcast/forecaster/internal/logger"
	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/persistence"
)

var seedPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQLite schema migrations and exit",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&seedPath, "seed", "", "optional YAML file of projects/portfolios to load after migrating")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	lg := logger.New(logLevel)
	cfg := config.FromEnv()
	if dbPath != "" {
		cfg.DBURL = dbPath
	}

	db, err := persistence.Open(cfg.DBURL, lg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	lg.Success("migrate", fmt.Sprintf("%s is up to date", cfg.DBURL))

	if seedPath == "" {
		return nil
	}
	return applySeedFile(db, lg, seedPath)
}

// seedFile is the shape of an optional bootstrap file for populating a
// fresh database with starting Projects and Portfolios, so a new
// deployment doesn't have to be built up one HTTP call at a time.
type seedFile struct {
	Projects []struct {
		Name              string    `yaml:"name"`
		ThroughputHistory []float64 `yaml:"throughput_history"`
		TeamSize          int       `yaml:"team_size"`
		BusinessValue     float64   `yaml:"business_value"`
		RiskLevel         string    `yaml:"risk_level"`
	} `yaml:"projects"`
	Portfolios []struct {
		Name          string  `yaml:"name"`
		TotalBudget   float64 `yaml:"total_budget"`
		TotalCapacity float64 `yaml:"total_capacity"`
	} `yaml:"portfolios"`
}

func applySeedFile(db *persistence.DB, lg *logger.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, p := range seed.Projects {
		risk := model.RiskLevel(p.RiskLevel)
		if risk == "" {
			risk = model.RiskMedium
		}
		if _, err := db.CreateProject(model.Project{
			Name: p.Name, ThroughputHistory: p.ThroughputHistory,
			TeamSize: p.TeamSize, BusinessValue: p.BusinessValue, RiskLevel: risk,
		}); err != nil {
			return fmt.Errorf("seed project %q: %w", p.Name, err)
		}
	}
	for _, p := range seed.Portfolios {
		if _, err := db.CreatePortfolio(model.Portfolio{
			Name: p.Name, TotalBudget: p.TotalBudget, TotalCapacity: p.TotalCapacity, Status: "active",
		}); err != nil {
			return fmt.Errorf("seed portfolio %q: %w", p.Name, err)
		}
	}
	lg.Success("migrate", fmt.Sprintf("loaded %d projects and %d portfolios from %s", len(seed.Projects), len(seed.Portfolios), path))
	return nil
}
