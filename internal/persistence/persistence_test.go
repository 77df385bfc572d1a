package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/flowcast/forecaster/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCreateAndGetProject(t *testing.T) {
	d := openTestDB(t)

	p, err := d.CreateProject(model.Project{
		Name:              "checkout-rewrite",
		ThroughputHistory: model.ThroughputHistory{5, 6, 7, 4},
		TeamSize:          5,
		BusinessValue:     70,
		RiskLevel:         model.RiskHigh,
		Tags:              []string{"payments"},
	})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if p.ID == 0 {
		t.Fatalf("CreateProject() did not assign an ID")
	}

	got, err := d.GetProject(p.ID)
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if got.Name != p.Name || got.TeamSize != 5 || got.RiskLevel != model.RiskHigh {
		t.Fatalf("GetProject() = %+v, want round-trip of %+v", got, p)
	}
	if len(got.ThroughputHistory) != 4 || len(got.Tags) != 1 {
		t.Fatalf("GetProject() slices did not round-trip: %+v", got)
	}
}

func TestListProjectsFiltersByStatus(t *testing.T) {
	d := openTestDB(t)

	active, _ := d.CreateProject(model.Project{Name: "a", Status: model.ProjectActive})
	_, _ = d.CreateProject(model.Project{Name: "b", Status: model.ProjectOnHold})

	got, err := d.ListProjects(model.ProjectActive)
	if err != nil {
		t.Fatalf("ListProjects() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Fatalf("ListProjects(active) = %+v, want only project %d", got, active.ID)
	}
}

func TestForecastSaveLoadAndAccuracy(t *testing.T) {
	d := openTestDB(t)
	p, _ := d.CreateProject(model.Project{Name: "p"})

	f, err := d.SaveForecast(model.Forecast{
		ProjectID:         p.ID,
		Type:              model.ForecastDeadline,
		ConfigJSON:        `{"backlog":50}`,
		ResultJSON:        `{"p85":9}`,
		ProjectedWeeksP85: 9,
	})
	if err != nil {
		t.Fatalf("SaveForecast() error = %v", err)
	}

	loaded, err := d.LoadForecast(f.ID)
	if err != nil {
		t.Fatalf("LoadForecast() error = %v", err)
	}
	if loaded.ProjectedWeeksP85 != 9 {
		t.Fatalf("LoadForecast().ProjectedWeeksP85 = %v, want 9", loaded.ProjectedWeeksP85)
	}

	if _, err := d.RecordActual(f.ID, 11, 48, "slipped two weeks"); err != nil {
		t.Fatalf("RecordActual() error = %v", err)
	}
	if _, err := d.RecordActual(f.ID, 9, 50, ""); err != nil {
		t.Fatalf("RecordActual() error = %v", err)
	}

	report, err := d.ComputeAccuracy(p.ID)
	if err != nil {
		t.Fatalf("ComputeAccuracy() error = %v", err)
	}
	if report.N != 2 {
		t.Fatalf("ComputeAccuracy().N = %d, want 2", report.N)
	}
	wantMAE := (2.0 + 0.0) / 2
	if report.MAE != wantMAE {
		t.Fatalf("ComputeAccuracy().MAE = %v, want %v", report.MAE, wantMAE)
	}
}

func TestListForecastsOrdersNewestFirst(t *testing.T) {
	d := openTestDB(t)
	p, _ := d.CreateProject(model.Project{Name: "p"})

	first, _ := d.SaveForecast(model.Forecast{ProjectID: p.ID, Type: model.ForecastDeadline, CreatedAt: time.Now().Add(-time.Hour), ConfigJSON: "{}", ResultJSON: "{}"})
	second, _ := d.SaveForecast(model.Forecast{ProjectID: p.ID, Type: model.ForecastDeadline, CreatedAt: time.Now(), ConfigJSON: "{}", ResultJSON: "{}"})

	got, err := d.ListForecasts(p.ID, ForecastFilter{})
	if err != nil {
		t.Fatalf("ListForecasts() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
		t.Fatalf("ListForecasts() = %+v, want [second, first]", got)
	}
}

func TestPortfolioMembershipUpsertAndCycleRejection(t *testing.T) {
	d := openTestDB(t)
	pf, _ := d.CreatePortfolio(model.Portfolio{Name: "q3", TotalBudget: 1_000_000, TotalCapacity: 10})
	p1, _ := d.CreateProject(model.Project{Name: "p1"})
	p2, _ := d.CreateProject(model.Project{Name: "p2"})

	if err := d.AddProjectToPortfolio(model.PortfolioProject{PortfolioID: pf.ID, ProjectID: p1.ID, BusinessValue: 50}); err != nil {
		t.Fatalf("AddProjectToPortfolio(p1) error = %v", err)
	}
	if err := d.AddProjectToPortfolio(model.PortfolioProject{PortfolioID: pf.ID, ProjectID: p2.ID, BusinessValue: 60, Dependencies: []int64{p1.ID}}); err != nil {
		t.Fatalf("AddProjectToPortfolio(p2) error = %v", err)
	}

	// Re-upsert p1 with a changed score; should update in place, not duplicate.
	if err := d.AddProjectToPortfolio(model.PortfolioProject{PortfolioID: pf.ID, ProjectID: p1.ID, BusinessValue: 90}); err != nil {
		t.Fatalf("AddProjectToPortfolio(p1 update) error = %v", err)
	}

	members, err := d.ListPortfolioProjects(pf.ID)
	if err != nil {
		t.Fatalf("ListPortfolioProjects() error = %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("ListPortfolioProjects() = %d members, want 2", len(members))
	}
	for _, m := range members {
		if m.ProjectID == p1.ID && m.BusinessValue != 90 {
			t.Fatalf("p1 membership not updated in place: %+v", m)
		}
	}

	// p1 depending on p2 would close the cycle p1->p2->p1.
	err = d.AddProjectToPortfolio(model.PortfolioProject{PortfolioID: pf.ID, ProjectID: p1.ID, BusinessValue: 90, Dependencies: []int64{p2.ID}})
	if err == nil {
		t.Fatalf("AddProjectToPortfolio() with cyclic dependency should have failed")
	}
}

func TestSimulationRunRoundTrip(t *testing.T) {
	d := openTestDB(t)
	pf, _ := d.CreatePortfolio(model.Portfolio{Name: "q3"})

	saved, err := d.SaveSimulationRun(model.SimulationRun{
		PortfolioID:   pf.ID,
		ExecutionMode: model.ExecutionParallel,
		ConfigJSON:    "{}",
		ResultJSON:    `{"p85":16}`,
		RuntimeMS:     42,
	})
	if err != nil {
		t.Fatalf("SaveSimulationRun() error = %v", err)
	}

	runs, err := d.ListSimulationRuns(pf.ID)
	if err != nil {
		t.Fatalf("ListSimulationRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != saved.ID {
		t.Fatalf("ListSimulationRuns() = %+v, want [%+v]", runs, saved)
	}
}

func TestWithPortfolioLockSerializes(t *testing.T) {
	d := openTestDB(t)
	done := make(chan struct{})
	go func() {
		d.WithPortfolioLock(1, func() error {
			time.Sleep(20 * time.Millisecond)
			return nil
		})
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	entered := make(chan struct{})
	go func() {
		d.WithPortfolioLock(1, func() error {
			close(entered)
			return nil
		})
	}()

	select {
	case <-entered:
		t.Fatalf("second WithPortfolioLock entered before the first released")
	case <-time.After(10 * time.Millisecond):
	}
	<-done
}
