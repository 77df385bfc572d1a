// Package portfolio implements the Portfolio Simulator: composes
// per-project Monte Carlo trials into a joint portfolio-level distribution
// under a parallel or sequential execution policy, with Cost of Delay
// accrual, critical-path frequency, and risk concentration.
package portfolio

import (
	"context"
	"hash/fnv"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/depgraph"
	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/montecarlo"
	"github.com/flowcast/forecaster/internal/sampler"
)

// ProjectInput is one project's contribution to a portfolio simulation.
type ProjectInput struct {
	ProjectID    int64
	Config       model.SimulationConfig
	CoDWeekly    float64
	WSJF         float64
	Dependencies []int64
}

// Result is the aggregated output of a single execution policy run.
type Result struct {
	ExecutionMode        model.ExecutionMode `json:"execution_mode"`
	PortfolioWeeks        model.Percentiles  `json:"portfolio_weeks"`
	TotalCoD              model.Percentiles  `json:"total_cod"`
	PerProjectP85Weeks    map[int64]float64  `json:"per_project_p85_weeks"`
	CriticalPathFrequency map[int64]float64  `json:"critical_path_frequency,omitempty"`
	RiskConcentration     map[int64]float64  `json:"risk_concentration"`
	NTrials               int                `json:"n_trials"`
}

// CompareResult is returned when execution mode is "compare".
type CompareResult struct {
	Parallel       Result `json:"parallel"`
	Sequential     Result `json:"sequential"`
	Recommendation string `json:"recommendation"`
}

// Run executes the requested execution policy over inputs and returns the
// aggregated Result (or a CompareResult via RunCompare for "compare").
func Run(ctx context.Context, mode model.ExecutionMode, portfolioSeed uint64, inputs []ProjectInput) (Result, error) {
	switch mode {
	case model.ExecutionParallel:
		return runParallel(ctx, portfolioSeed, inputs)
	case model.ExecutionSequential:
		return runSequential(ctx, portfolioSeed, inputs)
	default:
		return Result{}, apperr.Newf(apperr.ConfigInvalid, "unsupported execution mode %q", mode)
	}
}

// RunCompare runs both policies and recommends the one with lower P85
// portfolio weeks, tie-broken by lower total CoD P85.
func RunCompare(ctx context.Context, portfolioSeed uint64, inputs []ProjectInput) (CompareResult, error) {
	parallel, err := runParallel(ctx, portfolioSeed, inputs)
	if err != nil {
		return CompareResult{}, err
	}
	sequential, err := runSequential(ctx, portfolioSeed, inputs)
	if err != nil {
		return CompareResult{}, err
	}

	recommendation := "sequential"
	switch {
	case parallel.PortfolioWeeks.P85 < sequential.PortfolioWeeks.P85:
		recommendation = "parallel"
	case parallel.PortfolioWeeks.P85 > sequential.PortfolioWeeks.P85:
		recommendation = "sequential"
	case parallel.TotalCoD.P85 <= sequential.TotalCoD.P85:
		recommendation = "parallel"
	}

	return CompareResult{Parallel: parallel, Sequential: sequential, Recommendation: recommendation}, nil
}

// projectSeed derives a per-project seed from the portfolio seed so every
// project's trial array is independently deterministic without
// cross-project correlation, while the whole run remains reproducible
// from a single portfolioSeed.
func projectSeed(portfolioSeed uint64, projectID int64) uint64 {
	h := fnv.New64a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(portfolioSeed >> (8 * i))
	}
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(uint64(projectID) >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

func runTrialsFor(ctx context.Context, portfolioSeed uint64, in ProjectInput) (montecarlo.Trials, error) {
	cfg := in.Config
	cfg.Seed = projectSeed(portfolioSeed, in.ProjectID)
	cfg.HasSeed = true
	return montecarlo.RunTrials(ctx, cfg)
}

func runParallel(ctx context.Context, portfolioSeed uint64, inputs []ProjectInput) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, apperr.New(apperr.ConfigInvalid, "portfolio simulation requires at least one project")
	}

	// A topological order respecting dependencies, independent of any one
	// trial: the per-trial finish-week computation below walks this same
	// fixed order every trial, but starts each dependent project from the
	// max finish week its predecessors actually drew in that trial,
	// rather than from an aggregate approximation, preserving the joint
	// distribution.
	order, err := dependencyOrder(inputs)
	if err != nil {
		return Result{}, err
	}

	byID := make(map[int64]ProjectInput, len(inputs))
	trialsByProject := make(map[int64]montecarlo.Trials, len(inputs))
	n := -1
	for _, in := range inputs {
		trials, err := runTrialsFor(ctx, portfolioSeed, in)
		if err != nil {
			return Result{}, err
		}
		byID[in.ProjectID] = in
		trialsByProject[in.ProjectID] = trials
		if n == -1 || len(trials.Weeks) < n {
			n = len(trials.Weeks)
		}
	}

	portfolioWeeks := make([]float64, n)
	totalCoD := make([]float64, n)
	perProjectWeeks := make(map[int64][]float64, len(inputs))
	maxCount := make(map[int64]int, len(inputs))
	finish := make(map[int64]float64, len(inputs))

	for k := 0; k < n; k++ {
		var maxFinish float64
		var maxProject int64
		var cod float64
		for _, id := range order {
			in := byID[id]
			var start float64
			for _, dep := range in.Dependencies {
				if f := finish[dep]; f > start {
					start = f
				}
			}
			f := start + trialsByProject[id].Weeks[k]
			finish[id] = f
			perProjectWeeks[id] = append(perProjectWeeks[id], f)
			cod += in.CoDWeekly * f
			if f > maxFinish {
				maxFinish = f
				maxProject = id
			}
		}
		portfolioWeeks[k] = maxFinish
		totalCoD[k] = cod
		maxCount[maxProject]++
	}

	critPathFreq := make(map[int64]float64, len(inputs))
	for _, in := range inputs {
		critPathFreq[in.ProjectID] = float64(maxCount[in.ProjectID]) / float64(n)
	}

	return buildResult(model.ExecutionParallel, portfolioWeeks, totalCoD, perProjectWeeks, critPathFreq, n), nil
}

func runSequential(ctx context.Context, portfolioSeed uint64, inputs []ProjectInput) (Result, error) {
	if len(inputs) == 0 {
		return Result{}, apperr.New(apperr.ConfigInvalid, "portfolio simulation requires at least one project")
	}

	order, err := sequentialOrder(inputs)
	if err != nil {
		return Result{}, err
	}

	trialsByProject := make(map[int64]montecarlo.Trials, len(inputs))
	n := -1
	for _, in := range inputs {
		trials, err := runTrialsFor(ctx, portfolioSeed, in)
		if err != nil {
			return Result{}, err
		}
		trialsByProject[in.ProjectID] = trials
		if n == -1 || len(trials.Weeks) < n {
			n = len(trials.Weeks)
		}
	}

	byID := make(map[int64]ProjectInput, len(inputs))
	for _, in := range inputs {
		byID[in.ProjectID] = in
	}

	portfolioWeeks := make([]float64, n)
	totalCoD := make([]float64, n)
	perProjectWeeks := make(map[int64][]float64, len(inputs))

	for k := 0; k < n; k++ {
		var cumulative float64
		var cod float64
		for _, projectID := range order {
			in := byID[projectID]
			cumulative += trialsByProject[projectID].Weeks[k]
			perProjectWeeks[projectID] = append(perProjectWeeks[projectID], cumulative)
			cod += in.CoDWeekly * cumulative // pays CoD for the whole period until it ships
		}
		portfolioWeeks[k] = cumulative
		totalCoD[k] = cod
	}

	return buildResult(model.ExecutionSequential, portfolioWeeks, totalCoD, perProjectWeeks, nil, n), nil
}

// sequentialOrder orders projects by WSJF descending, refined by
// topological order when dependencies are present.
func sequentialOrder(inputs []ProjectInput) ([]int64, error) {
	hasDeps := false
	for _, in := range inputs {
		if len(in.Dependencies) > 0 {
			hasDeps = true
			break
		}
	}
	if !hasDeps {
		ordered := append([]ProjectInput(nil), inputs...)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].WSJF != ordered[j].WSJF {
				return ordered[i].WSJF > ordered[j].WSJF
			}
			return ordered[i].ProjectID < ordered[j].ProjectID
		})
		ids := make([]int64, len(ordered))
		for i, p := range ordered {
			ids[i] = p.ProjectID
		}
		return ids, nil
	}

	g := depgraph.New()
	for _, in := range inputs {
		g.AddNode(in.ProjectID, in.WSJF)
		for _, dep := range in.Dependencies {
			g.AddDependency(in.ProjectID, dep)
		}
	}
	return g.TopoOrder()
}

// dependencyOrder returns a cycle-free project order respecting
// Dependencies (predecessors before dependents, ties by WSJF descending).
// runParallel walks this same order for every trial, computing each
// project's start week from its predecessors' actual per-trial draws
// rather than from any aggregate duration estimate.
func dependencyOrder(inputs []ProjectInput) ([]int64, error) {
	g := depgraph.New()
	for _, in := range inputs {
		g.AddNode(in.ProjectID, in.WSJF)
		for _, dep := range in.Dependencies {
			g.AddDependency(in.ProjectID, dep)
		}
	}
	return g.TopoOrder()
}

func buildResult(mode model.ExecutionMode, portfolioWeeks, totalCoD []float64, perProjectWeeks map[int64][]float64, critPathFreq map[int64]float64, n int) Result {
	sortedWeeks := append([]float64(nil), portfolioWeeks...)
	sort.Float64s(sortedWeeks)
	sortedCoD := append([]float64(nil), totalCoD...)
	sort.Float64s(sortedCoD)

	portfolioVariance := stat.Variance(portfolioWeeks, nil)

	perProjectP85 := make(map[int64]float64, len(perProjectWeeks))
	riskConcentration := make(map[int64]float64, len(perProjectWeeks))
	for id, weeks := range perProjectWeeks {
		sorted := append([]float64(nil), weeks...)
		sort.Float64s(sorted)
		perProjectP85[id] = sampler.Percentile(sorted, 85)
		if portfolioVariance > 0 {
			riskConcentration[id] = stat.Variance(weeks, nil) / portfolioVariance
		}
	}

	return Result{
		ExecutionMode:         mode,
		PortfolioWeeks:        percentilesOf(sortedWeeks),
		TotalCoD:              percentilesOf(sortedCoD),
		PerProjectP85Weeks:    perProjectP85,
		CriticalPathFrequency: critPathFreq,
		RiskConcentration:     riskConcentration,
		NTrials:               n,
	}
}

func percentilesOf(sorted []float64) model.Percentiles {
	return model.Percentiles{
		P10: sampler.Percentile(sorted, 10),
		P25: sampler.Percentile(sorted, 25),
		P50: sampler.Percentile(sorted, 50),
		P75: sampler.Percentile(sorted, 75),
		P85: sampler.Percentile(sorted, 85),
		P90: sampler.Percentile(sorted, 90),
		P95: sampler.Percentile(sorted, 95),
	}
}
