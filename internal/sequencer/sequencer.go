// Package sequencer implements the CoD Sequencer: a pure function
// over pre-computed P85 duration estimates, independent of the Monte
// Carlo Engine once those estimates exist.
package sequencer

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/flowcast/forecaster/internal/apperr"
)

// Strategy is one of the four fixed ordering strategies.
type Strategy string

const (
	StrategyWSJF     Strategy = "wsjf_desc"
	StrategySJF      Strategy = "sjf_asc"
	StrategyCoDFirst Strategy = "cod_desc"
	StrategyBVFirst  Strategy = "bv_desc"
)

var allStrategies = []Strategy{StrategyWSJF, StrategySJF, StrategyCoDFirst, StrategyBVFirst}

// ProjectInput is the per-project input to the sequencer.
type ProjectInput struct {
	ProjectID         int64
	PriorityInPortfolio int
	BusinessValue     float64 // BV, 0..100
	TimeCriticality   float64 // TC, 0..100
	RiskReduction     float64 // RR, 0..100
	CoDWeekly         float64
	P85Weeks          float64 // D_i
}

// WSJF computes (BV+TC+RR)/D for a project; D must be > 0.
func (p ProjectInput) WSJF() float64 {
	if p.P85Weeks <= 0 {
		return 0
	}
	return (p.BusinessValue + p.TimeCriticality + p.RiskReduction) / p.P85Weeks
}

// StepResult is one project's position within an ordering.
type StepResult struct {
	ProjectID         int64   `json:"project_id"`
	CumulativeStartWeek float64 `json:"cumulative_start_week"`
	CumulativeFinishWeek float64 `json:"cumulative_finish_week"`
	AccruedCoD        float64 `json:"accrued_cod"`
}

// StrategyResult is the full report for one ordering strategy.
type StrategyResult struct {
	Strategy Strategy     `json:"strategy"`
	Order    []StepResult `json:"order"`
	TotalCoD float64      `json:"total_cod"`
}

// Report is the complete sequencer output across all strategies.
type Report struct {
	Strategies      []StrategyResult `json:"strategies"`
	BestStrategy    Strategy         `json:"best_strategy"`
	SavingsVsInput  float64          `json:"savings_vs_input"`
	UrgentProjects  []int64          `json:"urgent_projects"`
	FilteredOut     []int64          `json:"filtered_out"`
}

// Run filters out D_i == 0 projects, evaluates every strategy, and reports
// savings vs input order plus urgent-project identification.
func Run(inputs []ProjectInput) (Report, error) {
	var usable []ProjectInput
	var filtered []int64
	for _, in := range inputs {
		if in.P85Weeks <= 0 {
			filtered = append(filtered, in.ProjectID)
			continue
		}
		usable = append(usable, in)
	}
	if len(usable) == 0 {
		return Report{}, apperr.New(apperr.ConfigInvalid, "no projects with a positive P85 duration to sequence")
	}

	results := make([]StrategyResult, 0, len(allStrategies))
	for _, s := range allStrategies {
		results = append(results, evaluate(s, usable))
	}

	best := results[0]
	for _, r := range results[1:] {
		if r.TotalCoD < best.TotalCoD {
			best = r
		}
	}

	inputOrder := evaluate("", usable) // priority_in_portfolio ascending is applied inside sortFor("")
	savings := inputOrder.TotalCoD - best.TotalCoD

	return Report{
		Strategies:     results,
		BestStrategy:   best.Strategy,
		SavingsVsInput: savings,
		UrgentProjects: urgentProjects(usable),
		FilteredOut:    filtered,
	}, nil
}

func evaluate(strategy Strategy, inputs []ProjectInput) StrategyResult {
	ordered := sortFor(strategy, inputs)

	var cumulative float64
	steps := make([]StepResult, 0, len(ordered))
	var totalCoD float64
	for _, in := range ordered {
		start := cumulative
		cumulative += in.P85Weeks
		cod := in.CoDWeekly * cumulative // pays CoD through the whole period until it ships
		totalCoD += cod
		steps = append(steps, StepResult{
			ProjectID:            in.ProjectID,
			CumulativeStartWeek:  start,
			CumulativeFinishWeek: cumulative,
			AccruedCoD:           cod,
		})
	}

	return StrategyResult{Strategy: strategy, Order: steps, TotalCoD: totalCoD}
}

func sortFor(strategy Strategy, inputs []ProjectInput) []ProjectInput {
	ordered := append([]ProjectInput(nil), inputs...)
	less := func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		switch strategy {
		case StrategyWSJF:
			if a.WSJF() != b.WSJF() {
				return a.WSJF() > b.WSJF()
			}
		case StrategySJF:
			if a.P85Weeks != b.P85Weeks {
				return a.P85Weeks < b.P85Weeks
			}
		case StrategyCoDFirst:
			if a.CoDWeekly != b.CoDWeekly {
				return a.CoDWeekly > b.CoDWeekly
			}
		case StrategyBVFirst:
			if a.BusinessValue != b.BusinessValue {
				return a.BusinessValue > b.BusinessValue
			}
		default: // input order: priority_in_portfolio ascending
			if a.PriorityInPortfolio != b.PriorityInPortfolio {
				return a.PriorityInPortfolio < b.PriorityInPortfolio
			}
		}
		return a.ProjectID < b.ProjectID
	}
	sort.SliceStable(ordered, less)
	return ordered
}

// urgentProjects returns projects with WSJF in the top quartile and
// duration below the median.
func urgentProjects(inputs []ProjectInput) []int64 {
	if len(inputs) == 0 {
		return nil
	}
	wsjfs := make([]float64, len(inputs))
	durations := make([]float64, len(inputs))
	for i, in := range inputs {
		wsjfs[i] = in.WSJF()
		durations[i] = in.P85Weeks
	}
	sortedWSJF := append([]float64(nil), wsjfs...)
	sort.Float64s(sortedWSJF)
	sortedDur := append([]float64(nil), durations...)
	sort.Float64s(sortedDur)

	wsjfP75 := stat.Quantile(0.75, stat.Empirical, sortedWSJF, nil)
	durMedian := stat.Quantile(0.5, stat.Empirical, sortedDur, nil)

	var urgent []int64
	for _, in := range inputs {
		if in.WSJF() >= wsjfP75 && in.P85Weeks < durMedian {
			urgent = append(urgent, in.ProjectID)
		}
	}
	return urgent
}
