// Package model holds the entity shapes shared across the forecasting
// engine: simulation inputs/outputs, projects, portfolios, and the
// runtime task registry record.
package model

import "time"

// ThroughputHistory is an ordered sequence of weekly completion counts.
type ThroughputHistory []float64

// Risk is a single risk event: a probability of firing and a triangular
// impact-weeks distribution.
type Risk struct {
	Probability float64 `json:"probability"`
	LowWeeks    float64 `json:"low_weeks"`
	LikelyWeeks float64 `json:"likely_weeks"`
	HighWeeks   float64 `json:"high_weeks"`
}

// Mode selects the BurnDown simulation variant.
type Mode string

const (
	ModeSimple   Mode = "simple"
	ModeComplete Mode = "complete"
)

// SimulationConfig is the full input envelope to the Monte Carlo Engine.
type SimulationConfig struct {
	TPSamples ThroughputHistory `json:"tp_samples"`
	Backlog   int               `json:"backlog"`

	NSimulations int  `json:"n_simulations"`
	Mode         Mode `json:"mode"`

	TeamSize        int `json:"team_size"`
	MinContributors int `json:"min_contributors"`
	MaxContributors int `json:"max_contributors"`
	SCurvePct       int `json:"s_curve_pct"`

	LTSamples        []float64 `json:"lt_samples,omitempty"`
	SplitRateSamples []float64 `json:"split_rate_samples,omitempty"`
	Risks            []Risk    `json:"risks,omitempty"`

	Seed    uint64 `json:"seed,omitempty"`
	HasSeed bool   `json:"has_seed,omitempty"`
}

// Percentiles is the standard percentile set reported on any distribution.
type Percentiles struct {
	P10 float64 `json:"p10"`
	P25 float64 `json:"p25"`
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P85 float64 `json:"p85"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
}

// HistogramBin is one bin of a binned distribution.
type HistogramBin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// SimulationResult is the distributional output of the Monte Carlo Engine.
type SimulationResult struct {
	Percentiles       Percentiles    `json:"percentiles"`
	EffortPercentiles *Percentiles   `json:"effort_percentiles,omitempty"`
	Mean              float64        `json:"mean"`
	Std               float64        `json:"std"`
	Histogram         []HistogramBin `json:"histogram"`
	NTrials           int            `json:"n_trials"`
	Mode              Mode           `json:"mode"`
	ConfigFingerprint string         `json:"config_fingerprint"`
	TruncatedTrials   int            `json:"truncated_trials"`
	DroppedTrials     int            `json:"dropped_trials"`
}

// ProjectStatus is the lifecycle state of a Project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// RiskLevel is a coarse qualitative risk bucket.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Score maps a RiskLevel to the numeric scale the Selection Optimizer
// uses for risk_score: low=1, medium=2, high=3, critical=4, x25.
func (r RiskLevel) Score() float64 {
	switch r {
	case RiskLow:
		return 25
	case RiskMedium:
		return 50
	case RiskHigh:
		return 75
	case RiskCritical:
		return 100
	default:
		return 50
	}
}

// Project is a persistent unit of work with its own throughput history.
type Project struct {
	ID                int64             `json:"id"`
	Name              string            `json:"name"`
	ThroughputHistory ThroughputHistory `json:"throughput_history"`
	TeamSize          int               `json:"team_size"`
	Status            ProjectStatus     `json:"status"`
	BusinessValue     float64           `json:"business_value"`
	RiskLevel         RiskLevel         `json:"risk_level"`
	CapacityAllocated float64           `json:"capacity_allocated"`
	Tags              []string          `json:"tags,omitempty"`
	ExternalRef       string            `json:"external_ref,omitempty"`
}

// ForecastType distinguishes which Forecast Facade question produced a Forecast.
type ForecastType string

const (
	ForecastDeadline   ForecastType = "deadline"
	ForecastThroughput ForecastType = "throughput"
	ForecastCost       ForecastType = "cost"
)

// Forecast is a persisted (Config, Result) pair tied to a Project.
type Forecast struct {
	ID                int64        `json:"id"`
	ProjectID         int64        `json:"project_id"`
	CreatedAt         time.Time    `json:"created_at"`
	Type              ForecastType `json:"type"`
	ConfigJSON        string       `json:"config_json"`
	ResultJSON        string       `json:"result_json"`
	ProjectedWeeksP85 float64      `json:"projected_weeks_p85"`
}

// Actual is an observed outcome for a finished Forecast, used for backtesting.
type Actual struct {
	ID          int64     `json:"id"`
	ForecastID  int64     `json:"forecast_id"`
	ActualWeeks float64   `json:"actual_weeks"`
	ActualItems int       `json:"actual_items"`
	RecordedAt  time.Time `json:"recorded_at"`
	ErrorWeeks  float64   `json:"error_weeks"`
	ErrorPct    float64   `json:"error_pct"`
	Notes       string    `json:"notes,omitempty"`
}

// AccuracyReport summarizes forecast error over a project's Actuals.
type AccuracyReport struct {
	MAPE float64 `json:"mape"`
	MAE  float64 `json:"mae"`
	Bias float64 `json:"bias"`
	N    int     `json:"n"`
}

// Portfolio is a named collection of projects sharing budget/capacity ceilings.
type Portfolio struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	TotalBudget    float64   `json:"total_budget"`
	TotalCapacity  float64   `json:"total_capacity"`
	Status         string    `json:"status"`
	StartDate      time.Time `json:"start_date"`
	TargetEndDate  time.Time `json:"target_end_date"`
}

// PortfolioProject is the N:N membership of a Project within a Portfolio,
// carrying per-membership CoD/value/priority scoring.
type PortfolioProject struct {
	PortfolioID        int64   `json:"portfolio_id"`
	ProjectID          int64   `json:"project_id"`
	PriorityInPortfolio int    `json:"priority_in_portfolio"`
	AllocationPct      float64 `json:"allocation_pct"`
	CoDWeekly          float64 `json:"cod_weekly"`
	BusinessValue      float64 `json:"business_value"`
	TimeCriticality    float64 `json:"time_criticality"`
	RiskReduction      float64 `json:"risk_reduction"`
	WSJFScore          float64 `json:"wsjf_score"`
	Dependencies       []int64 `json:"dependencies,omitempty"`
}

// ExecutionMode selects how the Portfolio Simulator composes per-project trials.
type ExecutionMode string

const (
	ExecutionParallel   ExecutionMode = "parallel"
	ExecutionSequential ExecutionMode = "sequential"
	ExecutionCompare    ExecutionMode = "compare"
)

// SimulationRun is a stored portfolio-level simulation.
type SimulationRun struct {
	ID            int64         `json:"id"`
	PortfolioID   int64         `json:"portfolio_id"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
	ConfigJSON    string        `json:"config_json"`
	ResultJSON    string        `json:"result_json"`
	CreatedAt     time.Time     `json:"created_at"`
	RuntimeMS     int64         `json:"runtime_ms"`
}

// TaskState is the lifecycle state of an async Task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Task is a runtime-only record of a unit of async work tracked by the Task Runner.
type Task struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	State       TaskState  `json:"state"`
	Progress    int        `json:"progress"`
	StageLabel  string     `json:"stage_label"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}
