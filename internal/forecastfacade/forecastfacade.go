// Package forecastfacade implements the three derived forecasting views
// built on top of the Monte Carlo Engine: meet_deadline, how_many,
// and when.
package forecastfacade

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/montecarlo"
)

// DeadlineVerdict is the result of MeetDeadline.
type DeadlineVerdict struct {
	ProjectedWeeksP85   float64 `json:"projected_weeks_p85"`
	WeeksToDeadline      float64 `json:"weeks_to_deadline"`
	CanMeet              bool    `json:"can_meet"`
	ScopeCompletionPct   float64 `json:"scope_completion_pct"`
	DeadlineCompletionPct float64 `json:"deadline_completion_pct"`
}

// ItemsForecast is the result of HowMany.
type ItemsForecast struct {
	WeeksInWindow int             `json:"weeks_in_window"`
	Percentiles   model.Percentiles `json:"percentiles"`
}

// CompletionForecast is the result of When.
type CompletionForecast struct {
	P10 time.Time `json:"p10"`
	P25 time.Time `json:"p25"`
	P50 time.Time `json:"p50"`
	P75 time.Time `json:"p75"`
	P85 time.Time `json:"p85"`
	P90 time.Time `json:"p90"`
	P95 time.Time `json:"p95"`
}

// BusinessWeeksBetween returns the number of weeks between two dates as
// calendar days / 7, including any fractional part, the duration unit
// every other operation in this package works in.
func BusinessWeeksBetween(start, end time.Time) float64 {
	days := end.Sub(start).Hours() / 24
	return days / 7
}

// MeetDeadline runs the Engine and reports whether the p85 outcome meets
// the caller's deadline.
func MeetDeadline(ctx context.Context, cfg model.SimulationConfig, start, deadline time.Time) (DeadlineVerdict, model.SimulationResult, error) {
	result, err := montecarlo.Run(ctx, cfg)
	if err != nil {
		return DeadlineVerdict{}, model.SimulationResult{}, err
	}

	weeksToDeadline := BusinessWeeksBetween(start, deadline)
	p85 := result.Percentiles.P85

	verdict := DeadlineVerdict{
		ProjectedWeeksP85: p85,
		WeeksToDeadline:   weeksToDeadline,
		CanMeet:           p85 <= weeksToDeadline,
	}
	if p85 > 0 {
		verdict.ScopeCompletionPct = math.Min(100, 100*weeksToDeadline/p85)
	}
	if weeksToDeadline > 0 {
		verdict.DeadlineCompletionPct = math.Min(100, 100*p85/weeksToDeadline)
	}
	return verdict, result, nil
}

// HowMany runs montecarlo.RunWindowTrials directly over the window's week
// count, drawing throughput per week with no depleting backlog. Every
// trial's item count is tracked individually, so the reported percentiles
// carry the Monte Carlo variance of the throughput draws themselves
// rather than a deterministic ratio derived from the mean.
func HowMany(ctx context.Context, cfg model.SimulationConfig, start, end time.Time) (ItemsForecast, error) {
	weeksInWindow := int(math.Floor(BusinessWeeksBetween(start, end)))
	if weeksInWindow < 1 {
		weeksInWindow = 1
	}

	windowCfg := cfg
	windowCfg.Backlog = 0
	if windowCfg.Mode == model.ModeComplete {
		// The team S-curve is shaped over an "expected weeks" horizon
		// derived from backlog/mean(tp). how_many's config
		// carries no backlog, so give the
		// curve a nominal backlog sized to the window itself, so ramp-up/
		// plateau/ramp-down play out across weeksInWindow instead of
		// degenerating to a single week.
		windowCfg.Backlog = nominalWindowBacklog(cfg, weeksInWindow)
	}

	items, err := montecarlo.RunWindowTrials(ctx, windowCfg, weeksInWindow)
	if err != nil {
		return ItemsForecast{}, err
	}

	sorted := append([]float64(nil), items...)
	sort.Float64s(sorted)

	return ItemsForecast{WeeksInWindow: weeksInWindow, Percentiles: montecarlo.PercentilesOf(sorted)}, nil
}

// nominalWindowBacklog sizes a synthetic backlog to weeksInWindow weeks of
// mean throughput so BuildTeamCurve's ramp-up/ramp-down horizon spans the
// requested window, since how_many's config has no real backlog to derive
// one from.
func nominalWindowBacklog(cfg model.SimulationConfig, weeksInWindow int) int {
	meanTP := meanOf(cfg.TPSamples)
	if meanTP <= 0 {
		meanTP = 1
	}
	backlog := int(math.Ceil(meanTP * float64(weeksInWindow)))
	if backlog < 1 {
		backlog = 1
	}
	return backlog
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

// When runs the Engine and converts duration percentiles into calendar
// dates counted from start.
func When(ctx context.Context, cfg model.SimulationConfig, start time.Time) (CompletionForecast, model.SimulationResult, error) {
	result, err := montecarlo.Run(ctx, cfg)
	if err != nil {
		return CompletionForecast{}, model.SimulationResult{}, err
	}
	p := result.Percentiles
	add := func(weeks float64) time.Time {
		return start.Add(time.Duration(weeks*7*24) * time.Hour)
	}
	return CompletionForecast{
		P10: add(p.P10),
		P25: add(p.P25),
		P50: add(p.P50),
		P75: add(p.P75),
		P85: add(p.P85),
		P90: add(p.P90),
		P95: add(p.P95),
	}, result, nil
}
