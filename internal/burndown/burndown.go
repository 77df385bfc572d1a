// Package burndown implements one BurnDown Simulator trial: consume
// a SimulationConfig plus a shared Sampler and PRNG, and produce the
// (weeks, effort) pair the Monte Carlo Engine aggregates across trials.
// All randomness flows through the caller-supplied RNG so that a fixed
// seed plus a fixed Config reproduces a bit-identical trial.
package burndown

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/sampler"
)

// MaxWeeks is the safety cap on a single trial's loop.
const MaxWeeks = 1000

// Result is the outcome of one trial.
type Result struct {
	Weeks     int
	Effort    float64
	Truncated bool
}

// TeamCurve is the precomputed per-week contributor count for a Config,
// computed once and shared across every trial of that Config.
type TeamCurve []int

// BuildTeamCurve computes the S-curve ramp-up/plateau/ramp-down contributor
// schedule over the expected-weeks horizon W* = ceil(backlog / mean(tp)).
// Weeks beyond the computed horizon clamp to MaxContributors.
func BuildTeamCurve(cfg model.SimulationConfig) TeamCurve {
	meanTP := meanOf(cfg.TPSamples)
	if meanTP <= 0 {
		meanTP = 1
	}
	wStar := int(math.Ceil(float64(cfg.Backlog) / meanTP))
	if wStar < 1 {
		wStar = 1
	}
	if wStar > MaxWeeks {
		// The trial loop never runs past MaxWeeks, and At clamps past the
		// tail, so a longer curve would just be dead allocation.
		wStar = MaxWeeks
	}

	rampWeeks := int(math.Round(float64(wStar) * float64(cfg.SCurvePct) / 100))
	if rampWeeks < 1 {
		rampWeeks = 1
	}
	if 2*rampWeeks > wStar {
		rampWeeks = wStar / 2
		if rampWeeks < 1 {
			rampWeeks = 1
		}
	}

	curve := make(TeamCurve, wStar)
	lo, hi := cfg.MinContributors, cfg.MaxContributors
	for w := 0; w < wStar; w++ {
		switch {
		case w < rampWeeks:
			frac := float64(w+1) / float64(rampWeeks)
			curve[w] = clampContrib(lo+int(math.Round(frac*float64(hi-lo))), lo, hi)
		case w >= wStar-rampWeeks:
			remaining := wStar - w
			frac := float64(remaining) / float64(rampWeeks)
			curve[w] = clampContrib(lo+int(math.Round(frac*float64(hi-lo))), lo, hi)
		default:
			curve[w] = hi
		}
	}
	return curve
}

// At returns the contributor count for week w, clamping to maxContributors
// past the precomputed horizon.
func (c TeamCurve) At(w, maxContributors int) int {
	if w < len(c) {
		return c[w]
	}
	return maxContributors
}

// Run executes one trial. curve may be nil for simple mode, in which case
// contributors are held at cfg.TeamSize and no risks or split-rate are
// applied.
func Run(cfg model.SimulationConfig, curve TeamCurve, samp *sampler.Sampler, rng *rand.Rand) Result {
	if cfg.Mode == model.ModeSimple {
		return runSimple(cfg, samp, rng)
	}
	return runComplete(cfg, curve, samp, rng)
}

func runSimple(cfg model.SimulationConfig, samp *sampler.Sampler, rng *rand.Rand) Result {
	remaining := float64(cfg.Backlog)
	var w int
	var effort float64

	for remaining > 0 && w < MaxWeeks {
		tp := roundNonNeg(samp.Draw())
		remaining -= tp
		effort += float64(cfg.TeamSize)
		w++
	}
	return Result{Weeks: w, Effort: effort, Truncated: w == MaxWeeks && remaining > 0}
}

func runComplete(cfg model.SimulationConfig, curve TeamCurve, samp *sampler.Sampler, rng *rand.Rand) Result {
	remaining := float64(cfg.Backlog)
	var w int
	var effort float64
	var extraRiskWeeks float64

	for _, risk := range cfg.Risks {
		if bernoulli(rng, risk.Probability) {
			extraRiskWeeks += math.Round(riskDelay(rng, risk))
		}
	}

	splitApplied := false
	for remaining > 0 && w < MaxWeeks {
		tp := roundNonNeg(samp.Draw())

		if !splitApplied && len(cfg.SplitRateSamples) > 0 {
			sr := pickUniform(rng, cfg.SplitRateSamples)
			remaining = math.Round(remaining * sr)
			splitApplied = true
		}

		if len(cfg.LTSamples) > 0 {
			lt := pickUniform(rng, cfg.LTSamples)
			overhead := math.Min(lt/7*tp, tp)
			tp -= overhead
			if tp < 0 {
				tp = 0
			}
		}

		c := curve.At(w, cfg.MaxContributors)
		effectiveTP := math.Round(tp * (float64(c) / float64(cfg.TeamSize)))
		if effectiveTP < 0 {
			effectiveTP = 0
		}

		remaining -= effectiveTP
		effort += float64(c)
		w++
	}

	truncated := w == MaxWeeks && remaining > 0
	w += int(extraRiskWeeks)
	return Result{Weeks: w, Effort: effort, Truncated: truncated}
}

// RunWindow executes exactly weeksInWindow weeks of throughput draws with
// no depleting backlog, returning the total items completed over the
// window. HowMany forecasts build on this rather than inverting a
// completion-week percentile, so their percentiles carry real per-trial
// variance. curve may be nil for simple mode.
func RunWindow(cfg model.SimulationConfig, curve TeamCurve, samp *sampler.Sampler, rng *rand.Rand, weeksInWindow int) float64 {
	if weeksInWindow <= 0 {
		return 0
	}
	if cfg.Mode == model.ModeSimple {
		return runWindowSimple(cfg, samp, weeksInWindow)
	}
	return runWindowComplete(cfg, curve, samp, rng, weeksInWindow)
}

func runWindowSimple(cfg model.SimulationConfig, samp *sampler.Sampler, weeksInWindow int) float64 {
	var items float64
	for w := 0; w < weeksInWindow; w++ {
		items += roundNonNeg(samp.Draw())
	}
	return items
}

func runWindowComplete(cfg model.SimulationConfig, curve TeamCurve, samp *sampler.Sampler, rng *rand.Rand, weeksInWindow int) float64 {
	// split_rate_samples scales the remaining backlog at week 0;
	// a fixed window has no backlog to scale, so it does not apply here.
	//
	// Risks fire before the loop exactly as in Run. A fired risk adds
	// weeks at the end of an open-ended trial; in a fixed window that
	// delay consumes calendar weeks instead of extending the schedule,
	// so it reduces the weeks actually worked.
	var extraRiskWeeks float64
	for _, risk := range cfg.Risks {
		if bernoulli(rng, risk.Probability) {
			extraRiskWeeks += math.Round(riskDelay(rng, risk))
		}
	}
	workingWeeks := weeksInWindow - int(extraRiskWeeks)
	if workingWeeks < 0 {
		workingWeeks = 0
	}

	var items float64
	for w := 0; w < workingWeeks; w++ {
		tp := roundNonNeg(samp.Draw())

		if len(cfg.LTSamples) > 0 {
			lt := pickUniform(rng, cfg.LTSamples)
			overhead := math.Min(lt/7*tp, tp)
			tp -= overhead
			if tp < 0 {
				tp = 0
			}
		}

		c := curve.At(w, cfg.MaxContributors)
		effectiveTP := math.Round(tp * (float64(c) / float64(cfg.TeamSize)))
		if effectiveTP < 0 {
			effectiveTP = 0
		}
		items += effectiveTP
	}
	return items
}

// riskDelay draws a fired risk's delay in weeks from the triangular
// distribution over [LowWeeks, HighWeeks] with mode LikelyWeeks. A
// degenerate risk (LowWeeks == HighWeeks) is a point mass at LikelyWeeks.
func riskDelay(rng *rand.Rand, risk model.Risk) float64 {
	if risk.LowWeeks >= risk.HighWeeks {
		return risk.LikelyWeeks
	}
	return distuv.NewTriangle(risk.LowWeeks, risk.HighWeeks, risk.LikelyWeeks, rng).Rand()
}

func bernoulli(rng *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rng.Float64() < p
}

func pickUniform(rng *rand.Rand, xs []float64) float64 {
	return xs[rng.Intn(len(xs))]
}

func roundNonNeg(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return math.Round(v)
}

func clampContrib(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
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
