// Package montecarlo runs the N-trial BurnDown ensemble and aggregates the
// results into a SimulationResult. Trials are embarrassingly
// parallel: the engine splits the caller's seed into per-trial substreams
// so a fixed seed reproduces a bit-identical result regardless of worker
// count, then fans the trials out across an errgroup-bounded pool.
package montecarlo

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/burndown"
	"github.com/flowcast/forecaster/internal/model"
	"github.com/flowcast/forecaster/internal/sampler"
)

const histogramBins = 50

// Trials is the raw, unaggregated output of RunTrials: one burndown.Result
// per surviving trial, index-paired across a set of projects run with the
// same rootSeed so the Portfolio Simulator can compose them jointly.
type Trials struct {
	Weeks           []float64
	Effort          []float64
	TruncatedTrials int
	DroppedTrials   int
}

// Run validates cfg, executes cfg.NSimulations trials of the BurnDown
// Simulator across a bounded worker pool, and aggregates the results.
func Run(ctx context.Context, cfg model.SimulationConfig) (model.SimulationResult, error) {
	fingerprint, err := Fingerprint(cfg)
	if err != nil {
		return model.SimulationResult{}, apperr.Newf(apperr.InternalError, "fingerprint config: %v", err)
	}

	trials, err := RunTrials(ctx, cfg)
	if err != nil {
		return model.SimulationResult{}, err
	}
	return aggregate(cfg, fingerprint, trials), nil
}

// RunTrials validates cfg and executes cfg.NSimulations trials, returning
// the raw per-trial (weeks, effort) pairs without aggregation. Exposed so
// the Portfolio Simulator can pair trials by index across projects sharing
// a rootSeed.
func RunTrials(ctx context.Context, cfg model.SimulationConfig) (Trials, error) {
	if err := Validate(cfg); err != nil {
		return Trials{}, err
	}

	rootSeed := cfg.Seed
	if !cfg.HasSeed {
		rootSeed = nondeterministicSeed()
	}

	fitRNG := rand.New(rand.NewSource(rootSeed))
	samp := sampler.Fit(cfg.TPSamples, fitRNG)

	var curve burndown.TeamCurve
	if cfg.Mode == model.ModeComplete {
		curve = burndown.BuildTeamCurve(cfg)
	}

	n := cfg.NSimulations
	weeks := make([]float64, n)
	effort := make([]float64, n)
	valid := make([]bool, n)
	truncatedFlags := make([]bool, n)

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			substream := splitSubstream(rootSeed, i)
			trialRNG := rand.New(rand.NewSource(substream))
			res := burndown.Run(cfg, curve, samp.WithRNG(trialRNG), trialRNG)

			w := float64(res.Weeks)
			e := res.Effort
			if math.IsNaN(w) || math.IsInf(w, 0) || math.IsNaN(e) || math.IsInf(e, 0) {
				return nil // dropped, not propagated
			}
			weeks[i] = w
			effort[i] = e
			valid[i] = true
			truncatedFlags[i] = res.Truncated
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Trials{}, apperr.Newf(apperr.InternalError, "engine run: %v", err)
	}

	var weeksKept, effortKept []float64
	var truncated, dropped int
	for i := 0; i < n; i++ {
		if !valid[i] {
			dropped++
			continue
		}
		if truncatedFlags[i] {
			truncated++
		}
		weeksKept = append(weeksKept, weeks[i])
		effortKept = append(effortKept, effort[i])
	}

	if len(weeksKept) == 0 {
		return Trials{}, apperr.New(apperr.InternalError, "all trials dropped as non-finite")
	}

	return Trials{Weeks: weeksKept, Effort: effortKept, TruncatedTrials: truncated, DroppedTrials: dropped}, nil
}

// RunWindowTrials executes cfg.NSimulations independent trials of exactly
// weeksInWindow weeks of throughput draws with no depleting backlog,
// returning each trial's total item count (HowMany's fixed-window
// formulation). Sibling to RunTrials, which instead depletes a backlog
// and returns completion weeks; the two share sampler fit, team curve,
// and substream-splitting but diverge in what burndown function each
// trial calls, so the parallel dispatch is not factored together.
func RunWindowTrials(ctx context.Context, cfg model.SimulationConfig, weeksInWindow int) ([]float64, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if weeksInWindow < 0 {
		weeksInWindow = 0
	}

	rootSeed := cfg.Seed
	if !cfg.HasSeed {
		rootSeed = nondeterministicSeed()
	}

	fitRNG := rand.New(rand.NewSource(rootSeed))
	samp := sampler.Fit(cfg.TPSamples, fitRNG)

	var curve burndown.TeamCurve
	if cfg.Mode == model.ModeComplete {
		curve = burndown.BuildTeamCurve(cfg)
	}

	n := cfg.NSimulations
	items := make([]float64, n)
	valid := make([]bool, n)

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			substream := splitSubstream(rootSeed, i)
			trialRNG := rand.New(rand.NewSource(substream))
			v := burndown.RunWindow(cfg, curve, samp.WithRNG(trialRNG), trialRNG, weeksInWindow)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil // dropped, not propagated
			}
			items[i] = v
			valid[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Newf(apperr.InternalError, "engine run: %v", err)
	}

	kept := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if valid[i] {
			kept = append(kept, items[i])
		}
	}
	if len(kept) == 0 {
		return nil, apperr.New(apperr.InternalError, "all trials dropped as non-finite")
	}
	return kept, nil
}

func aggregate(cfg model.SimulationConfig, fingerprint string, trials Trials) model.SimulationResult {
	weeksKept := append([]float64(nil), trials.Weeks...)
	sort.Float64s(weeksKept)

	result := model.SimulationResult{
		Percentiles:       PercentilesOf(weeksKept),
		Mean:              stat.Mean(weeksKept, nil),
		Std:               stat.StdDev(weeksKept, nil),
		Histogram:         histogram(weeksKept, histogramBins),
		NTrials:           len(weeksKept),
		Mode:              cfg.Mode,
		ConfigFingerprint: fingerprint,
		TruncatedTrials:   trials.TruncatedTrials,
		DroppedTrials:     trials.DroppedTrials,
	}

	if cfg.Mode == model.ModeComplete {
		sortedEffort := append([]float64(nil), trials.Effort...)
		sort.Float64s(sortedEffort)
		ep := PercentilesOf(sortedEffort)
		result.EffortPercentiles = &ep
	}

	return result
}

// Validate enforces the SimulationConfig field bounds.
func Validate(cfg model.SimulationConfig) error {
	if len(cfg.TPSamples) == 0 {
		return apperr.New(apperr.ConfigInvalid, "tp_samples must have at least one value")
	}
	for _, v := range cfg.TPSamples {
		if v < 0 {
			return apperr.New(apperr.ConfigInvalid, "tp_samples must be non-negative")
		}
	}
	if cfg.Backlog < 0 {
		return apperr.New(apperr.ConfigInvalid, "backlog must be >= 0")
	}
	if cfg.NSimulations < 100 || cfg.NSimulations > 1_000_000 {
		return apperr.New(apperr.ConfigInvalid, "n_simulations must be in [100, 1000000]")
	}
	if cfg.Mode != model.ModeSimple && cfg.Mode != model.ModeComplete {
		return apperr.New(apperr.ConfigInvalid, "mode must be simple or complete")
	}
	if cfg.Mode == model.ModeComplete {
		if cfg.TeamSize < 1 {
			return apperr.New(apperr.ConfigInvalid, "team_size must be >= 1")
		}
		if cfg.MinContributors < 1 || cfg.MinContributors > cfg.MaxContributors || cfg.MaxContributors > cfg.TeamSize {
			return apperr.New(apperr.ConfigInvalid, "contributors must satisfy 1 <= min <= max <= team_size")
		}
		if cfg.SCurvePct < 0 || cfg.SCurvePct > 50 {
			return apperr.New(apperr.ConfigInvalid, "s_curve_pct must be in [0, 50]")
		}
		for _, sr := range cfg.SplitRateSamples {
			if sr < 0.2 || sr > 10.0 {
				return apperr.New(apperr.ConfigInvalid, "split_rate_samples must be in [0.2, 10.0]")
			}
		}
		for _, lt := range cfg.LTSamples {
			if lt < 0 {
				return apperr.New(apperr.ConfigInvalid, "lt_samples must be non-negative")
			}
		}
		for _, r := range cfg.Risks {
			if r.Probability < 0 || r.Probability > 1 {
				return apperr.New(apperr.ConfigInvalid, "risk probability must be in [0,1]")
			}
			if !(r.LowWeeks <= r.LikelyWeeks && r.LikelyWeeks <= r.HighWeeks) {
				return apperr.New(apperr.ConfigInvalid, "risk impact weeks must satisfy low <= likely <= high")
			}
		}
	}
	return nil
}

// Fingerprint computes the stable SHA-256 hash over the canonical JSON
// encoding of cfg, used as config_fingerprint.
func Fingerprint(cfg model.SimulationConfig) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// splitSubstream derives an independent-looking per-trial seed from the
// root seed and trial index, so every trial draws from its own substream
// instead of a single PRNG shared across workers, keeping a fixed seed
// deterministic under parallel dispatch.
func splitSubstream(rootSeed uint64, trial int) uint64 {
	h := fnv.New64a()
	var buf [16]byte
	putUint64(buf[0:8], rootSeed)
	putUint64(buf[8:16], uint64(trial))
	h.Write(buf[:])
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// nondeterministicSeed is used only when the caller did not supply a seed.
// It mixes crypto/rand entropy with the current time, so two unseeded runs
// of the same Config are not expected to match: a seed buys determinism
// when set, and its absence should not silently make every run
// deterministic anyway.
func nondeterministicSeed() uint64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err == nil {
		return binary.LittleEndian.Uint64(buf[:]) ^ uint64(time.Now().UnixNano())
	}
	return uint64(time.Now().UnixNano())
}

// PercentilesOf computes the standard percentile set over an already
// sorted slice via nearest-rank (sampler.Percentile), shared by the
// duration/effort aggregation here and by ForecastFacade.HowMany's
// item-count percentiles.
func PercentilesOf(sorted []float64) model.Percentiles {
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

func histogram(sorted []float64, bins int) []model.HistogramBin {
	if len(sorted) == 0 {
		return nil
	}
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		return []model.HistogramBin{{Low: lo, High: hi, Count: len(sorted)}}
	}
	width := (hi - lo) / float64(bins)
	out := make([]model.HistogramBin, bins)
	for i := range out {
		out[i] = model.HistogramBin{Low: lo + float64(i)*width, High: lo + float64(i+1)*width}
	}
	for _, v := range sorted {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		out[idx].Count++
	}
	return out
}
