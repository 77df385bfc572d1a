// Package sampler fits a Weibull distribution to a throughput history and
// produces pseudo-random draws in batches. The fit happens once per
// SimulationConfig and is shared across every trial; the hot path is a
// single batched-array index bump, not a fresh distuv draw, because the
// Monte Carlo Engine calls Draw() tens of millions of times per run.
package sampler

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
	"golang.org/x/exp/rand"
)

// defaultBatchSize is large enough that distuv's per-draw overhead is
// amortized, small enough to keep the refill latency off the
// percentile-sensitive part of a trial.
const defaultBatchSize = 10000

// Kind identifies which fallback path produced a Sampler.
type Kind string

const (
	KindWeibull  Kind = "weibull"
	KindConstant Kind = "constant"
	KindBootstrap Kind = "bootstrap"
)

// Sampler draws non-negative pseudo-random throughput values.
type Sampler struct {
	kind Kind

	weibull  distuv.Weibull
	constant float64
	pool     []float64 // bootstrap source pool

	rng       *rand.Rand
	batch     []float64
	batchIdx  int
	batchSize int
}

// Fit builds a Sampler for xs using the given RNG source. An empty xs
// yields a constant-zero Sampler; the Engine rejects an empty history as
// ConfigInvalid before it reaches Fit.
func Fit(xs []float64, rng *rand.Rand) *Sampler {
	s := &Sampler{rng: rng, batchSize: defaultBatchSize}

	if len(xs) == 0 {
		s.kind = KindConstant
		s.constant = 0
		return s
	}

	if len(xs) < 2 || allEqual(xs) {
		s.kind = KindConstant
		s.constant = xs[0]
		return s
	}

	k, lambda, ok := fitWeibullMLE(xs)
	if !ok {
		s.kind = KindBootstrap
		s.pool = append([]float64(nil), xs...)
		return s
	}

	s.kind = KindWeibull
	s.weibull = distuv.Weibull{K: k, Lambda: lambda, Src: rng}
	return s
}

// Kind reports which fit strategy is backing this Sampler.
func (s *Sampler) Kind() Kind { return s.kind }

// WithRNG returns a Sampler sharing this one's fitted parameters (Weibull
// shape/scale, constant value, or bootstrap pool) but drawing from an
// independent rng and batch state. The Monte Carlo Engine fits once per
// SimulationConfig and calls WithRNG per trial substream, since Draw's
// batch/index bookkeeping is not safe for concurrent use by multiple
// trials.
func (s *Sampler) WithRNG(rng *rand.Rand) *Sampler {
	clone := &Sampler{
		kind:      s.kind,
		constant:  s.constant,
		pool:      s.pool,
		rng:       rng,
		batchSize: s.batchSize,
	}
	if s.kind == KindWeibull {
		clone.weibull = distuv.Weibull{K: s.weibull.K, Lambda: s.weibull.Lambda, Src: rng}
	}
	return clone
}

// Draw returns one non-negative pseudo-random value.
func (s *Sampler) Draw() float64 {
	if s.batch == nil || s.batchIdx >= len(s.batch) {
		s.refill()
	}
	v := s.batch[s.batchIdx]
	s.batchIdx++
	return v
}

// DrawBatch returns k non-negative pseudo-random values.
func (s *Sampler) DrawBatch(k int) []float64 {
	out := make([]float64, k)
	for i := range out {
		out[i] = s.Draw()
	}
	return out
}

func (s *Sampler) refill() {
	if cap(s.batch) < s.batchSize {
		s.batch = make([]float64, s.batchSize)
	} else {
		s.batch = s.batch[:s.batchSize]
	}

	switch s.kind {
	case KindConstant:
		for i := range s.batch {
			s.batch[i] = s.constant
		}
	case KindBootstrap:
		n := len(s.pool)
		for i := range s.batch {
			s.batch[i] = s.pool[s.rng.Intn(n)]
		}
	default: // KindWeibull
		for i := range s.batch {
			v := s.weibull.Rand()
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				v = 0
			}
			s.batch[i] = v
		}
	}
	s.batchIdx = 0
}

func allEqual(xs []float64) bool {
	for _, v := range xs[1:] {
		if v != xs[0] {
			return false
		}
	}
	return true
}

// fitWeibullMLE fits shape (k) and scale (lambda) by maximum likelihood with
// location fixed at 0, via Newton-Raphson on the shape-only profile
// likelihood equation:
//
//	g(k) = sum(x_i^k * ln(x_i)) / sum(x_i^k) - 1/k - mean(ln(x_i)) = 0
//
// Zeros are left out of the shape equation entirely (ln 0 is undefined)
// and count only in the scale (lambda) estimate; a history with fewer than
// two strictly-positive values cannot be fit and falls back to bootstrap.
func fitWeibullMLE(xs []float64) (k, lambda float64, ok bool) {
	var positives []float64
	for _, v := range xs {
		if v > 0 {
			positives = append(positives, v)
		}
	}
	if len(positives) < 2 {
		return 0, 0, false
	}

	k = 1.2 // initial guess
	const maxIter = 100
	const tol = 1e-8

	for iter := 0; iter < maxIter; iter++ {
		g, dg := weibullShapeEquation(xs, k)
		if dg == 0 || math.IsNaN(dg) || math.IsInf(dg, 0) {
			return 0, 0, false
		}
		step := g / dg
		next := k - step
		if next <= 0 || math.IsNaN(next) || math.IsInf(next, 0) {
			return 0, 0, false
		}
		if math.Abs(next-k) < tol {
			k = next
			break
		}
		k = next
	}

	if k <= 0 || math.IsNaN(k) || math.IsInf(k, 0) {
		return 0, 0, false
	}

	var sumPowK float64
	n := 0
	for _, v := range xs {
		if v >= 0 {
			sumPowK += math.Pow(v, k)
			n++
		}
	}
	if n == 0 || sumPowK <= 0 {
		return 0, 0, false
	}
	lambda = math.Pow(sumPowK/float64(n), 1/k)
	if lambda <= 0 || math.IsNaN(lambda) || math.IsInf(lambda, 0) {
		return 0, 0, false
	}
	return k, lambda, true
}

// weibullShapeEquation evaluates g(k) and its derivative dg/dk at k, used
// by the Newton-Raphson loop in fitWeibullMLE.
func weibullShapeEquation(xs []float64, k float64) (g, dg float64) {
	var sumPowK, sumPowKLn, sumPowKLn2, sumLn float64
	n := 0
	for _, v := range xs {
		if v <= 0 {
			continue
		}
		lnv := math.Log(v)
		powK := math.Pow(v, k)
		sumPowK += powK
		sumPowKLn += powK * lnv
		sumPowKLn2 += powK * lnv * lnv
		sumLn += lnv
		n++
	}
	if n == 0 || sumPowK == 0 {
		return math.NaN(), math.NaN()
	}
	meanLn := sumLn / float64(n)

	g = sumPowKLn/sumPowK - 1/k - meanLn

	// dg/dk = [sumPowKLn2*sumPowK - sumPowKLn^2] / sumPowK^2 + 1/k^2
	dg = (sumPowKLn2*sumPowK-sumPowKLn*sumPowKLn)/(sumPowK*sumPowK) + 1/(k*k)
	return g, dg
}

// Percentile computes the nearest-rank percentile p (0..100) of an already
// sorted slice, the aggregation primitive the Monte Carlo Engine uses for
// SimulationResult.Percentiles.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if !sort.Float64sAreSorted(sorted) {
		sort.Float64s(sorted)
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
