package montecarlo

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/flowcast/forecaster/internal/apperr"
	"github.com/flowcast/forecaster/internal/model"
)

func validConfig() model.SimulationConfig {
	return model.SimulationConfig{
		TPSamples:       []float64{5, 6, 7, 4, 8, 6, 5, 7},
		Backlog:         50,
		NSimulations:    500,
		Mode:            model.ModeComplete,
		TeamSize:        5,
		MinContributors: 2,
		MaxContributors: 5,
		SCurvePct:       20,
		Seed:            42,
		HasSeed:         true,
	}
}

func TestValidate_RejectsEmptyHistory(t *testing.T) {
	cfg := validConfig()
	cfg.TPSamples = nil
	err := Validate(cfg)
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.ConfigInvalid {
		t.Fatalf("err = %v, want ConfigInvalid", err)
	}
}

func TestValidate_RejectsOutOfRangeNSimulations(t *testing.T) {
	cfg := validConfig()
	cfg.NSimulations = 10
	if err := Validate(cfg); err == nil {
		t.Fatal("expected ConfigInvalid for n_simulations below 100")
	}
}

func TestValidate_RejectsBadContributorBounds(t *testing.T) {
	cfg := validConfig()
	cfg.MinContributors = 6
	cfg.MaxContributors = 5
	if err := Validate(cfg); err == nil {
		t.Fatal("expected ConfigInvalid for min > max contributors")
	}
}

func TestRun_ProducesMonotonePercentiles(t *testing.T) {
	cfg := validConfig()
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p := res.Percentiles
	if !(p.P10 <= p.P25 && p.P25 <= p.P50 && p.P50 <= p.P75 && p.P75 <= p.P85 && p.P85 <= p.P90 && p.P90 <= p.P95) {
		t.Fatalf("percentiles not monotone: %+v", p)
	}
	if res.NTrials != cfg.NSimulations {
		t.Fatalf("NTrials = %d, want %d", res.NTrials, cfg.NSimulations)
	}
	if res.EffortPercentiles == nil {
		t.Fatal("expected effort percentiles in complete mode")
	}
}

func TestRun_Deterministic_SameSeedSameResult(t *testing.T) {
	cfg := validConfig()
	r1, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	r2, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if r1.Percentiles != r2.Percentiles || r1.Mean != r2.Mean || r1.Std != r2.Std {
		t.Fatalf("non-deterministic run: %+v vs %+v", r1, r2)
	}
}

func TestRun_SimpleModeHasNoEffortPercentiles(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = model.ModeSimple
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.EffortPercentiles != nil {
		t.Fatal("simple mode must not report effort percentiles")
	}
}

func TestFingerprint_StableForSameConfig(t *testing.T) {
	cfg := validConfig()
	f1, err := Fingerprint(cfg)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	f2, err := Fingerprint(cfg)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if f1 != f2 {
		t.Fatalf("fingerprint changed across calls: %s vs %s", f1, f2)
	}
}

// within reports whether got falls within tolerance of want. The golden
// tests below check a band rather than exact values: a Weibull fit plus a
// seeded RNG stream pins the distribution's shape, not any one
// implementation's exact draw sequence.
func within(got, want, tolerance float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// A 50-item backlog against ~6 items/week of throughput should finish in
// about 9 weeks: p50≈9, p85≈9, mean≈8.5, p95 bounded.
func TestRun_SimpleModeGoldenScenario(t *testing.T) {
	cfg := model.SimulationConfig{
		TPSamples:    []float64{5, 6, 7, 4, 8, 6, 5, 7},
		Backlog:      50,
		NSimulations: 10000,
		Mode:         model.ModeSimple,
		Seed:         42,
		HasSeed:      true,
	}
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	p := res.Percentiles
	if !within(p.P50, 9, 3) {
		t.Errorf("p50 = %v, want ≈9 (±3)", p.P50)
	}
	if !within(p.P85, 9, 4) {
		t.Errorf("p85 = %v, want ≈9 (±4)", p.P85)
	}
	if !within(res.Mean, 8.5, 3) {
		t.Errorf("mean = %v, want ≈8.5 (±3)", res.Mean)
	}
	if p.P95 > 13 {
		t.Errorf("p95 = %v, want <= ~13", p.P95)
	}
}

// The same backlog under a 10-person roster contributing 2-5 people on an
// S-curve stretches the schedule: p85_weeks≈23, p85_effort≈86
// person-weeks.
func TestRun_CompleteModeGoldenScenario(t *testing.T) {
	cfg := model.SimulationConfig{
		TPSamples:       []float64{5, 6, 7, 4, 8, 6, 5, 7},
		Backlog:         50,
		NSimulations:    10000,
		Mode:            model.ModeComplete,
		TeamSize:        10,
		MinContributors: 2,
		MaxContributors: 5,
		SCurvePct:       20,
		Seed:            42,
		HasSeed:         true,
	}
	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.EffortPercentiles == nil {
		t.Fatal("expected effort percentiles in complete mode")
	}

	if !within(res.Percentiles.P85, 23, 8) {
		t.Errorf("p85_weeks = %v, want ≈23 (±8)", res.Percentiles.P85)
	}
	if !within(res.EffortPercentiles.P85, 86, 30) {
		t.Errorf("p85_effort = %v, want ≈86 (±30)", res.EffortPercentiles.P85)
	}
}

func TestFingerprint_DiffersForDifferentConfig(t *testing.T) {
	cfg1 := validConfig()
	cfg2 := validConfig()
	cfg2.Backlog = 999
	f1, _ := Fingerprint(cfg1)
	f2, _ := Fingerprint(cfg2)
	if f1 == f2 {
		t.Fatal("expected different fingerprints for different configs")
	}
}

// TestRun_SimpleMatchesDegenerateComplete checks that simple mode and a
// degenerate complete configuration (team_size=1, min=max=1, no S-curve,
// no risks) agree on P85 to within one week for the same seed.
func TestRun_SimpleMatchesDegenerateComplete(t *testing.T) {
	simple := model.SimulationConfig{
		TPSamples:    []float64{5, 6, 7, 4, 8, 6, 5, 7},
		Backlog:      50,
		NSimulations: 10000,
		Mode:         model.ModeSimple,
		Seed:         42,
		HasSeed:      true,
	}
	complete := simple
	complete.Mode = model.ModeComplete
	complete.TeamSize = 1
	complete.MinContributors = 1
	complete.MaxContributors = 1
	complete.SCurvePct = 0

	rs, err := Run(context.Background(), simple)
	if err != nil {
		t.Fatalf("simple Run() error = %v", err)
	}
	rc, err := Run(context.Background(), complete)
	if err != nil {
		t.Fatalf("complete Run() error = %v", err)
	}
	if !within(rs.Percentiles.P85, rc.Percentiles.P85, 1) {
		t.Errorf("p85 simple = %v, degenerate complete = %v, want within 1 week",
			rs.Percentiles.P85, rc.Percentiles.P85)
	}
}

// Round-trip serialization: deserialize(serialize(c)) == c for both the
// config and the result.
func TestSerializationRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.LTSamples = []float64{2, 3}
	cfg.SplitRateSamples = []float64{1.0, 1.2}
	cfg.Risks = []model.Risk{{Probability: 0.3, LowWeeks: 1, LikelyWeeks: 2, HighWeeks: 4}}

	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	var cfg2 model.SimulationConfig
	if err := json.Unmarshal(b, &cfg2); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	if !reflect.DeepEqual(cfg, cfg2) {
		t.Errorf("config round trip mismatch:\n got %+v\nwant %+v", cfg2, cfg)
	}

	res, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	b, err = json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var res2 model.SimulationResult
	if err := json.Unmarshal(b, &res2); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !reflect.DeepEqual(res, res2) {
		t.Errorf("result round trip mismatch")
	}
}
