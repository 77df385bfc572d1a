package sampler

import (
	"testing"

	"golang.org/x/exp/rand"
)

func TestFit_ConstantHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := Fit([]float64{5, 5, 5}, rng)
	if s.Kind() != KindConstant {
		t.Fatalf("Kind() = %v, want constant", s.Kind())
	}
	for i := 0; i < 100; i++ {
		if v := s.Draw(); v != 5 {
			t.Fatalf("Draw() = %v, want 5", v)
		}
	}
}

func TestFit_SingleSampleIsConstant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := Fit([]float64{7}, rng)
	if s.Kind() != KindConstant {
		t.Fatalf("Kind() = %v, want constant", s.Kind())
	}
	if v := s.Draw(); v != 7 {
		t.Fatalf("Draw() = %v, want 7", v)
	}
}

func TestFit_EmptyHistoryIsConstantZero(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := Fit(nil, rng)
	if v := s.Draw(); v != 0 {
		t.Fatalf("Draw() = %v, want 0", v)
	}
}

func TestDraw_NonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := Fit([]float64{5, 6, 7, 4, 8, 6, 5, 7}, rng)
	for i := 0; i < 50000; i++ {
		if v := s.Draw(); v < 0 {
			t.Fatalf("Draw() = %v, want >= 0", v)
		}
	}
}

func TestFit_WeibullForVariedHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := Fit([]float64{5, 6, 7, 4, 8, 6, 5, 7}, rng)
	if s.Kind() != KindWeibull {
		t.Fatalf("Kind() = %v, want weibull", s.Kind())
	}
}

func TestDrawBatch_Length(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := Fit([]float64{5, 6, 7, 4, 8, 6, 5, 7}, rng)
	batch := s.DrawBatch(25000) // exercises more than one internal refill
	if len(batch) != 25000 {
		t.Fatalf("len(batch) = %d, want 25000", len(batch))
	}
	for _, v := range batch {
		if v < 0 {
			t.Fatalf("batch contains negative value %v", v)
		}
	}
}

func TestPercentile_Monotone(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	p10 := Percentile(sorted, 10)
	p50 := Percentile(sorted, 50)
	p95 := Percentile(sorted, 95)
	if !(p10 <= p50 && p50 <= p95) {
		t.Fatalf("percentiles not monotone: p10=%v p50=%v p95=%v", p10, p50, p95)
	}
}
