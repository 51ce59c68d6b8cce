package risk

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

var t0 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// samples builds n co-located samples one hour apart; positive[i] marks positives.
func samples(positive ...bool) []domain.SampleRecord {
	out := make([]domain.SampleRecord, len(positive))
	for i, p := range positive {
		r := domain.ResultNegative
		if p {
			r = domain.ResultPositive
		}
		out[i] = domain.SampleRecord{
			ID:          fmt.Sprintf("s-%02d", i),
			Latitude:    33.45,
			Longitude:   -112.07,
			CollectedAt: t0.Add(time.Duration(i) * time.Hour),
			Result:      r,
			LocationID:  "trap-1",
		}
	}
	return out
}

func TestLevel(t *testing.T) {
	tests := []struct {
		rate      float64
		positives int
		want      domain.RiskLevel
	}{
		{0.15, 5, domain.RiskCritical},
		{0.50, 10, domain.RiskCritical},
		{0.15, 4, domain.RiskHigh},
		{0.10, 3, domain.RiskHigh},
		{0.14, 2, domain.RiskModerate},
		{0.05, 2, domain.RiskModerate},
		{0.90, 1, domain.RiskLow},
		{0.049, 100, domain.RiskLow},
		{0, 0, domain.RiskLow},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.3f/%d", tt.rate, tt.positives), func(t *testing.T) {
			if got := Level(tt.rate, tt.positives); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLevelMonotonic(t *testing.T) {
	for p := 0; p <= 10; p++ {
		prev := -1
		for r := 0.0; r <= 1.0; r += 0.01 {
			rank := Level(r, p).Rank()
			if rank < prev {
				t.Fatalf("rank dropped at rate %.2f positives %d", r, p)
			}
			prev = rank
			if p > 0 && Level(r, p-1).Rank() > rank {
				t.Fatalf("more positives lowered the tier at rate %.2f", r)
			}
		}
	}
}

func TestGrowthRate(t *testing.T) {
	t.Run("FirstHalfWithoutPositives", func(t *testing.T) {
		g := GrowthRate(samples(false, false, false, true, true, true))
		if g != 0 || math.IsNaN(g) {
			t.Errorf("expected exactly 0, got %v", g)
		}
	})

	t.Run("Doubling", func(t *testing.T) {
		// first half 1/4, second half 2/4
		g := GrowthRate(samples(true, false, false, false, true, true, false, false))
		if math.Abs(g-1.0) > 1e-12 {
			t.Errorf("expected 1.0, got %v", g)
		}
	})

	t.Run("Decline", func(t *testing.T) {
		g := GrowthRate(samples(true, true, false, false))
		if g != -1 {
			t.Errorf("expected -1, got %v", g)
		}
	})

	t.Run("InputOrderIgnored", func(t *testing.T) {
		s := samples(true, false, false, false, true, true, false, false)
		rev := make([]domain.SampleRecord, len(s))
		for i := range s {
			rev[len(s)-1-i] = s[i]
		}
		if GrowthRate(s) != GrowthRate(rev) {
			t.Error("growth rate depends on input order")
		}
	})

	t.Run("SingleMember", func(t *testing.T) {
		if g := GrowthRate(samples(true)); g != 0 {
			t.Errorf("expected 0, got %v", g)
		}
	})
}

func TestClassify(t *testing.T) {
	t.Run("ScenarioA", func(t *testing.T) {
		a := Classify(samples(true, false, false, false, false, false))
		if a.RiskLevel != domain.RiskLow {
			t.Errorf("expected LOW, got %s", a.RiskLevel)
		}
		if a.PositiveCount != 1 || a.TotalCount != 6 {
			t.Errorf("unexpected counts %d/%d", a.PositiveCount, a.TotalCount)
		}
		if math.Abs(a.PositivityRate-1.0/6) > 1e-12 {
			t.Errorf("expected rate 1/6, got %v", a.PositivityRate)
		}
	})

	t.Run("Confidence", func(t *testing.T) {
		// 10 co-located samples, 2 positive: 0.4*0.5 + 0.4*1 + 0.2*1
		a := Classify(samples(true, true, false, false, false, false, false, false, false, false))
		if math.Abs(a.Confidence-80) > 1e-9 {
			t.Errorf("expected confidence 80, got %v", a.Confidence)
		}
	})

	t.Run("SpreadLowersConfidence", func(t *testing.T) {
		s := samples(true, false)
		s[1].Latitude += 0.2 // ~22 km
		if c := SpatialConsistency(s); c != 0 {
			t.Errorf("expected consistency 0, got %v", c)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		a := Classify(nil)
		if a.RiskLevel != domain.RiskLow || a.Confidence != 0 || a.PositivityRate != 0 {
			t.Errorf("unexpected assessment %+v", a)
		}
	})
}
