package outbreak

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

var start = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func sample(id, loc string, lat, lon float64, at time.Time, positive bool) domain.SampleRecord {
	r := domain.ResultNegative
	if positive {
		r = domain.ResultPositive
	}
	return domain.SampleRecord{ID: id, LocationID: loc, Latitude: lat, Longitude: lon, CollectedAt: at, Result: r}
}

// baselinePeriod is 100 samples over 28 days with 2 positives.
func baselinePeriod() []domain.SampleRecord {
	out := make([]domain.SampleRecord, 100)
	for i := range out {
		out[i] = sample(fmt.Sprintf("b%03d", i), fmt.Sprintf("grid-%d", i%9),
			33.40+float64(i%3)*0.05, -112.0+float64((i/3)%3)*0.05,
			start.Add(time.Duration(i)*6*time.Hour), i%50 == 0)
	}
	return out
}

// risingPeriod is 120 samples two hours apart whose six equal time slices
// carry 0..5 positives each. Positives sit at ten locations in two tight groups.
func risingPeriod() []domain.SampleRecord {
	cur := start.Add(28 * 24 * time.Hour)
	out := make([]domain.SampleRecord, 120)
	k := 0
	for i := range out {
		at := cur.Add(time.Duration(i) * 2 * time.Hour)
		if i%20 < i/20 {
			loc := k % 10
			lat, lon := 33.40+float64(loc%5)*0.001, -112.0+float64(loc%5)*0.001
			if loc >= 5 {
				lat, lon = lat+0.1, lon+0.1
			}
			out[i] = sample(fmt.Sprintf("c%03d", i), fmt.Sprintf("hot-%d", loc), lat, lon, at, true)
			k++
			continue
		}
		out[i] = sample(fmt.Sprintf("c%03d", i), fmt.Sprintf("grid-%d", i%9),
			33.40+float64(i%3)*0.05, -112.0+float64((i/3)%3)*0.05, at, false)
	}
	return out
}

func TestProportionTest(t *testing.T) {
	var baseline, current []domain.SampleRecord
	for i := 0; i < 100; i++ {
		baseline = append(baseline, sample(fmt.Sprintf("b%d", i), "x", 0, 0, start, i < 10))
		current = append(current, sample(fmt.Sprintf("c%d", i), "x", 0, 0, start, i < 20))
	}
	r := ProportionTest{}.Run(baseline, current)
	if math.Abs(r.Statistic-1.980) > 0.001 {
		t.Errorf("expected z 1.980, got %.4f", r.Statistic)
	}
	if math.Abs(r.PValue-0.0238) > 0.0005 {
		t.Errorf("expected p 0.0238, got %.4f", r.PValue)
	}

	if r := (ProportionTest{}).Run(nil, current); r.PValue != 1 {
		t.Errorf("expected p 1 without baseline, got %v", r.PValue)
	}
	none := []domain.SampleRecord{sample("n", "x", 0, 0, start, false)}
	if r := (ProportionTest{}).Run(none, none); r.PValue != 1 {
		t.Errorf("expected p 1 with zero variance, got %v", r.PValue)
	}
}

func TestTrendTest(t *testing.T) {
	r := TrendTest{Windows: 6}.Run(nil, risingPeriod())
	if r.Statistic <= 0 {
		t.Fatalf("expected positive trend statistic, got %v", r.Statistic)
	}
	// S=15 over 6 windows: z = 14/sqrt(85/3)
	if want := 14 / math.Sqrt(85.0/3); math.Abs(r.Statistic-want) > 1e-9 {
		t.Errorf("expected z %.4f, got %.4f", want, r.Statistic)
	}
	if r.PValue > 0.01 {
		t.Errorf("expected p < 0.01, got %v", r.PValue)
	}

	flat := baselinePeriod()
	for i := range flat {
		flat[i].Result = domain.ResultNegative
	}
	if r := (TrendTest{Windows: 6}).Run(nil, flat); r.PValue != 1 {
		t.Errorf("expected p 1 for constant rates, got %v", r.PValue)
	}
	if r := (TrendTest{Windows: 6}).Run(nil, flat[:1]); r.PValue != 1 {
		t.Errorf("expected p 1 for a single window, got %v", r.PValue)
	}
}

func TestSpatialTest(t *testing.T) {
	t.Run("Clustered", func(t *testing.T) {
		r := SpatialTest{}.Run(nil, risingPeriod())
		if !(r.PValue < DefaultAlpha) {
			t.Errorf("expected significant clustering, got p %v (%s)", r.PValue, r.Result)
		}
	})

	t.Run("Dispersed", func(t *testing.T) {
		var cur []domain.SampleRecord
		for i := 0; i < 9; i++ {
			cur = append(cur, sample(fmt.Sprintf("d%d", i), fmt.Sprintf("grid-%d", i),
				33.40+float64(i%3)*0.05, -112.0+float64(i/3)*0.05, start, true))
		}
		r := SpatialTest{}.Run(nil, cur)
		if r.PValue < 0.5 {
			t.Errorf("expected no clustering on a regular grid, got p %v (%s)", r.PValue, r.Result)
		}
	})

	t.Run("TooFewLocations", func(t *testing.T) {
		cur := []domain.SampleRecord{
			sample("a", "l1", 0, 0, start, true),
			sample("b", "l2", 1, 1, start, true),
		}
		if r := (SpatialTest{}).Run(nil, cur); r.PValue != 1 {
			t.Errorf("expected p 1, got %v", r.PValue)
		}
	})
}

func TestDetect(t *testing.T) {
	d := NewDetector()

	t.Run("RisingOutbreak", func(t *testing.T) {
		res, err := d.Detect(baselinePeriod(), risingPeriod(), domain.SensitivityHigh)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.OutbreakDetected {
			t.Fatalf("expected outbreak, tests: %+v", res.StatisticalTests)
		}
		if res.Confidence != 100 {
			t.Errorf("expected confidence 100, got %v", res.Confidence)
		}
		if res.Severity != domain.SeverityHigh {
			t.Errorf("expected HIGH severity, got %s", res.Severity)
		}
		if res.OutbreakType != domain.OutbreakMixed {
			t.Errorf("expected MIXED, got %s", res.OutbreakType)
		}
		if len(res.StatisticalTests) != 3 || len(res.Recommendations) == 0 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("IdenticalPeriods", func(t *testing.T) {
		period := risingPeriod()
		for _, level := range []domain.Sensitivity{domain.SensitivityLow, domain.SensitivityMedium, domain.SensitivityHigh} {
			res, err := d.Detect(period, period, level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.OutbreakDetected {
				t.Errorf("%s: identical periods declared an outbreak", level)
			}
			if res.OutbreakType != domain.OutbreakNone {
				t.Errorf("%s: expected NONE, got %s", level, res.OutbreakType)
			}
		}
	})

	t.Run("EmptyCurrent", func(t *testing.T) {
		res, err := d.Detect(baselinePeriod(), nil, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.OutbreakDetected || res.Reason == "" {
			t.Errorf("expected no outbreak with a reason, got %+v", res)
		}
	})

	t.Run("InvalidSensitivity", func(t *testing.T) {
		if _, err := d.Detect(nil, nil, "EXTREME"); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("InvalidSample", func(t *testing.T) {
		bad := risingPeriod()
		bad[3].Latitude = math.NaN()
		if _, err := d.Detect(nil, bad, domain.SensitivityLow); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestShapeClassifier(t *testing.T) {
	c := NewShapeClassifier()
	day := 24 * time.Hour

	t.Run("PointSource", func(t *testing.T) {
		var cur []domain.SampleRecord
		for i := 0; i < 8; i++ {
			cur = append(cur, sample(fmt.Sprintf("p%d", i), "trap-1", 33.4, -112, start.Add(time.Duration(i)*9*time.Hour), true))
		}
		cur = append(cur, sample("q", "trap-9", 33.6, -112.3, start, true))
		if got := c.Classify(cur); got != domain.OutbreakPointSource {
			t.Errorf("expected POINT_SOURCE, got %s", got)
		}
	})

	t.Run("Propagated", func(t *testing.T) {
		var cur []domain.SampleRecord
		for i := 0; i < 4; i++ {
			cur = append(cur, sample(fmt.Sprintf("p%d", i), fmt.Sprintf("trap-%d", i),
				33.4+float64(i)*0.05, -112, start.Add(time.Duration(i)*6*day), true))
		}
		if got := c.Classify(cur); got != domain.OutbreakPropagated {
			t.Errorf("expected PROPAGATED, got %s", got)
		}
	})

	t.Run("Mixed", func(t *testing.T) {
		var cur []domain.SampleRecord
		for i := 0; i < 4; i++ {
			cur = append(cur, sample(fmt.Sprintf("p%d", i), fmt.Sprintf("trap-%d", i),
				33.4+float64(i)*0.05, -112, start.Add(time.Duration(i)*day), true))
		}
		if got := c.Classify(cur); got != domain.OutbreakMixed {
			t.Errorf("expected MIXED, got %s", got)
		}
	})

	t.Run("NoPositives", func(t *testing.T) {
		if got := c.Classify(baselinePeriod()[1:49]); got != domain.OutbreakNone {
			t.Errorf("expected NONE, got %s", got)
		}
	})
}
