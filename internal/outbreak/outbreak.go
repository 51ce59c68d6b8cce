// Package outbreak compares a baseline period with a current period using
// independent statistical tests and characterises any detected outbreak.
package outbreak

import (
	"fmt"

	"github.com/opensource-health/kestrel/internal/alert"
	"github.com/opensource-health/kestrel/internal/domain"
)

// DefaultAlpha is the significance level of every test.
const DefaultAlpha = 0.05

// DefaultTrendWindows is the number of sub-windows of the trend test.
const DefaultTrendWindows = 6

// Severity thresholds on the rise in positivity and the current sample count.
var severityTiers = []struct {
	severity domain.Severity
	minRise  float64
	minCount int
}{
	{domain.SeverityCritical, 0.15, 50},
	{domain.SeverityHigh, 0.10, 30},
	{domain.SeverityModerate, 0.05, 10},
}

var typeActions = map[domain.OutbreakType]string{
	domain.OutbreakPointSource: "Locate and eliminate the common breeding source near the dominant location",
	domain.OutbreakPropagated:  "Expand surveillance along the path of spread and treat newly affected locations",
	domain.OutbreakMixed:       "Combine source reduction at hotspots with area-wide surveillance",
}

// Detector runs the statistical tests and classifies the outbreak.
type Detector struct {
	Tests      []StatisticalTest
	Classifier SpreadClassifier
	Alpha      float64
}

// NewDetector returns a detector with the proportion, trend and spatial tests.
func NewDetector() *Detector {
	return &Detector{
		Tests: []StatisticalTest{
			ProportionTest{},
			TrendTest{Windows: DefaultTrendWindows},
			SpatialTest{},
		},
		Classifier: NewShapeClassifier(),
		Alpha:      DefaultAlpha,
	}
}

// Detect compares the two periods. An outbreak is declared when at least the
// sensitivity's number of tests is significant and current positivity exceeds
// the baseline. Empty periods yield a "no outbreak" verdict with a reason.
func (d *Detector) Detect(baseline, current []domain.SampleRecord, sensitivity domain.Sensitivity) (domain.OutbreakResult, error) {
	level, err := domain.ParseSensitivity(string(sensitivity))
	if err != nil {
		return domain.OutbreakResult{}, err
	}
	if err := validate(baseline); err != nil {
		return domain.OutbreakResult{}, err
	}
	if err := validate(current); err != nil {
		return domain.OutbreakResult{}, err
	}

	res := domain.NoOutbreak("")
	res.BaselineRate = domain.PositivityRate(baseline)
	res.CurrentRate = domain.PositivityRate(current)
	res.BaselineCount = len(baseline)
	res.CurrentCount = len(current)

	significant := 0
	for _, t := range d.Tests {
		r := t.Run(baseline, current)
		r.Significant = r.PValue < d.Alpha
		if r.Significant {
			significant++
		}
		res.StatisticalTests = append(res.StatisticalTests, r)
	}
	if len(d.Tests) > 0 {
		res.Confidence = float64(significant) / float64(len(d.Tests)) * 100
	}

	required := min(level.RequiredTests(), len(d.Tests))
	switch {
	case len(current) == 0:
		res.Reason = "no samples in the current period"
	case len(baseline) == 0:
		res.Reason = "no samples in the baseline period"
	case significant >= required && required > 0 && res.CurrentRate > res.BaselineRate:
		res.OutbreakDetected = true
	}

	if !res.OutbreakDetected {
		res.Recommendations = []string{"Continue routine surveillance at the current sampling frequency"}
		return res, nil
	}

	res.Severity = severityFor(res.CurrentRate-res.BaselineRate, len(current))
	res.OutbreakType = domain.OutbreakMixed
	if d.Classifier != nil {
		res.OutbreakType = d.Classifier.Classify(current)
	}
	res.Recommendations = alert.SeverityActions(res.Severity)
	if action, ok := typeActions[res.OutbreakType]; ok {
		res.Recommendations = append(res.Recommendations, action)
	}
	return res, nil
}

func severityFor(rise float64, n int) domain.Severity {
	for _, t := range severityTiers {
		if rise >= t.minRise && n >= t.minCount {
			return t.severity
		}
	}
	return domain.SeverityLow
}

func validate(samples []domain.SampleRecord) error {
	for i := range samples {
		if !samples[i].Coordinate().Valid() {
			return fmt.Errorf("%w: sample %s has invalid coordinate", domain.ErrInvalidInput, samples[i].ID)
		}
		if samples[i].CollectedAt.IsZero() {
			return fmt.Errorf("%w: sample %s has no collection timestamp", domain.ErrInvalidInput, samples[i].ID)
		}
	}
	return nil
}
