package domain

import (
	"fmt"
	"strings"
)

// Sensitivity is how many statistical tests must agree before an outbreak is declared.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "LOW"
	SensitivityMedium Sensitivity = "MEDIUM"
	SensitivityHigh   Sensitivity = "HIGH"
)

// ParseSensitivity accepts any letter case and defaults an empty value to MEDIUM.
func ParseSensitivity(s string) (Sensitivity, error) {
	switch Sensitivity(strings.ToUpper(strings.TrimSpace(s))) {
	case "", SensitivityMedium:
		return SensitivityMedium, nil
	case SensitivityLow:
		return SensitivityLow, nil
	case SensitivityHigh:
		return SensitivityHigh, nil
	}
	return "", fmt.Errorf("%w: unknown sensitivity level %q", ErrInvalidInput, s)
}

// RequiredTests is the number of significant tests the level demands.
func (s Sensitivity) RequiredTests() int {
	switch s {
	case SensitivityLow:
		return 1
	case SensitivityHigh:
		return 3
	}
	return 2
}

// OutbreakType characterises how positives are spread.
type OutbreakType string

const (
	OutbreakPointSource OutbreakType = "POINT_SOURCE"
	OutbreakPropagated  OutbreakType = "PROPAGATED"
	OutbreakMixed       OutbreakType = "MIXED"
	OutbreakNone        OutbreakType = "NONE"
)

// StatisticalTestResult is the outcome of one independent test.
type StatisticalTestResult struct {
	Name        string  `json:"name"`
	Result      string  `json:"result"`
	Statistic   float64 `json:"statistic"`
	PValue      float64 `json:"pValue"`
	Significant bool    `json:"significant"`
}

// OutbreakResult is the verdict of comparing a baseline period to a current one.
type OutbreakResult struct {
	OutbreakDetected bool                    `json:"outbreakDetected"`
	Confidence       float64                 `json:"confidence"`
	OutbreakType     OutbreakType            `json:"outbreakType"`
	Severity         Severity                `json:"severity"`
	BaselineRate     float64                 `json:"baselineRate"`
	CurrentRate      float64                 `json:"currentRate"`
	BaselineCount    int                     `json:"baselineCount"`
	CurrentCount     int                     `json:"currentCount"`
	StatisticalTests []StatisticalTestResult `json:"statisticalTests"`
	Recommendations  []string                `json:"recommendations"`
	Reason           string                  `json:"reason,omitempty"`
}

// NoOutbreak is the neutral verdict used when detection cannot run.
func NoOutbreak(reason string) OutbreakResult {
	return OutbreakResult{
		OutbreakType:     OutbreakNone,
		Severity:         SeverityLow,
		StatisticalTests: []StatisticalTestResult{},
		Recommendations:  []string{},
		Reason:           reason,
	}
}
