// Package alert turns risk-qualifying clusters into typed outbreak alerts.
package alert

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-health/kestrel/internal/domain"
)

var alertNamespace = uuid.MustParse("0c9e7b1d-3a64-4f28-8d50-c4b2e9a6f713")

// Default shape thresholds, in days.
const (
	DefaultActiveWindowDays  = 14
	DefaultResolvedDays      = 28
	DefaultEmergenceDays     = 7
	DefaultPeakToleranceDays = 3
)

// Generator classifies clusters into alerts. All "now"-dependent decisions
// use the asOf time passed by the caller.
type Generator struct {
	// ActiveWindowDays is how recently a cluster must have ended to count as active.
	ActiveWindowDays float64

	// ResolvedDays is the age past which a declining cluster is RESOLVED.
	ResolvedDays float64

	// EmergenceDays is the longest duration of an emerging cluster.
	EmergenceDays float64

	// PeakToleranceDays is how close asOf must be to the peak for PEAK.
	PeakToleranceDays float64

	// MinRisk is the lowest risk level that raises an alert.
	MinRisk domain.RiskLevel
}

// NewGenerator creates a generator with the default thresholds.
func NewGenerator() *Generator {
	return &Generator{
		ActiveWindowDays:  DefaultActiveWindowDays,
		ResolvedDays:      DefaultResolvedDays,
		EmergenceDays:     DefaultEmergenceDays,
		PeakToleranceDays: DefaultPeakToleranceDays,
		MinRisk:           domain.RiskModerate,
	}
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}

// Classify derives the alert type and status from the cluster's temporal shape.
// Rules are checked in order and the first match wins:
//
//	DECLINE    growth < 0 and the cluster ended more than ActiveWindowDays ago
//	EMERGENCE  duration <= EmergenceDays and the peak falls in the last quarter
//	EXPANSION  growth > 0 and the cluster ended within ActiveWindowDays
//	PEAK       asOf within PeakToleranceDays of the peak
//	DECLINE    growth < 0
//	PEAK       otherwise
//
// Only DECLINE alerts leave ACTIVE: MONITORING once inactive, RESOLVED after ResolvedDays.
func (g *Generator) Classify(c domain.Cluster, asOf time.Time) (domain.AlertType, domain.AlertStatus) {
	r := c.TimeRange
	sinceEnd := days(asOf.Sub(r.End))
	duration := r.Days()
	active := sinceEnd <= g.ActiveWindowDays

	switch {
	case c.GrowthRate < 0 && !active:
		if sinceEnd > g.ResolvedDays {
			return domain.AlertDecline, domain.AlertResolved
		}
		return domain.AlertDecline, domain.AlertMonitoring
	case duration <= g.EmergenceDays && days(r.End.Sub(r.PeakDate)) <= duration/4:
		return domain.AlertEmergence, domain.AlertActive
	case c.GrowthRate > 0 && active:
		return domain.AlertExpansion, domain.AlertActive
	case math.Abs(days(asOf.Sub(r.PeakDate))) <= g.PeakToleranceDays:
		return domain.AlertPeak, domain.AlertActive
	case c.GrowthRate < 0:
		return domain.AlertDecline, domain.AlertMonitoring
	}
	return domain.AlertPeak, domain.AlertActive
}

// Generate returns an alert for c when its risk reaches MinRisk.
func (g *Generator) Generate(c domain.Cluster, asOf time.Time) (domain.OutbreakAlert, bool) {
	if !c.RiskLevel.AtLeast(g.MinRisk) {
		return domain.OutbreakAlert{}, false
	}
	typ, status := g.Classify(c, asOf)
	severity := domain.SeverityFromRisk(c.RiskLevel)

	return domain.OutbreakAlert{
		ID:              uuid.NewSHA1(alertNamespace, []byte(c.ID+"|"+string(typ))).String(),
		Type:            typ,
		Severity:        severity,
		Cluster:         c,
		TriggerDate:     asOf,
		Status:          status,
		Recommendations: Recommendations(severity, typ),
		AffectedArea: domain.AffectedArea{
			LocationIDs:         c.LocationIDs,
			Centroid:            c.Centroid,
			RadiusKm:            c.RadiusKm,
			EstimatedPopulation: c.EstimatedPopulation,
		},
	}, true
}

// GenerateAll raises alerts for every qualifying cluster, keeping cluster order.
func (g *Generator) GenerateAll(clusters []domain.Cluster, asOf time.Time) []domain.OutbreakAlert {
	alerts := make([]domain.OutbreakAlert, 0)
	for _, c := range clusters {
		if a, ok := g.Generate(c, asOf); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}
