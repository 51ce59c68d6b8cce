package domain

import "time"

// AlertType describes the temporal shape of an outbreak.
type AlertType string

const (
	AlertEmergence AlertType = "EMERGENCE"
	AlertExpansion AlertType = "EXPANSION"
	AlertPeak      AlertType = "PEAK"
	AlertDecline   AlertType = "DECLINE"
)

// AlertStatus is the lifecycle state suggested at generation time.
// Tracking transitions across runs belongs to the caller.
type AlertStatus string

const (
	AlertActive     AlertStatus = "ACTIVE"
	AlertMonitoring AlertStatus = "MONITORING"
	AlertResolved   AlertStatus = "RESOLVED"
)

// Severity grades alerts and outbreak verdicts.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityFromRisk maps a cluster risk tier to the matching severity.
func SeverityFromRisk(r RiskLevel) Severity {
	switch r {
	case RiskCritical:
		return SeverityCritical
	case RiskHigh:
		return SeverityHigh
	case RiskModerate:
		return SeverityModerate
	}
	return SeverityLow
}

// AffectedArea summarises where an alert applies.
type AffectedArea struct {
	LocationIDs         []string   `json:"locationIds"`
	Centroid            Coordinate `json:"centroid"`
	RadiusKm            float64    `json:"radiusKm"`
	EstimatedPopulation *int       `json:"estimatedPopulation,omitempty"`
}

// OutbreakAlert is raised from a cluster whose risk is MODERATE or above.
type OutbreakAlert struct {
	ID              string       `json:"id"`
	TenantID        string       `json:"tenantId,omitempty"`
	Type            AlertType    `json:"type"`
	Severity        Severity     `json:"severity"`
	Cluster         Cluster      `json:"cluster"`
	TriggerDate     time.Time    `json:"triggerDate"`
	Status          AlertStatus  `json:"status"`
	Recommendations []string     `json:"recommendations"`
	AffectedArea    AffectedArea `json:"affectedArea"`
}
