package alert

import "github.com/opensource-health/kestrel/internal/domain"

var severityActions = map[domain.Severity][]string{
	domain.SeverityCritical: {
		"Initiate emergency vector control, including adulticiding, across the affected area",
		"Issue a public health advisory through local media channels",
		"Alert healthcare providers to enhance case detection and reporting",
	},
	domain.SeverityHigh: {
		"Deploy targeted larviciding around the cluster centroid",
		"Increase trap density within the affected radius",
		"Notify local public health partners",
	},
	domain.SeverityModerate: {
		"Increase surveillance frequency at affected trap locations",
		"Inspect the surrounding area for standing water and breeding sites",
	},
	domain.SeverityLow: {
		"Continue routine surveillance",
	},
}

var typeActions = map[domain.AlertType]string{
	domain.AlertEmergence: "Confirm positives with repeat testing and investigate nearby breeding sources",
	domain.AlertExpansion: "Extend surveillance to locations adjacent to the cluster",
	domain.AlertPeak:      "Sustain control measures through the peak period",
	domain.AlertDecline:   "Keep monitoring until positivity returns to baseline",
}

// SeverityActions lists the actions for a severity, most urgent first. Each
// severity includes the actions of every tier below it down to MODERATE.
func SeverityActions(severity domain.Severity) []string {
	var tiers []domain.Severity
	switch severity {
	case domain.SeverityCritical:
		tiers = []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityModerate}
	case domain.SeverityHigh:
		tiers = []domain.Severity{domain.SeverityHigh, domain.SeverityModerate}
	case domain.SeverityModerate:
		tiers = []domain.Severity{domain.SeverityModerate}
	default:
		tiers = []domain.Severity{domain.SeverityLow}
	}

	out := make([]string, 0, 8)
	for _, s := range tiers {
		out = append(out, severityActions[s]...)
	}
	return out
}

// Recommendations lists the severity actions followed by the action for the alert type.
func Recommendations(severity domain.Severity, typ domain.AlertType) []string {
	out := SeverityActions(severity)
	if action, ok := typeActions[typ]; ok {
		out = append(out, action)
	}
	return out
}
