package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AnalysisKind names the analysis a report holds.
type AnalysisKind string

const (
	KindClusters  AnalysisKind = "clusters"
	KindHeatmap   AnalysisKind = "heatmap"
	KindOutbreak  AnalysisKind = "outbreak"
	KindForecast  AnalysisKind = "forecast"
	KindDashboard AnalysisKind = "dashboard"
)

// AnalysisReport is a persisted analysis result.
type AnalysisReport struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenantId"`
	Kind      AnalysisKind    `json:"kind"`
	CreatedAt time.Time       `json:"createdAt"`
	Request   json.RawMessage `json:"request"`
	Result    json.RawMessage `json:"result"`
}

// reportNamespace scopes name-based report identifiers.
var reportNamespace = uuid.MustParse("6f1c3a52-0d8e-4b7a-9c35-2e4f8a1b7d60")

// ReportID derives a stable identifier from the tenant, kind and encoded request.
// Re-running an identical request maps to the same report.
func ReportID(tenantID string, kind AnalysisKind, request []byte) string {
	name := make([]byte, 0, len(tenantID)+len(kind)+len(request)+2)
	name = append(name, tenantID...)
	name = append(name, '|')
	name = append(name, kind...)
	name = append(name, '|')
	name = append(name, request...)
	return uuid.NewSHA1(reportNamespace, name).String()
}
