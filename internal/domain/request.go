package domain

import "time"

// SampleScope selects which stored samples an analysis runs over.
// Filter is an optional CEL expression applied after the fetch.
type SampleScope struct {
	From        time.Time `json:"from,omitzero"`
	To          time.Time `json:"to,omitzero"`
	LocationIDs []string  `json:"locationIds,omitempty"`
	Filter      string    `json:"filter,omitempty"`
}

// SampleFilter converts the scope into a repository filter.
func (s SampleScope) SampleFilter() SampleFilter {
	return SampleFilter{From: s.From, To: s.To, LocationIDs: s.LocationIDs}
}

// ClusterRequest asks for clusters and the alerts they raise.
type ClusterRequest struct {
	SampleScope
	Params ClusterParams `json:"params"`
	AsOf   time.Time     `json:"asOf,omitzero"`
}

// HeatmapRequest asks for a per-location intensity map.
type HeatmapRequest struct {
	SampleScope
	Metric     HeatmapMetric     `json:"metric"`
	Resolution HeatmapResolution `json:"resolution,omitempty"`
	AsOf       time.Time         `json:"asOf,omitzero"`
}

// OutbreakRequest compares a baseline period to a current period.
type OutbreakRequest struct {
	BaselineFrom time.Time   `json:"baselineFrom"`
	BaselineTo   time.Time   `json:"baselineTo"`
	CurrentFrom  time.Time   `json:"currentFrom"`
	CurrentTo    time.Time   `json:"currentTo"`
	LocationIDs  []string    `json:"locationIds,omitempty"`
	Filter       string      `json:"filter,omitempty"`
	Sensitivity  Sensitivity `json:"sensitivity,omitempty"`
}

// ForecastRequest asks for a weekly positivity forecast.
type ForecastRequest struct {
	SampleScope
	ForecastPeriod int           `json:"forecastPeriod"`
	Model          ForecastModel `json:"model,omitempty"`
}

// DashboardRequest runs every analysis over one snapshot.
type DashboardRequest struct {
	SampleScope
	Params         ClusterParams     `json:"params"`
	Metric         HeatmapMetric     `json:"metric,omitempty"`
	Resolution     HeatmapResolution `json:"resolution,omitempty"`
	Sensitivity    Sensitivity       `json:"sensitivity,omitempty"`
	CurrentDays    int               `json:"currentDays,omitempty"`
	BaselineDays   int               `json:"baselineDays,omitempty"`
	ForecastPeriod int               `json:"forecastPeriod,omitempty"`
	Model          ForecastModel     `json:"model,omitempty"`
	AsOf           time.Time         `json:"asOf,omitzero"`
}

// Dashboard period defaults.
const (
	DefaultCurrentDays    = 14
	DefaultBaselineDays   = 28
	DefaultForecastPeriod = 4
)

// ClusterReport holds the clusters of one run and the alerts they raised.
type ClusterReport struct {
	AsOf        time.Time       `json:"asOf"`
	SampleCount int             `json:"sampleCount"`
	Clusters    []Cluster       `json:"clusters"`
	Alerts      []OutbreakAlert `json:"alerts"`
	Reason      string          `json:"reason,omitempty"`
}

// Dashboard combines all analyses. Errors maps a failed analysis to its
// message; the failed analysis carries its empty fallback.
type Dashboard struct {
	AsOf        time.Time         `json:"asOf"`
	SampleCount int               `json:"sampleCount"`
	Clusters    ClusterReport     `json:"clusters"`
	Heatmap     HeatmapResult     `json:"heatmap"`
	Outbreak    OutbreakResult    `json:"outbreak"`
	Forecast    ForecastResult    `json:"forecast"`
	Errors      map[string]string `json:"errors,omitempty"`
}
