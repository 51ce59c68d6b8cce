package domain

import "time"

// ForecastModel names a forecasting strategy.
type ForecastModel string

const (
	ModelSeasonal   ForecastModel = "seasonal"
	ModelRegression ForecastModel = "regression"
	ModelSmoothing  ForecastModel = "smoothing"
	ModelEnsemble   ForecastModel = "ensemble"
)

// ConfidenceInterval bounds a predicted rate.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ForecastPoint is the prediction for one future period.
type ForecastPoint struct {
	Date                    time.Time          `json:"date"`
	PredictedPositivityRate float64            `json:"predictedPositivityRate"`
	ConfidenceInterval      ConfidenceInterval `json:"confidenceInterval"`
	RiskLabel               RiskLevel          `json:"riskLabel"`
	ContributingFactors     []string           `json:"contributingFactors"`
}

// SeriesPoint is one historical bucket of the positivity series.
type SeriesPoint struct {
	Start     time.Time `json:"start"`
	Positives int       `json:"positives"`
	Total     int       `json:"total"`
	Rate      float64   `json:"rate"`
}

// AccuracyMetrics are computed by backtesting the model on its own history.
// They exist only when at least one one-step-ahead prediction was scored.
type AccuracyMetrics struct {
	MAPE        float64 `json:"mape"`
	RMSE        float64 `json:"rmse"`
	R2          float64 `json:"r2"`
	HoldoutSize int     `json:"holdoutSize"`
}

// ForecastResult is the output of one forecast run.
type ForecastResult struct {
	Model           ForecastModel   `json:"model"`
	Forecast        []ForecastPoint `json:"forecast"`
	ModelAccuracy   *AccuracyMetrics `json:"modelAccuracy"`
	AccuracyReason  string           `json:"accuracyReason,omitempty"`
	History         []SeriesPoint   `json:"history"`
	Recommendations []string        `json:"recommendations"`
	Reason          string          `json:"reason,omitempty"`
}
