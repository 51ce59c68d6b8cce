// Package forecast projects weekly positivity with pluggable models and
// reports accuracy from a rolling-origin backtest over the history.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/risk"
)

// Defaults for NewForecaster.
const (
	DefaultBucketDays     = 7
	DefaultMinBuckets     = 4
	DefaultMaxPeriods     = 52
	DefaultSeasonalPeriod = 4
	DefaultZ              = 1.96
)

// Forecaster selects a model by name and produces forecasts.
type Forecaster struct {
	Models     map[domain.ForecastModel]Model
	BucketDays int
	MinBuckets int
	MaxPeriods int
	Z          float64
}

// NewForecaster returns a forecaster with seasonal, regression, smoothing and
// ensemble models.
func NewForecaster() *Forecaster {
	seasonal := SeasonalModel{Period: DefaultSeasonalPeriod}
	regression := RegressionModel{}
	smoothing := SmoothingModel{Alpha: 0.5, Beta: 0.3}
	return &Forecaster{
		Models: map[domain.ForecastModel]Model{
			domain.ModelSeasonal:   seasonal,
			domain.ModelRegression: regression,
			domain.ModelSmoothing:  smoothing,
			domain.ModelEnsemble:   EnsembleModel{Members: []Model{seasonal, regression, smoothing}},
		},
		BucketDays: DefaultBucketDays,
		MinBuckets: DefaultMinBuckets,
		MaxPeriods: DefaultMaxPeriods,
		Z:          DefaultZ,
	}
}

// Forecast projects periods buckets ahead of the history. An empty model
// name selects the ensemble. Too little history yields an empty forecast
// with a reason rather than an error.
func (f *Forecaster) Forecast(samples []domain.SampleRecord, periods int, name domain.ForecastModel) (domain.ForecastResult, error) {
	if name == "" {
		name = domain.ModelEnsemble
	}
	m, ok := f.Models[name]
	if !ok {
		return domain.ForecastResult{}, fmt.Errorf("%w: unknown forecast model %q", domain.ErrInvalidInput, name)
	}
	if periods < 1 || periods > f.MaxPeriods {
		return domain.ForecastResult{}, fmt.Errorf("%w: forecastPeriod must be between 1 and %d", domain.ErrInvalidInput, f.MaxPeriods)
	}
	for i := range samples {
		if samples[i].CollectedAt.IsZero() {
			return domain.ForecastResult{}, fmt.Errorf("%w: sample %s has no collection timestamp", domain.ErrInvalidInput, samples[i].ID)
		}
	}

	series := BuildSeries(samples, f.BucketDays)
	res := domain.ForecastResult{
		Model:           name,
		Forecast:        []domain.ForecastPoint{},
		History:         series,
		Recommendations: []string{},
	}
	if n := populated(series); n < f.MinBuckets {
		res.Reason = fmt.Sprintf("insufficient data: %d populated periods, need %d", n, f.MinBuckets)
		return res, nil
	}

	y := rates(series)
	fit, err := m.Fit(y)
	if errors.Is(err, domain.ErrInsufficientData) {
		res.Reason = err.Error()
		return res, nil
	}
	if err != nil {
		return domain.ForecastResult{}, err
	}

	// The backtest scores the same member set the forecast uses.
	scored := m
	if ef, ok := fit.(ensembleFit); ok {
		scored = EnsembleModel{Members: ef.members, Strict: true}
	}
	sd := residualRMSE(y, fit.Fitted())
	if acc, ok := backtest(scored, y); ok {
		res.ModelAccuracy = &acc
		sd = acc.RMSE
	} else {
		res.AccuracyReason = fmt.Sprintf("no backtest origin: %s model cannot be refitted on fewer than %d periods", name, len(y))
	}

	width := time.Duration(f.BucketDays) * 24 * time.Hour
	last := series[len(series)-1].Start
	factors := fit.Factors()
	for h, v := range fit.Forecast(periods) {
		pred := clamp01(v)
		half := f.Z * sd * math.Sqrt(float64(h+1))
		res.Forecast = append(res.Forecast, domain.ForecastPoint{
			Date:                    last.Add(time.Duration(h+1) * width),
			PredictedPositivityRate: pred,
			ConfidenceInterval: domain.ConfidenceInterval{
				Lower: clamp01(pred - half),
				Upper: clamp01(pred + half),
			},
			RiskLabel:           risk.RateLevel(pred),
			ContributingFactors: append([]string{fmt.Sprintf("%d periods of history", len(y))}, factors...),
		})
	}
	res.Recommendations = recommendations(res, y[len(y)-1])
	return res, nil
}

// backtest refits the model on every proper prefix it can fit, starting
// from the shortest, and scores the one-step-ahead predictions. ok is false
// when no origin could be scored.
func backtest(m Model, y []float64) (domain.AccuracyMetrics, bool) {
	var actual, predicted []float64
	for t := 1; t < len(y); t++ {
		fit, err := m.Fit(y[:t])
		if err != nil {
			continue
		}
		actual = append(actual, y[t])
		predicted = append(predicted, clamp01(fit.Forecast(1)[0]))
	}
	if len(actual) == 0 {
		return domain.AccuracyMetrics{}, false
	}
	return accuracy(actual, predicted), true
}

// accuracy computes MAPE over non-zero actuals (percent), RMSE and R².
// R² is 0 when the actuals have no variance, or 1 if they are also matched exactly.
func accuracy(actual, predicted []float64) domain.AccuracyMetrics {
	var absPct, sq float64
	nonZero := 0
	for i := range actual {
		diff := actual[i] - predicted[i]
		sq += diff * diff
		if actual[i] != 0 {
			absPct += math.Abs(diff / actual[i])
			nonZero++
		}
	}
	m := domain.AccuracyMetrics{
		RMSE:        math.Sqrt(sq / float64(len(actual))),
		HoldoutSize: len(actual),
	}
	if nonZero > 0 {
		m.MAPE = absPct / float64(nonZero) * 100
	}
	if stat.Variance(actual, nil) > 0 {
		m.R2 = stat.RSquaredFrom(predicted, actual, nil)
	} else if sq == 0 {
		m.R2 = 1
	}
	return m
}

func residualRMSE(y, fitted []float64) float64 {
	var sq float64
	for i := range y {
		d := y[i] - fitted[i]
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(y)))
}

func recommendations(res domain.ForecastResult, lastObserved float64) []string {
	peak := res.Forecast[0]
	for _, p := range res.Forecast[1:] {
		if p.PredictedPositivityRate > peak.PredictedPositivityRate {
			peak = p
		}
	}
	week := peak.Date.Format("2006-01-02")
	pct := peak.PredictedPositivityRate * 100

	var out []string
	switch risk.RateLevel(peak.PredictedPositivityRate) {
	case domain.RiskCritical:
		out = append(out, fmt.Sprintf("Positivity projected to peak at %.1f%% in the week of %s: prepare emergency vector control ahead of that week", pct, week))
	case domain.RiskHigh:
		out = append(out, fmt.Sprintf("Positivity projected to reach %.1f%% in the week of %s: schedule targeted control and add traps beforehand", pct, week))
	case domain.RiskModerate:
		out = append(out, fmt.Sprintf("Positivity projected at %.1f%% in the week of %s: increase surveillance frequency", pct, week))
	default:
		out = append(out, "Positivity projected to stay below 5%: maintain routine surveillance")
	}

	final := res.Forecast[len(res.Forecast)-1].PredictedPositivityRate
	switch {
	case final > lastObserved:
		out = append(out, "Positivity is projected to rise over the forecast horizon")
	case final < lastObserved:
		out = append(out, "Positivity is projected to fall over the forecast horizon")
	}
	if res.ModelAccuracy == nil || res.ModelAccuracy.MAPE > 50 {
		out = append(out, "Backtest accuracy is low: treat projections as indicative only")
	}
	return out
}
