package forecast

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-health/kestrel/internal/domain"
)

// Model is a forecasting strategy. Fit must be deterministic and must not
// retain y.
type Model interface {
	Name() domain.ForecastModel
	Fit(y []float64) (Fit, error)
}

// Fit is a model fitted to one series.
type Fit interface {
	// Forecast predicts the next steps values after the last observation.
	Forecast(steps int) []float64
	// Fitted returns the in-sample fitted values.
	Fitted() []float64
	// Factors describes what drives the forecast.
	Factors() []string
}

func index(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}

func tooShort(m domain.ForecastModel, have, need int) error {
	return fmt.Errorf("%w: %s model needs %d periods, have %d", domain.ErrInsufficientData, m, need, have)
}

func trendFactor(beta float64) string {
	return fmt.Sprintf("linear trend of %+.2f percentage points per week", beta*100)
}

// RegressionModel fits an ordinary least squares line over time.
type RegressionModel struct{}

func (RegressionModel) Name() domain.ForecastModel { return domain.ModelRegression }

func (m RegressionModel) Fit(y []float64) (Fit, error) {
	if len(y) < 2 {
		return nil, tooShort(m.Name(), len(y), 2)
	}
	alpha, beta := stat.LinearRegression(index(len(y)), y, nil, false)
	return linearFit{alpha: alpha, beta: beta, n: len(y)}, nil
}

type linearFit struct {
	alpha, beta float64
	n           int
}

func (f linearFit) at(t int) float64 { return f.alpha + f.beta*float64(t) }

func (f linearFit) Forecast(steps int) []float64 {
	out := make([]float64, steps)
	for h := range out {
		out[h] = f.at(f.n + h)
	}
	return out
}

func (f linearFit) Fitted() []float64 {
	out := make([]float64, f.n)
	for t := range out {
		out[t] = f.at(t)
	}
	return out
}

func (f linearFit) Factors() []string {
	return []string{trendFactor(f.beta)}
}

// SeasonalModel decomposes the series into a linear trend plus a repeating
// seasonal index of Period buckets. The trend is fitted to the means of the
// most recent complete cycles, which carry no seasonal component, and the
// index is the centred mean of the detrended values at each phase. At least
// two full cycles are required.
type SeasonalModel struct {
	Period int
}

func (SeasonalModel) Name() domain.ForecastModel { return domain.ModelSeasonal }

func (m SeasonalModel) Fit(y []float64) (Fit, error) {
	if m.Period < 2 {
		return nil, fmt.Errorf("%w: seasonal period must be at least 2", domain.ErrInvalidInput)
	}
	if len(y) < 2*m.Period {
		return nil, tooShort(m.Name(), len(y), 2*m.Period)
	}

	cycles := len(y) / m.Period
	offset := len(y) - cycles*m.Period
	mid := make([]float64, cycles)
	means := make([]float64, cycles)
	for c := range means {
		from := offset + c*m.Period
		means[c] = stat.Mean(y[from:from+m.Period], nil)
		mid[c] = float64(from) + float64(m.Period-1)/2
	}
	alpha, beta := stat.LinearRegression(mid, means, nil, false)
	trend := linearFit{alpha: alpha, beta: beta, n: len(y)}

	sums := make([]float64, m.Period)
	counts := make([]float64, m.Period)
	for t, v := range y {
		sums[t%m.Period] += v - trend.at(t)
		counts[t%m.Period]++
	}
	season := make([]float64, m.Period)
	for k := range season {
		season[k] = sums[k] / counts[k]
	}
	floats.AddConst(-stat.Mean(season, nil), season)

	return seasonalFit{trend: trend, season: season}, nil
}

type seasonalFit struct {
	trend  linearFit
	season []float64
}

func (f seasonalFit) at(t int) float64 {
	return f.trend.at(t) + f.season[t%len(f.season)]
}

func (f seasonalFit) Forecast(steps int) []float64 {
	out := make([]float64, steps)
	for h := range out {
		out[h] = f.at(f.trend.n + h)
	}
	return out
}

func (f seasonalFit) Fitted() []float64 {
	out := make([]float64, f.trend.n)
	for t := range out {
		out[t] = f.at(t)
	}
	return out
}

func (f seasonalFit) Factors() []string {
	amplitude := (floats.Max(f.season) - floats.Min(f.season)) / 2
	return []string{
		trendFactor(f.trend.beta),
		fmt.Sprintf("%d-week seasonal cycle of ±%.2f percentage points", len(f.season), amplitude*100),
	}
}

// SmoothingModel is Holt's linear exponential smoothing.
type SmoothingModel struct {
	Alpha float64 // level
	Beta  float64 // trend
}

func (SmoothingModel) Name() domain.ForecastModel { return domain.ModelSmoothing }

func (m SmoothingModel) Fit(y []float64) (Fit, error) {
	if len(y) < 2 {
		return nil, tooShort(m.Name(), len(y), 2)
	}
	level, trend := y[0], y[1]-y[0]
	fitted := make([]float64, len(y))
	fitted[0] = y[0]
	for t := 1; t < len(y); t++ {
		fitted[t] = level + trend
		next := m.Alpha*y[t] + (1-m.Alpha)*(level+trend)
		trend = m.Beta*(next-level) + (1-m.Beta)*trend
		level = next
	}
	return holtFit{level: level, trend: trend, fitted: fitted}, nil
}

type holtFit struct {
	level, trend float64
	fitted       []float64
}

func (f holtFit) Forecast(steps int) []float64 {
	out := make([]float64, steps)
	for h := range out {
		out[h] = f.level + float64(h+1)*f.trend
	}
	return out
}

func (f holtFit) Fitted() []float64 {
	return append([]float64(nil), f.fitted...)
}

func (f holtFit) Factors() []string {
	return []string{
		fmt.Sprintf("smoothed level of %.2f%% positivity", f.level*100),
		fmt.Sprintf("smoothed trend of %+.2f percentage points per week", f.trend*100),
	}
}

// EnsembleModel averages the members that can fit the series. A Strict
// ensemble fails unless every member fits.
type EnsembleModel struct {
	Members []Model
	Strict  bool
}

func (EnsembleModel) Name() domain.ForecastModel { return domain.ModelEnsemble }

func (m EnsembleModel) Fit(y []float64) (Fit, error) {
	var fits []Fit
	var members []Model
	var names []string
	var lastErr error
	for _, member := range m.Members {
		f, err := member.Fit(y)
		if err != nil {
			if m.Strict {
				return nil, err
			}
			lastErr = err
			continue
		}
		fits = append(fits, f)
		members = append(members, member)
		names = append(names, string(member.Name()))
	}
	if len(fits) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: ensemble has no members", domain.ErrInvalidInput)
		}
		return nil, lastErr
	}
	return ensembleFit{fits: fits, members: members, names: names, n: len(y)}, nil
}

type ensembleFit struct {
	fits    []Fit
	members []Model
	names   []string
	n       int
}

func (f ensembleFit) average(get func(Fit) []float64, size int) []float64 {
	out := make([]float64, size)
	for _, fit := range f.fits {
		floats.Add(out, get(fit))
	}
	floats.Scale(1/float64(len(f.fits)), out)
	return out
}

func (f ensembleFit) Forecast(steps int) []float64 {
	return f.average(func(fit Fit) []float64 { return fit.Forecast(steps) }, steps)
}

func (f ensembleFit) Fitted() []float64 {
	return f.average(func(fit Fit) []float64 { return fit.Fitted() }, f.n)
}

func (f ensembleFit) Factors() []string {
	out := []string{"average of " + strings.Join(f.names, ", ") + " models"}
	for _, fit := range f.fits {
		out = append(out, fit.Factors()...)
	}
	return out
}

// clamp01 bounds a predicted rate to [0,1].
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
