// Package analytics runs the surveillance analyses over sample snapshots.
//
// The Engine is pure: it validates and canonically orders its input, never
// reads the wall clock for results and returns identical output for
// identical input. The Service layered on top fetches samples, applies CEL
// filters and persists and caches reports.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-health/kestrel/internal/alert"
	"github.com/opensource-health/kestrel/internal/cluster"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/forecast"
	"github.com/opensource-health/kestrel/internal/heatmap"
	"github.com/opensource-health/kestrel/internal/metrics"
	"github.com/opensource-health/kestrel/internal/outbreak"
)

var tracer = otel.Tracer("kestrel-analytics")

const noSamples = "no samples in scope"

// Engine runs analyses. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	alerts     *alert.Generator
	detector   *outbreak.Detector
	forecaster *forecast.Forecaster
	metrics    *metrics.Metrics
	maxWorkers int
}

// NewEngine creates an engine. maxWorkers bounds the concurrent
// sub-analyses of a dashboard; m may be nil.
func NewEngine(maxWorkers int, m *metrics.Metrics) *Engine {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Engine{
		alerts:     alert.NewGenerator(),
		detector:   outbreak.NewDetector(),
		forecaster: forecast.NewForecaster(),
		metrics:    m,
		maxWorkers: maxWorkers,
	}
}

// prepare validates samples and returns a canonically ordered copy.
func prepare(samples []domain.SampleRecord) ([]domain.SampleRecord, error) {
	if err := domain.ValidateSamples(samples); err != nil {
		return nil, err
	}
	snapshot := make([]domain.SampleRecord, len(samples))
	copy(snapshot, samples)
	domain.SortCanonical(snapshot)
	return snapshot, nil
}

// latest returns the newest collection time, or zero for no samples.
func latest(samples []domain.SampleRecord) time.Time {
	var t time.Time
	for i := range samples {
		if samples[i].CollectedAt.After(t) {
			t = samples[i].CollectedAt
		}
	}
	return t
}

func (e *Engine) observe(span trace.Span, kind domain.AnalysisKind, start time.Time, reason string, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		outcome = metrics.OutcomeInvalid
	case err != nil:
		outcome = metrics.OutcomeError
	case reason != "":
		outcome = metrics.OutcomeEmpty
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("analysis.outcome", outcome))
	e.metrics.ObserveAnalysis(kind, outcome, time.Since(start))
}

// Clusters builds clusters and the alerts they raise. A zero asOf is
// replaced by the newest sample time.
func (e *Engine) Clusters(ctx context.Context, samples []domain.SampleRecord, params domain.ClusterParams, asOf time.Time) (domain.ClusterReport, error) {
	_, span := tracer.Start(ctx, "analytics.clusters", trace.WithAttributes(attribute.Int("samples", len(samples))))
	defer span.End()
	start := time.Now()

	snapshot, err := prepare(samples)
	var report domain.ClusterReport
	if err == nil {
		report, err = e.clusters(snapshot, params, asOf)
	}
	e.observe(span, domain.KindClusters, start, report.Reason, err)
	if err != nil {
		return domain.ClusterReport{}, err
	}
	e.metrics.RecordClusters(report)
	return report, nil
}

func (e *Engine) clusters(snapshot []domain.SampleRecord, params domain.ClusterParams, asOf time.Time) (domain.ClusterReport, error) {
	if asOf.IsZero() {
		asOf = latest(snapshot)
	}
	clusters, err := cluster.Build(snapshot, params)
	if err != nil {
		return domain.ClusterReport{}, err
	}
	report := domain.ClusterReport{
		AsOf:        asOf,
		SampleCount: len(snapshot),
		Clusters:    clusters,
		Alerts:      e.alerts.GenerateAll(clusters, asOf),
	}
	if len(snapshot) == 0 {
		report.Reason = noSamples
	}
	return report, nil
}

// Heatmap renders the per-location intensity map.
func (e *Engine) Heatmap(ctx context.Context, samples []domain.SampleRecord, metric domain.HeatmapMetric, resolution domain.HeatmapResolution, asOf time.Time) (domain.HeatmapResult, error) {
	_, span := tracer.Start(ctx, "analytics.heatmap", trace.WithAttributes(
		attribute.Int("samples", len(samples)),
		attribute.String("metric", string(metric)),
	))
	defer span.End()
	start := time.Now()

	snapshot, err := prepare(samples)
	var res domain.HeatmapResult
	if err == nil {
		res, err = heatmap.Build(heatmap.GroupByLocation(snapshot), metric, resolution, asOf)
	}
	e.observe(span, domain.KindHeatmap, start, res.Reason, err)
	return res, err
}

// Outbreak compares a baseline period against a current period.
func (e *Engine) Outbreak(ctx context.Context, baseline, current []domain.SampleRecord, sensitivity domain.Sensitivity) (domain.OutbreakResult, error) {
	_, span := tracer.Start(ctx, "analytics.outbreak", trace.WithAttributes(
		attribute.Int("baseline", len(baseline)),
		attribute.Int("current", len(current)),
	))
	defer span.End()
	start := time.Now()

	res, err := e.outbreak(baseline, current, sensitivity)
	e.observe(span, domain.KindOutbreak, start, res.Reason, err)
	if err != nil {
		return domain.OutbreakResult{}, err
	}
	e.metrics.RecordOutbreak(res)
	return res, nil
}

func (e *Engine) outbreak(baseline, current []domain.SampleRecord, sensitivity domain.Sensitivity) (domain.OutbreakResult, error) {
	b, err := prepare(baseline)
	if err != nil {
		return domain.OutbreakResult{}, err
	}
	c, err := prepare(current)
	if err != nil {
		return domain.OutbreakResult{}, err
	}
	return e.detector.Detect(b, c, sensitivity)
}

// Forecast projects weekly positivity periods weeks ahead.
func (e *Engine) Forecast(ctx context.Context, samples []domain.SampleRecord, periods int, model domain.ForecastModel) (domain.ForecastResult, error) {
	_, span := tracer.Start(ctx, "analytics.forecast", trace.WithAttributes(
		attribute.Int("samples", len(samples)),
		attribute.Int("periods", periods),
		attribute.String("model", string(model)),
	))
	defer span.End()
	start := time.Now()

	snapshot, err := prepare(samples)
	var res domain.ForecastResult
	if err == nil {
		res, err = e.forecaster.Forecast(snapshot, periods, model)
	}
	e.observe(span, domain.KindForecast, start, res.Reason, err)
	return res, err
}

// SplitPeriods partitions samples into the baseline and current periods
// ending at asOf. The current period is (asOf-currentDays, asOf] and the
// baseline the baselineDays before it. Samples after asOf are dropped.
func SplitPeriods(samples []domain.SampleRecord, asOf time.Time, currentDays, baselineDays int) (baseline, current []domain.SampleRecord) {
	day := 24 * time.Hour
	currentFrom := asOf.Add(-time.Duration(currentDays) * day)
	baselineFrom := currentFrom.Add(-time.Duration(baselineDays) * day)
	for _, s := range samples {
		at := s.CollectedAt
		switch {
		case at.After(asOf):
		case at.After(currentFrom):
			current = append(current, s)
		case at.After(baselineFrom):
			baseline = append(baseline, s)
		}
	}
	return baseline, current
}

// Dashboard runs every analysis concurrently over one snapshot. Invalid
// samples fail the whole call; a failing sub-analysis instead contributes
// its empty fallback and an entry in Errors.
func (e *Engine) Dashboard(ctx context.Context, samples []domain.SampleRecord, req domain.DashboardRequest) (domain.Dashboard, error) {
	ctx, span := tracer.Start(ctx, "analytics.dashboard", trace.WithAttributes(attribute.Int("samples", len(samples))))
	defer span.End()
	start := time.Now()

	snapshot, err := prepare(samples)
	if err != nil {
		e.observe(span, domain.KindDashboard, start, "", err)
		return domain.Dashboard{}, err
	}
	req = withDashboardDefaults(req)
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = latest(snapshot)
	}

	dash := domain.Dashboard{
		AsOf:        asOf,
		SampleCount: len(snapshot),
		Clusters:    domain.ClusterReport{AsOf: asOf, SampleCount: len(snapshot), Clusters: []domain.Cluster{}, Alerts: []domain.OutbreakAlert{}},
		Heatmap:     domain.HeatmapResult{Metric: req.Metric, Resolution: req.Resolution, Points: []domain.HeatmapPoint{}},
		Outbreak:    domain.NoOutbreak(""),
		Forecast:    domain.ForecastResult{Model: req.Model, Forecast: []domain.ForecastPoint{}, History: []domain.SeriesPoint{}, Recommendations: []string{}},
	}

	var mu sync.Mutex
	failures := make(map[string]string)
	fail := func(kind domain.AnalysisKind, err error) {
		slog.Warn("dashboard analysis failed", "analysis", string(kind), "error", err)
		mu.Lock()
		failures[string(kind)] = err.Error()
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(e.maxWorkers)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			fail(domain.KindClusters, err)
			return nil
		}
		report, err := e.Clusters(ctx, snapshot, req.Params, asOf)
		if err != nil {
			fail(domain.KindClusters, err)
			return nil
		}
		dash.Clusters = report
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			fail(domain.KindHeatmap, err)
			return nil
		}
		res, err := e.Heatmap(ctx, snapshot, req.Metric, req.Resolution, asOf)
		if err != nil {
			fail(domain.KindHeatmap, err)
			return nil
		}
		dash.Heatmap = res
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			fail(domain.KindOutbreak, err)
			return nil
		}
		baseline, current := SplitPeriods(snapshot, asOf, req.CurrentDays, req.BaselineDays)
		res, err := e.Outbreak(ctx, baseline, current, req.Sensitivity)
		if err != nil {
			fail(domain.KindOutbreak, err)
			return nil
		}
		dash.Outbreak = res
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			fail(domain.KindForecast, err)
			return nil
		}
		res, err := e.Forecast(ctx, snapshot, req.ForecastPeriod, req.Model)
		if err != nil {
			fail(domain.KindForecast, err)
			return nil
		}
		dash.Forecast = res
		return nil
	})
	_ = g.Wait()

	if len(failures) > 0 {
		dash.Errors = failures
	}
	e.observe(span, domain.KindDashboard, start, "", nil)
	return dash, nil
}

// withDashboardDefaults fills the zero-valued dashboard options.
func withDashboardDefaults(req domain.DashboardRequest) domain.DashboardRequest {
	if req.Metric == "" {
		req.Metric = domain.MetricPositivityRate
	}
	if req.Resolution == "" {
		req.Resolution = domain.ResolutionMedium
	}
	if req.Sensitivity == "" {
		req.Sensitivity = domain.SensitivityMedium
	}
	if req.CurrentDays <= 0 {
		req.CurrentDays = domain.DefaultCurrentDays
	}
	if req.BaselineDays <= 0 {
		req.BaselineDays = domain.DefaultBaselineDays
	}
	if req.ForecastPeriod <= 0 {
		req.ForecastPeriod = domain.DefaultForecastPeriod
	}
	if req.Model == "" {
		req.Model = domain.ModelEnsemble
	}
	return req
}
