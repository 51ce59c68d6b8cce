package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/filter"
)

// Result is an analysis outcome with the report it was stored under.
type Result[T any] struct {
	Report domain.AnalysisReport
	Value  T
	Cached bool
}

// Service runs analyses over stored samples. Reports are persisted in the
// report store and reused from the cache for identical requests.
type Service struct {
	engine    *Engine
	samples   domain.SampleRepository
	reports   domain.ReportStore
	cache     domain.Cache
	filters   *filter.Compiler
	reportTTL time.Duration

	// Now supplies the default reference time. Tests may replace it.
	Now func() time.Time
}

// NewService wires the engine to its collaborators. reports and cache may be nil.
func NewService(engine *Engine, samples domain.SampleRepository, reports domain.ReportStore, cache domain.Cache, filters *filter.Compiler, reportTTL time.Duration) *Service {
	return &Service{
		engine:    engine,
		samples:   samples,
		reports:   reports,
		cache:     cache,
		filters:   filters,
		reportTTL: reportTTL,
		Now:       time.Now,
	}
}

// defaultAsOf is the request time truncated to the minute, so repeated
// requests within a minute share a report.
func (s *Service) defaultAsOf(asOf time.Time) time.Time {
	if !asOf.IsZero() {
		return asOf.UTC()
	}
	return s.Now().UTC().Truncate(time.Minute)
}

func reportKey(id string) string {
	return "report:" + id
}

// run resolves a report for req: from the cache when present, otherwise by
// computing it and storing the outcome.
func run[Req, Res any](ctx context.Context, s *Service, tenantID string, kind domain.AnalysisKind, req Req, compute func() (Res, error)) (*Result[Res], error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", kind, err)
	}
	id := domain.ReportID(tenantID, kind, encoded)

	if out, ok := s.cached(ctx, tenantID, id, kind); ok {
		var value Res
		if err := json.Unmarshal(out.Result, &value); err == nil {
			return &Result[Res]{Report: *out, Value: value, Cached: true}, nil
		}
	}

	value, err := compute()
	if err != nil {
		return nil, err
	}
	result, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", kind, err)
	}
	report := domain.AnalysisReport{
		ID:        id,
		TenantID:  tenantID,
		Kind:      kind,
		CreatedAt: s.Now().UTC(),
		Request:   encoded,
		Result:    result,
	}
	s.store(ctx, tenantID, &report)
	return &Result[Res]{Report: report, Value: value}, nil
}

func (s *Service) cached(ctx context.Context, tenantID, id string, kind domain.AnalysisKind) (*domain.AnalysisReport, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, tenantID, reportKey(id))
	if err != nil {
		slog.Warn("report cache read failed", "tenant_id", tenantID, "report_id", id, "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var report domain.AnalysisReport
	if err := json.Unmarshal(data, &report); err != nil || report.Kind != kind {
		return nil, false
	}
	return &report, true
}

// store persists and caches a report. Failures are logged; the computed
// result is still returned to the caller.
func (s *Service) store(ctx context.Context, tenantID string, report *domain.AnalysisReport) {
	if s.reports != nil {
		if err := s.reports.SaveReport(ctx, tenantID, report); err != nil {
			slog.Error("failed to save report", "tenant_id", tenantID, "report_id", report.ID, "error", err)
		}
	}
	if s.cache != nil && s.reportTTL > 0 {
		data, err := json.Marshal(report)
		if err == nil {
			err = s.cache.Set(ctx, tenantID, reportKey(report.ID), data, s.reportTTL)
		}
		if err != nil {
			slog.Warn("failed to cache report", "tenant_id", tenantID, "report_id", report.ID, "error", err)
		}
	}
}

// Report returns a stored report, preferring the cache.
func (s *Service) Report(ctx context.Context, tenantID, id string) (*domain.AnalysisReport, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, tenantID, reportKey(id)); err == nil && data != nil {
			var report domain.AnalysisReport
			if err := json.Unmarshal(data, &report); err == nil {
				return &report, nil
			}
		}
	}
	if s.reports == nil {
		return nil, fmt.Errorf("%w: report %s", domain.ErrNotFound, id)
	}
	return s.reports.GetReport(ctx, tenantID, id)
}

// fetch loads the samples in scope and applies the CEL filter.
func (s *Service) fetch(ctx context.Context, tenantID string, f domain.SampleFilter, expr string) ([]domain.SampleRecord, error) {
	if s.filters != nil {
		if err := s.filters.Validate(expr); err != nil {
			return nil, err
		}
	} else if expr != "" {
		return nil, fmt.Errorf("%w: filters are not enabled", domain.ErrInvalidInput)
	}
	samples, err := s.samples.FetchSamples(ctx, tenantID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch samples: %w", err)
	}
	if expr == "" {
		return samples, nil
	}
	return s.filters.Apply(expr, samples)
}

func validateScope(scope domain.SampleScope) error {
	if !scope.From.IsZero() && !scope.To.IsZero() && scope.To.Before(scope.From) {
		return fmt.Errorf("%w: to must not be before from", domain.ErrInvalidInput)
	}
	return nil
}

// Clusters runs cluster detection and alert generation.
func (s *Service) Clusters(ctx context.Context, tenantID string, req domain.ClusterRequest) (*Result[domain.ClusterReport], error) {
	if err := validateScope(req.SampleScope); err != nil {
		return nil, err
	}
	req.AsOf = s.defaultAsOf(req.AsOf)
	req.Params = req.Params.WithDefaults()
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	return run(ctx, s, tenantID, domain.KindClusters, req, func() (domain.ClusterReport, error) {
		samples, err := s.fetch(ctx, tenantID, req.SampleFilter(), req.Filter)
		if err != nil {
			return domain.ClusterReport{}, err
		}
		report, err := s.engine.Clusters(ctx, samples, req.Params, req.AsOf)
		stampTenant(report.Alerts, tenantID)
		return report, err
	})
}

// Heatmap builds the location heatmap.
func (s *Service) Heatmap(ctx context.Context, tenantID string, req domain.HeatmapRequest) (*Result[domain.HeatmapResult], error) {
	if err := validateScope(req.SampleScope); err != nil {
		return nil, err
	}
	req.AsOf = s.defaultAsOf(req.AsOf)
	if req.Metric == "" {
		req.Metric = domain.MetricPositivityRate
	}
	if req.Resolution == "" {
		req.Resolution = domain.ResolutionMedium
	}
	return run(ctx, s, tenantID, domain.KindHeatmap, req, func() (domain.HeatmapResult, error) {
		samples, err := s.fetch(ctx, tenantID, req.SampleFilter(), req.Filter)
		if err != nil {
			return domain.HeatmapResult{}, err
		}
		return s.engine.Heatmap(ctx, samples, req.Metric, req.Resolution, req.AsOf)
	})
}

// Outbreak compares the requested baseline and current periods. Both
// periods are fetched in one query and split by their inclusive bounds.
func (s *Service) Outbreak(ctx context.Context, tenantID string, req domain.OutbreakRequest) (*Result[domain.OutbreakResult], error) {
	if req.BaselineFrom.IsZero() || req.BaselineTo.IsZero() || req.CurrentFrom.IsZero() || req.CurrentTo.IsZero() {
		return nil, fmt.Errorf("%w: baseline and current periods are required", domain.ErrInvalidInput)
	}
	if req.BaselineTo.Before(req.BaselineFrom) || req.CurrentTo.Before(req.CurrentFrom) {
		return nil, fmt.Errorf("%w: period end must not be before its start", domain.ErrInvalidInput)
	}
	sensitivity, err := domain.ParseSensitivity(string(req.Sensitivity))
	if err != nil {
		return nil, err
	}
	req.Sensitivity = sensitivity

	return run(ctx, s, tenantID, domain.KindOutbreak, req, func() (domain.OutbreakResult, error) {
		from, to := req.BaselineFrom, req.CurrentTo
		if req.CurrentFrom.Before(from) {
			from = req.CurrentFrom
		}
		if req.BaselineTo.After(to) {
			to = req.BaselineTo
		}
		samples, err := s.fetch(ctx, tenantID, domain.SampleFilter{From: from, To: to, LocationIDs: req.LocationIDs}, req.Filter)
		if err != nil {
			return domain.OutbreakResult{}, err
		}
		var baseline, current []domain.SampleRecord
		for _, sample := range samples {
			if within(sample.CollectedAt, req.BaselineFrom, req.BaselineTo) {
				baseline = append(baseline, sample)
			}
			if within(sample.CollectedAt, req.CurrentFrom, req.CurrentTo) {
				current = append(current, sample)
			}
		}
		return s.engine.Outbreak(ctx, baseline, current, req.Sensitivity)
	})
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// Forecast projects weekly positivity.
func (s *Service) Forecast(ctx context.Context, tenantID string, req domain.ForecastRequest) (*Result[domain.ForecastResult], error) {
	if err := validateScope(req.SampleScope); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = domain.ModelEnsemble
	}
	return run(ctx, s, tenantID, domain.KindForecast, req, func() (domain.ForecastResult, error) {
		samples, err := s.fetch(ctx, tenantID, req.SampleFilter(), req.Filter)
		if err != nil {
			return domain.ForecastResult{}, err
		}
		return s.engine.Forecast(ctx, samples, req.ForecastPeriod, req.Model)
	})
}

// ResolveDashboard fills the defaults that determine a dashboard's report id.
func (s *Service) ResolveDashboard(req domain.DashboardRequest) domain.DashboardRequest {
	req = withDashboardDefaults(req)
	req.AsOf = s.defaultAsOf(req.AsOf)
	req.Params = req.Params.WithDefaults()
	return req
}

// PrepareDashboard validates and resolves req and returns the id its
// report will be stored under. Callers queueing a dashboard use it to
// reject bad requests before they reach the worker.
func (s *Service) PrepareDashboard(tenantID string, req domain.DashboardRequest) (domain.DashboardRequest, string, error) {
	if err := validateScope(req.SampleScope); err != nil {
		return req, "", err
	}
	req = s.ResolveDashboard(req)
	if err := req.Params.Validate(); err != nil {
		return req, "", err
	}
	if s.filters != nil {
		if err := s.filters.Validate(req.Filter); err != nil {
			return req, "", err
		}
	}
	id, err := DashboardReportID(tenantID, req)
	return req, id, err
}

// DashboardReportID returns the id a resolved dashboard request is stored under.
func DashboardReportID(tenantID string, req domain.DashboardRequest) (string, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return domain.ReportID(tenantID, domain.KindDashboard, encoded), nil
}

// Dashboard runs every analysis over one snapshot.
func (s *Service) Dashboard(ctx context.Context, tenantID string, req domain.DashboardRequest) (*Result[domain.Dashboard], error) {
	req, _, err := s.PrepareDashboard(tenantID, req)
	if err != nil {
		return nil, err
	}
	return run(ctx, s, tenantID, domain.KindDashboard, req, func() (domain.Dashboard, error) {
		samples, err := s.fetch(ctx, tenantID, req.SampleFilter(), req.Filter)
		if err != nil {
			return domain.Dashboard{}, err
		}
		dash, err := s.engine.Dashboard(ctx, samples, req)
		stampTenant(dash.Clusters.Alerts, tenantID)
		return dash, err
	})
}

func stampTenant(alerts []domain.OutbreakAlert, tenantID string) {
	for i := range alerts {
		alerts[i].TenantID = tenantID
	}
}
