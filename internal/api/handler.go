package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-health/kestrel/internal/analytics"
	"github.com/opensource-health/kestrel/internal/domain"
)

const (
	// maxBodyBytes bounds request bodies, sample batches included.
	maxBodyBytes = 16 << 20

	// maxBatchSize bounds the samples accepted by one POST /samples.
	maxBatchSize = 50000

	// maxWait bounds how long an async request may be waited on.
	maxWait = 2 * time.Minute
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	svc     *analytics.Service
	version string
}

// NewHandler creates a new API handler. cache and bus may be nil.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, svc *analytics.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		svc:     svc,
		version: version,
	}
}

// ResponseMetadata accompanies every analysis response.
type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// AnalysisResponse wraps an analysis result with the report it is stored under.
type AnalysisResponse struct {
	ReportID string              `json:"reportId"`
	Kind     domain.AnalysisKind `json:"kind"`
	Cached   bool                `json:"cached"`
	Result   any                 `json:"result"`
	Metadata ResponseMetadata    `json:"metadata"`
}

// QueuedResponse is returned for an async dashboard.
type QueuedResponse struct {
	ReportID string `json:"reportId"`
	Status   string `json:"status"`
	Location string `json:"location"`
}

// IngestRequest is the body of POST /samples.
type IngestRequest struct {
	Samples []domain.SampleRecord `json:"samples"`
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, domain.ErrInsufficientData):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, errors.ErrUnsupported):
		writeJSON(w, http.StatusNotImplemented, errorBody(err.Error()))
	default:
		slog.Error("request failed",
			"path", r.URL.Path,
			"tenant_id", GetTenantID(r.Context()),
			"trace_id", GetTraceID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrInvalidInput, tooLarge.Limit)
		}
		return fmt.Errorf("%w: invalid JSON request body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func (h *Handler) meta(r *http.Request, start time.Time) ResponseMetadata {
	return ResponseMetadata{
		TraceID: GetTraceID(r.Context()),
		TotalMs: time.Since(start).Milliseconds(),
		Version: h.version,
	}
}

func respond[T any](h *Handler, w http.ResponseWriter, r *http.Request, start time.Time, res *analytics.Result[T]) {
	writeJSON(w, http.StatusOK, AnalysisResponse{
		ReportID: res.Report.ID,
		Kind:     res.Report.Kind,
		Cached:   res.Cached,
		Result:   res.Value,
		Metadata: h.meta(r, start),
	})
}

// Health reports dependency status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "healthy"
	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	ctx := r.Context()
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether samples can be served.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil || h.repo.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// IngestSamples handles POST /samples. The batch is stored atomically.
func (h *Handler) IngestSamples(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req IngestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Samples) == 0 {
		writeError(w, r, fmt.Errorf("%w: samples are required", domain.ErrInvalidInput))
		return
	}
	if len(req.Samples) > maxBatchSize {
		writeError(w, r, fmt.Errorf("%w: at most %d samples per request", domain.ErrInvalidInput, maxBatchSize))
		return
	}
	for i := range req.Samples {
		req.Samples[i].TenantID = tenantID
		req.Samples[i].CollectedAt = req.Samples[i].CollectedAt.UTC()
	}

	if err := h.repo.SaveSamples(ctx, tenantID, req.Samples); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("samples ingested", "tenant_id", tenantID, "count", len(req.Samples))
	writeJSON(w, http.StatusCreated, map[string]int{"accepted": len(req.Samples)})
}

// ListSamples handles GET /samples?from=&to=&location=&result=&limit=.
func (h *Handler) ListSamples(w http.ResponseWriter, r *http.Request) {
	f, err := parseSampleFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	samples, err := h.repo.FetchSamples(r.Context(), GetTenantID(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples, "count": len(samples)})
}

func parseSampleFilter(r *http.Request) (domain.SampleFilter, error) {
	q := r.URL.Query()
	var f domain.SampleFilter
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("%w: %s must be RFC 3339", domain.ErrInvalidInput, name)
			}
			*dst = t
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("%w: to must not be before from", domain.ErrInvalidInput)
	}
	for _, v := range q["location"] {
		f.LocationIDs = append(f.LocationIDs, strings.Split(v, ",")...)
	}
	for _, v := range q["result"] {
		for _, res := range strings.Split(v, ",") {
			tr := domain.TestResult(res)
			if !tr.Valid() {
				return f, fmt.Errorf("%w: unknown result %q", domain.ErrInvalidInput, res)
			}
			f.Results = append(f.Results, tr)
		}
	}
	f.Limit = 1000
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 10000 {
			return f, fmt.Errorf("%w: limit must be within 1..10000", domain.ErrInvalidInput)
		}
		f.Limit = n
	}
	return f, nil
}

// GetSample handles GET /samples/{id}.
func (h *Handler) GetSample(w http.ResponseWriter, r *http.Request) {
	sample, err := h.repo.GetSample(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// Clusters handles POST /analysis/clusters.
func (h *Handler) Clusters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req domain.ClusterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Clusters(r.Context(), GetTenantID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(h, w, r, start, res)
}

// Heatmap handles POST /analysis/heatmap.
func (h *Handler) Heatmap(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req domain.HeatmapRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Heatmap(r.Context(), GetTenantID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(h, w, r, start, res)
}

// Outbreak handles POST /analysis/outbreak.
func (h *Handler) Outbreak(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req domain.OutbreakRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Outbreak(r.Context(), GetTenantID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(h, w, r, start, res)
}

// Forecast handles POST /analysis/forecast.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req domain.ForecastRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Forecast(r.Context(), GetTenantID(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(h, w, r, start, res)
}

// Dashboard handles POST /analysis/dashboard. With async=true the request
// is queued for the worker and 202 is returned; adding wait=<duration>
// blocks until the worker answers.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.DashboardRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.queueDashboard(w, r, tenantID, req)
		return
	}

	res, err := h.svc.Dashboard(ctx, tenantID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(h, w, r, start, res)
}

func (h *Handler) queueDashboard(w http.ResponseWriter, r *http.Request, tenantID string, req domain.DashboardRequest) {
	ctx := r.Context()
	if h.bus == nil {
		writeError(w, r, fmt.Errorf("async analysis: %w", errors.ErrUnsupported))
		return
	}

	resolved, reportID, err := h.svc.PrepareDashboard(tenantID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := json.Marshal(domain.AnalysisRequested{ReportID: reportID, Request: resolved})
	if err != nil {
		writeError(w, r, err)
		return
	}
	location := "/reports/" + reportID

	if v := r.URL.Query().Get("wait"); v != "" {
		wait, err := time.ParseDuration(v)
		if err != nil || wait <= 0 || wait > maxWait {
			writeError(w, r, fmt.Errorf("%w: wait must be a duration up to %s", domain.ErrInvalidInput, maxWait))
			return
		}
		reqCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		reply, err := h.bus.Request(reqCtx, tenantID, domain.TopicAnalysisRequested, payload)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				w.Header().Set("Location", location)
				writeJSON(w, http.StatusAccepted, QueuedResponse{ReportID: reportID, Status: "running", Location: location})
				return
			}
			writeError(w, r, err)
			return
		}
		var completed domain.AnalysisCompleted
		if err := json.Unmarshal(reply, &completed); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, completed)
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicAnalysisRequested, payload); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusAccepted, QueuedResponse{ReportID: reportID, Status: "queued", Location: location})
}

// GetReport handles GET /reports/{id}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Report(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
