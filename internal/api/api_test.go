package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-health/kestrel/internal/analytics"
	"github.com/opensource-health/kestrel/internal/bus"
	"github.com/opensource-health/kestrel/internal/cache"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/filter"
	"github.com/opensource-health/kestrel/internal/metrics"
	"github.com/opensource-health/kestrel/internal/repository"
	"github.com/opensource-health/kestrel/internal/worker"
)

var epoch = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func hotspotSamples() []domain.SampleRecord {
	var out []domain.SampleRecord
	for i := 0; i < 12; i++ {
		r := domain.ResultNegative
		if i%3 == 0 {
			r = domain.ResultPositive
		}
		out = append(out, domain.SampleRecord{
			ID:          fmt.Sprintf("h%02d", i),
			LocationID:  fmt.Sprintf("trap-%d", i%3),
			Latitude:    33.450 + float64(i%3)*0.001,
			Longitude:   -112.070,
			CollectedAt: epoch.Add(time.Duration(i) * 10 * time.Hour),
			Result:      r,
		})
	}
	return out
}

type testEnv struct {
	server *Server
	bus    *bus.ChannelBus
	svc    *analytics.Service
}

// newTestEnv wires a server over sqlite, an LRU cache and the channel bus.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	filters, err := filter.NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	m := metrics.New()
	lru := cache.NewLRUCache(64)
	svc := analytics.NewService(analytics.NewEngine(2, m), repo, repo, lru, filters, time.Minute)
	svc.Now = func() time.Time { return epoch.Add(10*24*time.Hour + 30*time.Second) }

	eventBus := bus.NewChannelBus(16)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return &testEnv{
		server: NewServer(cfg, repo, lru, eventBus, svc, m, "test-v1"),
		bus:    eventBus,
		svc:    svc,
	}
}

func (e *testEnv) do(t *testing.T, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) ingest(t *testing.T, tenantID string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/samples", tenantID, IngestRequest{Samples: hotspotSamples()})
	if rec.Code != http.StatusCreated {
		t.Fatalf("ingest failed: %d %s", rec.Code, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	health := decode[map[string]any](t, rec)
	if health["status"] != "healthy" || health["version"] != "test-v1" {
		t.Errorf("unexpected health %v", health)
	}

	if rec := env.do(t, http.MethodGet, "/ready", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected ready, got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected metrics, got %d", rec.Code)
	}
}

func TestTenantRequired(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		tenant string
	}{
		{"Missing", ""},
		{"Separator", "tenant:a"},
		{"Wildcard", "tenant.*"},
		{"TooLong", strings.Repeat("t", maxTenantIDLen+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/samples", tt.tenant, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSampleEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "tenant-a")

	t.Run("Get", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/samples/h03", "tenant-a", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		s := decode[domain.SampleRecord](t, rec)
		if s.Result != domain.ResultPositive || s.TenantID != "tenant-a" {
			t.Errorf("unexpected sample %+v", s)
		}
	})

	t.Run("NotFoundAcrossTenants", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/samples/h03", "tenant-b", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/samples?location=trap-0&result=positive", "tenant-a", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		body := decode[struct {
			Count int `json:"count"`
		}](t, rec)
		if body.Count != 4 {
			t.Errorf("expected 4 positive trap-0 samples, got %d", body.Count)
		}
	})

	t.Run("ListBadQuery", func(t *testing.T) {
		for _, q := range []string{"from=yesterday", "result=maybe", "limit=0", "from=2026-06-02T00:00:00Z&to=2026-06-01T00:00:00Z"} {
			if rec := env.do(t, http.MethodGet, "/samples?"+q, "tenant-a", nil); rec.Code != http.StatusBadRequest {
				t.Errorf("%s: expected 400, got %d", q, rec.Code)
			}
		}
	})

	t.Run("RejectsInvalidBatch", func(t *testing.T) {
		bad := hotspotSamples()[:2]
		bad[1].Latitude = 91
		rec := env.do(t, http.MethodPost, "/samples", "tenant-a", IngestRequest{Samples: bad})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("RejectsEmptyAndMalformed", func(t *testing.T) {
		if rec := env.do(t, http.MethodPost, "/samples", "tenant-a", IngestRequest{}); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for empty batch, got %d", rec.Code)
		}
		if rec := env.do(t, http.MethodPost, "/samples", "tenant-a", "{not json"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for malformed body, got %d", rec.Code)
		}
	})
}

func TestAnalysisEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "tenant-a")

	t.Run("Clusters", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/clusters", "tenant-a", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[struct {
			ReportID string               `json:"reportId"`
			Cached   bool                 `json:"cached"`
			Result   domain.ClusterReport `json:"result"`
			Metadata ResponseMetadata     `json:"metadata"`
		}](t, rec)
		if resp.ReportID == "" || resp.Cached {
			t.Errorf("expected a fresh report, got %+v", resp)
		}
		if len(resp.Result.Clusters) != 1 || len(resp.Result.Alerts) != 1 {
			t.Errorf("expected one cluster and one alert, got %d/%d", len(resp.Result.Clusters), len(resp.Result.Alerts))
		}
		if resp.Metadata.Version != "test-v1" || resp.Metadata.TraceID == "" {
			t.Errorf("unexpected metadata %+v", resp.Metadata)
		}

		again := decode[AnalysisResponse](t, env.do(t, http.MethodPost, "/analysis/clusters", "tenant-a", ""))
		if !again.Cached || again.ReportID != resp.ReportID {
			t.Errorf("expected cached report %s, got %+v", resp.ReportID, again)
		}

		report := env.do(t, http.MethodGet, "/reports/"+resp.ReportID, "tenant-a", nil)
		if report.Code != http.StatusOK {
			t.Errorf("expected stored report, got %d", report.Code)
		}
		if rec := env.do(t, http.MethodGet, "/reports/"+resp.ReportID, "tenant-b", nil); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 across tenants, got %d", rec.Code)
		}
	})

	t.Run("Heatmap", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/heatmap", "tenant-a", domain.HeatmapRequest{Metric: domain.MetricSampleDensity})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[struct {
			Result domain.HeatmapResult `json:"result"`
		}](t, rec)
		if len(resp.Result.Points) != 3 {
			t.Errorf("expected 3 heatmap points, got %d", len(resp.Result.Points))
		}
	})

	t.Run("HeatmapBadFilter", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/heatmap", "tenant-a", `{"filter":"location_id =="}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("OutbreakMissingPeriods", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/outbreak", "tenant-a", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("Outbreak", func(t *testing.T) {
		req := domain.OutbreakRequest{
			BaselineFrom: epoch,
			BaselineTo:   epoch.Add(60 * time.Hour),
			CurrentFrom:  epoch.Add(61 * time.Hour),
			CurrentTo:    epoch.Add(120 * time.Hour),
		}
		rec := env.do(t, http.MethodPost, "/analysis/outbreak", "tenant-a", req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[struct {
			Result domain.OutbreakResult `json:"result"`
		}](t, rec)
		if resp.Result.BaselineCount+resp.Result.CurrentCount != 12 {
			t.Errorf("expected all 12 samples split across periods, got %d+%d", resp.Result.BaselineCount, resp.Result.CurrentCount)
		}
	})

	t.Run("ForecastHorizon", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/forecast", "tenant-a", domain.ForecastRequest{ForecastPeriod: 60})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("Dashboard", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/dashboard", "tenant-a", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decode[AnalysisResponse](t, rec)
		if resp.Kind != domain.KindDashboard {
			t.Errorf("expected dashboard kind, got %q", resp.Kind)
		}
	})
}

func TestAsyncDashboard(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "tenant-a")

	w := worker.NewWorker(env.bus, env.svc)
	if err := w.Start(worker.Config{TenantIDs: []string{"tenant-a"}}); err != nil {
		t.Fatalf("worker Start failed: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	_, wantID, err := env.svc.PrepareDashboard("tenant-a", domain.DashboardRequest{})
	if err != nil {
		t.Fatalf("PrepareDashboard failed: %v", err)
	}

	t.Run("Queued", func(t *testing.T) {
		completed := make(chan *domain.Message, 1)
		_, err := env.bus.Subscribe(context.Background(), "tenant-a", domain.TopicAnalysisCompleted, func(_ context.Context, msg *domain.Message) error {
			select {
			case completed <- msg:
			default:
			}
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		rec := env.do(t, http.MethodPost, "/analysis/dashboard?async=true", "tenant-a", nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		queued := decode[QueuedResponse](t, rec)
		if queued.ReportID != wantID || queued.Status != "queued" {
			t.Errorf("unexpected queued response %+v", queued)
		}
		if loc := rec.Header().Get("Location"); loc != "/reports/"+wantID {
			t.Errorf("unexpected Location %q", loc)
		}

		select {
		case <-completed:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for the worker")
		}
		if rec := env.do(t, http.MethodGet, queued.Location, "tenant-a", nil); rec.Code != http.StatusOK {
			t.Errorf("expected the report to be stored, got %d", rec.Code)
		}
	})

	t.Run("Wait", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/dashboard?async=true&wait=5s", "tenant-a", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		done := decode[domain.AnalysisCompleted](t, rec)
		if done.ReportID != wantID || done.Error != "" || done.ClusterCount != 1 {
			t.Errorf("unexpected completion %+v", done)
		}
	})

	t.Run("BadWait", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/dashboard?async=true&wait=forever", "tenant-a", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("WorkerNotListening", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/analysis/dashboard?async=true&wait=50ms", "tenant-b", nil)
		if rec.Code != http.StatusAccepted {
			t.Errorf("expected 202 when the wait elapses, got %d", rec.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t)

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/samples", nil)
		req.Header.Set("Origin", "https://dashboard.example")
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204 without a tenant, got %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example" {
			t.Errorf("expected origin echoed, got %q", got)
		}
	})

	t.Run("RequestIDPropagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected request id echoed, got %q", got)
		}
		// Without a registered tracer provider the span has no trace id.
		if got := rec.Header().Get(TraceIDHeader); got != "req-123" {
			t.Errorf("expected trace id to fall back to request id, got %q", got)
		}
	})

	t.Run("RequestIDGenerated", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/health", "", nil)
		if rec.Header().Get(RequestIDHeader) == "" {
			t.Error("expected a generated request id")
		}
	})
}
