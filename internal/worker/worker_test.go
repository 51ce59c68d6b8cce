package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/opensource-health/kestrel/internal/analytics"
	"github.com/opensource-health/kestrel/internal/bus"
	"github.com/opensource-health/kestrel/internal/cache"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/filter"
	"github.com/opensource-health/kestrel/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// hotspotSamples holds one tight cluster of 12 samples, 4 of them positive.
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

type fixture struct {
	bus    *bus.ChannelBus
	repo   *repository.SQLRepository
	svc    *analytics.Service
	worker *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.SaveSamples(context.Background(), "tenant-a", hotspotSamples()); err != nil {
		t.Fatalf("SaveSamples failed: %v", err)
	}

	filters, err := filter.NewCompiler()
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	svc := analytics.NewService(analytics.NewEngine(2, nil), repo, repo, cache.NewLRUCache(16), filters, time.Minute)
	svc.Now = func() time.Time { return epoch.Add(10*24*time.Hour + 30*time.Second) }

	eventBus := bus.NewChannelBus(16)
	t.Cleanup(func() { eventBus.Close() })

	return &fixture{bus: eventBus, repo: repo, svc: svc, worker: NewWorker(eventBus, svc)}
}

func (f *fixture) listen(t *testing.T, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 8)
	_, err := f.bus.Subscribe(context.Background(), "tenant-a", topic, func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func await(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestWorkerStartStop(t *testing.T) {
	f := newFixture(t)

	if err := f.worker.Start(Config{}); err == nil {
		t.Error("expected an error without tenants")
	}
	if err := f.worker.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stats := f.worker.GetStats()
	if stats.SubscriptionCount != 2 || stats.Topics[0] != domain.TopicAnalysisRequested {
		t.Errorf("unexpected stats %+v", stats)
	}
	if err := f.worker.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if stats := f.worker.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}

func TestWorkerProcessesDashboard(t *testing.T) {
	f := newFixture(t)
	completedCh := f.listen(t, domain.TopicAnalysisCompleted)
	alertCh := f.listen(t, domain.TopicAlertRaised)

	if err := f.worker.Start(Config{TenantIDs: []string{"tenant-a"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.worker.Stop()

	ctx := context.Background()
	resolved := f.svc.ResolveDashboard(domain.DashboardRequest{})
	reportID, err := analytics.DashboardReportID("tenant-a", resolved)
	if err != nil {
		t.Fatalf("DashboardReportID failed: %v", err)
	}
	payload, _ := json.Marshal(domain.AnalysisRequested{ReportID: reportID, Request: resolved})
	if err := f.bus.Publish(ctx, "tenant-a", domain.TopicAnalysisRequested, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	t.Run("Completed", func(t *testing.T) {
		var completed domain.AnalysisCompleted
		if err := json.Unmarshal(await(t, completedCh).Payload, &completed); err != nil {
			t.Fatalf("bad completion payload: %v", err)
		}
		if completed.Error != "" {
			t.Fatalf("unexpected error %q", completed.Error)
		}
		if completed.ReportID != reportID || completed.Kind != domain.KindDashboard {
			t.Errorf("unexpected completion %+v", completed)
		}
		if completed.ClusterCount != 1 || completed.AlertCount != 1 {
			t.Errorf("expected 1 cluster and 1 alert, got %d and %d", completed.ClusterCount, completed.AlertCount)
		}
	})

	t.Run("AlertRaised", func(t *testing.T) {
		var alert domain.OutbreakAlert
		if err := json.Unmarshal(await(t, alertCh).Payload, &alert); err != nil {
			t.Fatalf("bad alert payload: %v", err)
		}
		if alert.TenantID != "tenant-a" || alert.Severity != domain.SeverityHigh {
			t.Errorf("unexpected alert %+v", alert)
		}
	})

	t.Run("ReportStored", func(t *testing.T) {
		report, err := f.repo.GetReport(ctx, "tenant-a", reportID)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if report.Kind != domain.KindDashboard {
			t.Errorf("expected dashboard report, got %s", report.Kind)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		reply, err := f.bus.Request(reqCtx, "tenant-a", domain.TopicAnalysisRequested, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var completed domain.AnalysisCompleted
		if err := json.Unmarshal(reply, &completed); err != nil {
			t.Fatalf("bad reply: %v", err)
		}
		if completed.ReportID != reportID || completed.AlertCount != 1 {
			t.Errorf("unexpected reply %+v", completed)
		}
		await(t, completedCh)

		select {
		case msg := <-alertCh:
			t.Errorf("cached report should not raise alerts again, got %s", msg.Payload)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("MalformedRequest", func(t *testing.T) {
		if err := f.bus.Publish(ctx, "tenant-a", domain.TopicAnalysisRequested, []byte("{")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		var completed domain.AnalysisCompleted
		if err := json.Unmarshal(await(t, completedCh).Payload, &completed); err != nil {
			t.Fatalf("bad completion payload: %v", err)
		}
		if completed.Error == "" {
			t.Error("expected an error for a malformed request")
		}
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		bad := resolved
		bad.Params.MinPositiveRate = 2
		body, _ := json.Marshal(domain.AnalysisRequested{Request: bad})
		_ = f.bus.Publish(ctx, "tenant-a", domain.TopicAnalysisRequested, body)

		var completed domain.AnalysisCompleted
		if err := json.Unmarshal(await(t, completedCh).Payload, &completed); err != nil {
			t.Fatalf("bad completion payload: %v", err)
		}
		if completed.Error == "" {
			t.Error("expected an error for invalid params")
		}
	})
}
