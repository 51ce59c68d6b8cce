// Package worker runs dashboard analyses requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-health/kestrel/internal/analytics"
	"github.com/opensource-health/kestrel/internal/bus"
	"github.com/opensource-health/kestrel/internal/domain"
)

// Worker consumes analysis requests, runs them through the analytics
// service and announces the outcome.
type Worker struct {
	bus domain.EventBus
	svc *analytics.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs lists the tenants whose request topics are consumed.
	TenantIDs []string
}

// NewWorker creates a worker. Call Start to subscribe.
func NewWorker(eventBus domain.EventBus, svc *analytics.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		svc:    svc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the request topic of every configured tenant.
// A tenant that fails to subscribe is logged and skipped.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return fmt.Errorf("%w: worker needs at least one tenant", domain.ErrInvalidInput)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, tenantID := range cfg.TenantIDs {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
			return w.process(ctx, tenantID, msg)
		})
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.subscriptions = append(w.subscriptions, sub)
		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicAnalysisRequested,
		)
	}

	if len(w.subscriptions) == 0 {
		return fmt.Errorf("worker could not subscribe for any tenant")
	}
	return nil
}

// process runs one dashboard request. The outcome is published on the
// completed topic and, when the sender waits, returned as the reply.
func (w *Worker) process(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req domain.AnalysisRequested
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analysis request",
			"tenant_id", tenantID,
			"message_id", msg.ID,
			"error", err,
		)
		return w.complete(ctx, msg, domain.AnalysisCompleted{
			Kind:  domain.KindDashboard,
			Error: fmt.Sprintf("%v: malformed request", domain.ErrInvalidInput),
		})
	}

	completed := domain.AnalysisCompleted{ReportID: req.ReportID, Kind: domain.KindDashboard}
	res, err := w.svc.Dashboard(ctx, tenantID, req.Request)
	if err != nil {
		slog.Error("background analysis failed",
			"tenant_id", tenantID,
			"report_id", req.ReportID,
			"error", err,
		)
		completed.Error = err.Error()
		return w.complete(ctx, msg, completed)
	}

	if req.ReportID != "" && req.ReportID != res.Report.ID {
		slog.Warn("report id differs from the requested id",
			"tenant_id", tenantID,
			"requested", req.ReportID,
			"report_id", res.Report.ID,
		)
	}
	completed.ReportID = res.Report.ID
	completed.ClusterCount = len(res.Value.Clusters.Clusters)
	completed.AlertCount = len(res.Value.Clusters.Alerts)
	completed.Outbreak = res.Value.Outbreak.OutbreakDetected

	// A cached report already announced its alerts.
	if !res.Cached {
		w.raiseAlerts(ctx, tenantID, res.Value.Clusters.Alerts)
	}

	slog.Info("background analysis completed",
		"tenant_id", tenantID,
		"report_id", res.Report.ID,
		"clusters", completed.ClusterCount,
		"alerts", completed.AlertCount,
		"outbreak", completed.Outbreak,
		"cached", res.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return w.complete(ctx, msg, completed)
}

func (w *Worker) raiseAlerts(ctx context.Context, tenantID string, alerts []domain.OutbreakAlert) {
	for i := range alerts {
		payload, err := json.Marshal(&alerts[i])
		if err != nil {
			slog.Error("failed to encode alert", "alert_id", alerts[i].ID, "error", err)
			continue
		}
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlertRaised, payload); err != nil {
			slog.Error("failed to publish alert",
				"tenant_id", tenantID,
				"alert_id", alerts[i].ID,
				"error", err,
			)
		}
	}
}

func (w *Worker) complete(ctx context.Context, msg *domain.Message, completed domain.AnalysisCompleted) error {
	payload, err := json.Marshal(completed)
	if err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, msg.TenantID, domain.TopicAnalysisCompleted, payload); err != nil {
		slog.Error("failed to publish completion",
			"tenant_id", msg.TenantID,
			"report_id", completed.ReportID,
			"error", err,
		)
	}
	return bus.Reply(ctx, w.bus, msg, payload)
}

// Stop unsubscribes every tenant.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats describes the active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
