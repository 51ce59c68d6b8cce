//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-health/kestrel/internal/bus"
	"github.com/opensource-health/kestrel/internal/cache"
	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/repository"
)

func TestPostgresRepository(t *testing.T) {
	host := os.Getenv("KESTREL_TEST_PG_HOST")
	if host == "" {
		t.Skip("KESTREL_TEST_PG_HOST not set")
	}
	cfg := domain.ProConfig().Repository
	cfg.PostgresHost = host
	cfg.PostgresUser = os.Getenv("KESTREL_TEST_PG_USER")
	cfg.PostgresPassword = os.Getenv("KESTREL_TEST_PG_PASSWORD")

	repo, err := repository.New(cfg)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := getTestConfig().TenantID
	now := time.Now().UTC().Truncate(time.Millisecond)
	var samples []domain.SampleRecord
	for i, s := range hotspot(now) {
		samples = append(samples, domain.SampleRecord{
			ID:          s.ID,
			Latitude:    s.Latitude,
			Longitude:   s.Longitude,
			CollectedAt: s.CollectedAt,
			Result:      domain.TestResult(s.Result),
			LocationID:  s.LocationID,
			Metadata:    map[string]any{"index": float64(i)},
		})
	}
	if err := repo.SaveSamples(ctx, tenantID, samples); err != nil {
		t.Fatalf("SaveSamples failed: %v", err)
	}
	got, err := repo.FetchSamples(ctx, tenantID, domain.SampleFilter{Results: []domain.TestResult{domain.ResultPositive}})
	if err != nil {
		t.Fatalf("FetchSamples failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("expected 4 positive samples, got %d", len(got))
	}
}

func TestRedisTwoPhaseCache(t *testing.T) {
	addr := os.Getenv("KESTREL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KESTREL_TEST_REDIS_ADDR not set")
	}
	c, err := cache.New(domain.CacheConfig{Type: "redis", RedisAddr: addr, EnableTwoPhase: true, LocalMaxSize: 16, LocalTTL: time.Second})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	tenantID := getTestConfig().TenantID
	if err := c.Set(ctx, tenantID, "report", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := c.Get(ctx, tenantID, "report")
	if err != nil || string(got) != "payload" {
		t.Errorf("expected payload, got %q (%v)", got, err)
	}
	_ = c.Delete(ctx, tenantID, "report")
}

func TestNATSRequestReply(t *testing.T) {
	url := os.Getenv("KESTREL_TEST_NATS_URL")
	if url == "" {
		t.Skip("KESTREL_TEST_NATS_URL not set")
	}
	b, err := bus.New(domain.EventBusConfig{Type: "nats", NATSUrl: url, NATSMaxReconnects: 1, NATSReconnectWait: 1})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	tenantID := getTestConfig().TenantID
	_, err = b.Subscribe(ctx, tenantID, "echo", func(ctx context.Context, msg *domain.Message) error {
		return bus.Reply(ctx, b, msg, msg.Payload)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	reply, err := b.Request(reqCtx, tenantID, "echo", []byte("ping"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if string(reply) != "ping" {
		t.Errorf("expected echo, got %q", reply)
	}
}
