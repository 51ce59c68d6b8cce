// Package config builds a domain.Config from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-health/kestrel/internal/domain"
)

// Load reads an optional .env file, picks the tier defaults from
// KESTREL_TIER and overlays the remaining KESTREL_* variables.
func Load() (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	switch tier := getEnv("KESTREL_TIER", string(domain.TierCommunity)); domain.Tier(tier) {
	case domain.TierCommunity:
	case domain.TierPro:
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidInput, tier)
	}

	var errs []error
	intVar := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				errs = append(errs, fmt.Errorf("%s: expected a non-negative integer, got %q", key, v))
				return
			}
			*dst = n
		}
	}
	boolVar := func(dst *bool, key string) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: expected a boolean, got %q", key, v))
				return
			}
			*dst = b
		}
	}
	durationVar := func(dst *time.Duration, key string) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				errs = append(errs, fmt.Errorf("%s: expected a duration, got %q", key, v))
				return
			}
			*dst = d
		}
	}

	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	intVar(&cfg.Server.Port, "KESTREL_PORT")

	repo := &cfg.Repository
	repo.Driver = getEnv("KESTREL_DB_DRIVER", repo.Driver)
	repo.SQLitePath = getEnv("KESTREL_SQLITE_PATH", repo.SQLitePath)
	repo.PostgresHost = getEnv("KESTREL_PG_HOST", repo.PostgresHost)
	intVar(&repo.PostgresPort, "KESTREL_PG_PORT")
	repo.PostgresUser = getEnv("KESTREL_PG_USER", repo.PostgresUser)
	repo.PostgresPassword = getSecret("KESTREL_PG_PASSWORD", "KESTREL_PG_PASSWORD_FILE", repo.PostgresPassword)
	repo.PostgresDB = getEnv("KESTREL_PG_DB", repo.PostgresDB)
	repo.PostgresSSLMode = getEnv("KESTREL_PG_SSLMODE", repo.PostgresSSLMode)
	intVar(&repo.MaxOpenConns, "KESTREL_PG_MAX_OPEN_CONNS")

	c := &cfg.Cache
	c.Type = getEnv("KESTREL_CACHE", c.Type)
	c.RedisAddr = getEnv("KESTREL_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getSecret("KESTREL_REDIS_PASSWORD", "KESTREL_REDIS_PASSWORD_FILE", c.RedisPassword)
	intVar(&c.RedisDB, "KESTREL_REDIS_DB")
	boolVar(&c.EnableTwoPhase, "KESTREL_CACHE_TWO_PHASE")
	intVar(&c.LocalMaxSize, "KESTREL_CACHE_SIZE")
	durationVar(&c.LocalTTL, "KESTREL_CACHE_LOCAL_TTL")
	durationVar(&c.ReportTTL, "KESTREL_REPORT_TTL")

	b := &cfg.EventBus
	b.Type = getEnv("KESTREL_BUS", b.Type)
	intVar(&b.ChannelBufferSize, "KESTREL_BUS_BUFFER")
	b.NATSUrl = getEnv("KESTREL_NATS_URL", b.NATSUrl)
	b.NATSToken = getSecret("KESTREL_NATS_TOKEN", "KESTREL_NATS_TOKEN_FILE", b.NATSToken)
	if v := getEnv("KESTREL_KAFKA_BROKERS", ""); v != "" {
		b.KafkaBrokers = splitList(v)
	}
	b.KafkaGroupID = getEnv("KESTREL_KAFKA_GROUP", b.KafkaGroupID)

	intVar(&cfg.Analytics.MaxWorkers, "KESTREL_MAX_WORKERS")
	boolVar(&cfg.Analytics.AsyncWorker, "KESTREL_ASYNC_WORKER")
	if v, ok := os.LookupEnv("KESTREL_TENANTS"); ok {
		cfg.Analytics.Tenants = splitList(v)
	}

	if debug, _ := strconv.ParseBool(os.Getenv("KESTREL_DEBUG")); debug {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Level = getEnv("KESTREL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KESTREL_LOG_FORMAT", cfg.Logging.Format)
	boolVar(&cfg.Tracing.Enabled, "KESTREL_TRACING")

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getSecret prefers the variable itself, then the file named by fileKey.
func getSecret(key, fileKey, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	if path, ok := os.LookupEnv(fileKey); ok {
		if content, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
