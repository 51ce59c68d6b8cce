// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// SampleRepository supplies sample snapshots to the analytics engine.
// All methods require tenantID for strict multi-tenancy isolation.
type SampleRepository interface {
	// FetchSamples returns matching samples ordered by collection time, then id.
	FetchSamples(ctx context.Context, tenantID string, filter SampleFilter) ([]SampleRecord, error)

	GetSample(ctx context.Context, tenantID string, sampleID string) (*SampleRecord, error)

	// SaveSamples upserts a batch atomically.
	SaveSamples(ctx context.Context, tenantID string, samples []SampleRecord) error
}

// ReportStore persists analysis reports.
type ReportStore interface {
	SaveReport(ctx context.Context, tenantID string, report *AnalysisReport) error
	GetReport(ctx context.Context, tenantID string, reportID string) (*AnalysisReport, error)
}

// Repository is the full persistence surface.
type Repository interface {
	SampleRepository
	ReportStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
