// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-health/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && cfg.Driver != "sqlite" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return nil
}

const upsertSample = `
	INSERT INTO samples (
		id, tenant_id, latitude, longitude, collected_at, result, location_id, metadata
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (tenant_id, id) DO UPDATE SET
		latitude = excluded.latitude,
		longitude = excluded.longitude,
		collected_at = excluded.collected_at,
		result = excluded.result,
		location_id = excluded.location_id,
		metadata = excluded.metadata
`

// SaveSamples validates and upserts a batch in one transaction. Collection
// times are kept at millisecond precision.
func (r *SQLRepository) SaveSamples(ctx context.Context, tenantID string, samples []domain.SampleRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if err := domain.ValidateSamples(samples); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.rebind(upsertSample))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range samples {
		s := &samples[i]
		var metadata sql.NullString
		if len(s.Metadata) > 0 {
			b, err := json.Marshal(s.Metadata)
			if err != nil {
				return fmt.Errorf("%w: sample %s metadata: %v", domain.ErrInvalidInput, s.ID, err)
			}
			metadata = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			s.ID, tenantID, s.Latitude, s.Longitude,
			millis(s.CollectedAt), string(s.Result), s.LocationID, metadata,
		); err != nil {
			return fmt.Errorf("failed to save sample %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

const sampleColumns = `id, tenant_id, latitude, longitude, collected_at, result, location_id, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (domain.SampleRecord, error) {
	var s domain.SampleRecord
	var collected int64
	var result string
	var metadata sql.NullString
	if err := row.Scan(
		&s.ID, &s.TenantID, &s.Latitude, &s.Longitude,
		&collected, &result, &s.LocationID, &metadata,
	); err != nil {
		return s, err
	}
	s.CollectedAt = fromMillis(collected)
	s.Result = domain.TestResult(result)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &s.Metadata); err != nil {
			return s, fmt.Errorf("sample %s has corrupt metadata: %w", s.ID, err)
		}
	}
	return s, nil
}

// GetSample retrieves a sample by ID with tenant isolation.
func (r *SQLRepository) GetSample(ctx context.Context, tenantID string, sampleID string) (*domain.SampleRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	query := `SELECT ` + sampleColumns + ` FROM samples WHERE tenant_id = ? AND id = ?`

	s, err := scanSample(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, sampleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sample %s", domain.ErrNotFound, sampleID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FetchSamples returns the tenant's samples matching f, ordered by
// collection time then id. From and To are inclusive.
func (r *SQLRepository) FetchSamples(ctx context.Context, tenantID string, f domain.SampleFilter) ([]domain.SampleRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + sampleColumns + ` FROM samples WHERE tenant_id = ?`)
	args := []any{tenantID}

	if !f.From.IsZero() {
		b.WriteString(` AND collected_at >= ?`)
		args = append(args, millis(f.From))
	}
	if !f.To.IsZero() {
		b.WriteString(` AND collected_at <= ?`)
		args = append(args, millis(f.To))
	}
	if len(f.LocationIDs) > 0 {
		b.WriteString(` AND location_id IN (` + placeholders(len(f.LocationIDs)) + `)`)
		for _, id := range f.LocationIDs {
			args = append(args, id)
		}
	}
	if len(f.Results) > 0 {
		b.WriteString(` AND result IN (` + placeholders(len(f.Results)) + `)`)
		for _, res := range f.Results {
			args = append(args, string(res))
		}
	}
	b.WriteString(` ORDER BY collected_at, id`)
	if f.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(b.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]domain.SampleRecord, 0)
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// SaveReport upserts an analysis report. Re-running a request replaces
// the previous result under the same id.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.AnalysisReport) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO reports (id, tenant_id, kind, created_at, request, result)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			kind = excluded.kind,
			created_at = excluded.created_at,
			request = excluded.request,
			result = excluded.result
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, string(report.Kind), millis(report.CreatedAt),
		string(report.Request), string(report.Result),
	)
	return err
}

// GetReport retrieves a report by ID with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.AnalysisReport, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, kind, created_at, request, result
		FROM reports
		WHERE tenant_id = ? AND id = ?
	`
	var report domain.AnalysisReport
	var kind, request, result string
	var created int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(
		&report.ID, &report.TenantID, &kind, &created, &request, &result,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: report %s", domain.ErrNotFound, reportID)
	}
	if err != nil {
		return nil, err
	}
	report.Kind = domain.AnalysisKind(kind)
	report.CreatedAt = fromMillis(created)
	report.Request = json.RawMessage(request)
	report.Result = json.RawMessage(result)
	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

var _ domain.Repository = (*SQLRepository)(nil)
