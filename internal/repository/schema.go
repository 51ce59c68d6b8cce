package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Timestamps are stored as
// Unix milliseconds so range predicates compare the same way on both.

const schemaSamples = `
CREATE TABLE IF NOT EXISTS samples (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    collected_at BIGINT NOT NULL,
    result TEXT NOT NULL,
    location_id TEXT NOT NULL,
    metadata TEXT,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_samples_collected ON samples(tenant_id, collected_at);
CREATE INDEX IF NOT EXISTS idx_samples_location ON samples(tenant_id, location_id);
`

const schemaReports = `
CREATE TABLE IF NOT EXISTS reports (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    request TEXT NOT NULL,
    result TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_reports_kind ON reports(tenant_id, kind, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSamples,
		schemaReports,
	}
}
