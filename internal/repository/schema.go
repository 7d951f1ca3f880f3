package repository

// Schema definitions for the coverage library.
// Compatible with both SQLite and PostgreSQL.

const schemaParseRecords = `
CREATE TABLE IF NOT EXISTS parse_records (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    clause_hash TEXT NOT NULL,
    coverage_type TEXT NOT NULL,
    coverage_name TEXT,
    policy_doc_id TEXT,
    clause_text TEXT NOT NULL,
    status TEXT NOT NULL,
    parse_method TEXT,
    confidence REAL NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_parse_records_tenant ON parse_records(tenant_id);
CREATE INDEX IF NOT EXISTS idx_parse_records_hash ON parse_records(tenant_id, clause_hash);
CREATE INDEX IF NOT EXISTS idx_parse_records_type ON parse_records(tenant_id, coverage_type);
CREATE INDEX IF NOT EXISTS idx_parse_records_created ON parse_records(tenant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaParseRecords,
	}
}
