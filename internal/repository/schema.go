package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Instants used for filtering
// and ordering are also stored as Unix nanoseconds so comparisons do not
// depend on how a driver encodes timestamps.

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    vendor_id TEXT NOT NULL,
    matter_id TEXT NOT NULL,
    practice_area TEXT,
    total_amount DOUBLE PRECISION NOT NULL,
    currency TEXT,
    description TEXT,
    total_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    average_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    line_item_count INTEGER NOT NULL DEFAULT 0,
    unique_timekeepers INTEGER NOT NULL DEFAULT 0,
    risk_label DOUBLE PRECISION,
    submitted_at TIMESTAMP NOT NULL,
    submitted_nanos BIGINT NOT NULL,
    period_end TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(tenant_id, vendor_id, matter_id, submitted_nanos);
CREATE INDEX IF NOT EXISTS idx_invoices_labelled ON invoices(tenant_id, risk_label);
`

const schemaLineItems = `
CREATE TABLE IF NOT EXISTS line_items (
    tenant_id TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    id TEXT,
    description TEXT NOT NULL,
    hours DOUBLE PRECISION NOT NULL,
    rate DOUBLE PRECISION NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    timekeeper_name TEXT,
    timekeeper_title TEXT,
    entry_date TIMESTAMP NOT NULL,
    item_type TEXT,
    PRIMARY KEY (tenant_id, invoice_id, position)
);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    invoice_id TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    level TEXT NOT NULL,
    model_version TEXT,
    created_at TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_invoice ON assessments(tenant_id, invoice_id);
CREATE INDEX IF NOT EXISTS idx_assessments_level ON assessments(tenant_id, level);
`

const schemaModelArtifacts = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    version TEXT PRIMARY KEY,
    algorithm TEXT NOT NULL,
    sample_count INTEGER NOT NULL,
    validation_mae DOUBLE PRECISION NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    created_nanos BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_artifacts_created ON model_artifacts(created_nanos);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    severity TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 5,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaInvoices,
		schemaLineItems,
		schemaAssessments,
		schemaModelArtifacts,
		schemaRuleConfigs,
	}
}
