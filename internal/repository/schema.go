package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    rule_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    formula TEXT NOT NULL,
    description TEXT,
    threshold REAL NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_name ON rules(name);
`

const schemaEvaluationSummaries = `
CREATE TABLE IF NOT EXISTS evaluation_summaries (
    run_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    compliance_status TEXT NOT NULL,
    compliance_rate REAL NOT NULL,
    total_items INTEGER NOT NULL,
    gc_count INTEGER NOT NULL,
    pc_count INTEGER NOT NULL,
    dnc_count INTEGER NOT NULL,
    error_count INTEGER NOT NULL,
    party_results TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, rule_id)
);

CREATE INDEX IF NOT EXISTS idx_summaries_run ON evaluation_summaries(run_id);
CREATE INDEX IF NOT EXISTS idx_summaries_rule ON evaluation_summaries(rule_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaEvaluationSummaries,
	}
}
