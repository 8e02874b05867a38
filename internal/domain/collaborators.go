// Package domain defines the core types and collaborator interfaces for
// Kestrel, the audit-quality rule classification and scoring engine.
package domain

import (
	"context"
	"time"
)

// RuleRepository is the read/write store for rule definitions and
// evaluation summaries. Readers may call it concurrently.
type RuleRepository interface {
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	DeleteRule(ctx context.Context, ruleID string) error

	SaveEvaluationSummary(ctx context.Context, runID string, summary *EvaluationSummary) error
	GetEvaluationSummaries(ctx context.Context, runID string) ([]*EvaluationSummary, error)

	Ping(ctx context.Context) error
	Close() error
}

// FormulaEngine executes a rule's formula against a dataset and returns
// the dataset augmented with one raw outcome per row under resultColumn.
// Raw outcomes are booleans, numbers on a 0..1 scale, or text, including
// "#"/"ERROR"-prefixed evaluator-error sentinels. The engine must never
// mutate the input dataset in place.
type FormulaEngine interface {
	EvaluateFormula(ctx context.Context, formula string, ds *Dataset, resultColumn string) (*Dataset, error)
}

// DatasetProvider loads a tabular dataset from an external source.
type DatasetProvider interface {
	Load(ctx context.Context, source string) (*Dataset, error)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
