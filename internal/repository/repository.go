// Package repository provides rule and evaluation persistence.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.RuleRepository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.RuleRepository, error) {
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

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
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

	// Run migrations
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

// SaveRule stores a rule definition, validating it first. Re-saving an
// existing rule updates it and records the modification timestamp.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	metadata, _ := json.Marshal(rule.Metadata)
	now := time.Now().UTC()

	query := `
		INSERT INTO rules (rule_id, name, formula, description, threshold, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (rule_id) DO UPDATE SET
			name = excluded.name,
			formula = excluded.formula,
			description = excluded.description,
			threshold = excluded.threshold,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Formula, rule.Description,
		rule.Threshold, string(metadata), now, now,
	)
	return err
}

// GetRule retrieves a rule definition by ID.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: ruleID is required", ErrInvalidInput)
	}

	query := `
		SELECT rule_id, name, formula, description, threshold, metadata
		FROM rules
		WHERE rule_id = ?
	`

	var rule domain.Rule
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Formula,
		&rule.Description, &rule.Threshold, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Metadata = make(map[string]any)
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &rule.Metadata)
	}

	return &rule, nil
}

// ListRules retrieves all rule definitions ordered by name.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT rule_id, name, formula, description, threshold, metadata
		FROM rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleList []*domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var metadata string

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Formula,
			&rule.Description, &rule.Threshold, &metadata,
		); err != nil {
			return nil, err
		}

		rule.Metadata = make(map[string]any)
		if metadata != "" {
			json.Unmarshal([]byte(metadata), &rule.Metadata)
		}

		ruleList = append(ruleList, &rule)
	}

	return ruleList, rows.Err()
}

// DeleteRule removes a rule definition.
func (r *SQLRepository) DeleteRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("%w: ruleID is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM rules WHERE rule_id = ?`), ruleID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveEvaluationSummary stores one rule's evaluation summary under a run.
func (r *SQLRepository) SaveEvaluationSummary(ctx context.Context, runID string, summary *domain.EvaluationSummary) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}
	if summary == nil {
		return fmt.Errorf("%w: summary is required", ErrInvalidInput)
	}

	partyResults, _ := json.Marshal(summary.PartyResults)

	query := `
		INSERT INTO evaluation_summaries (
			run_id, rule_id, rule_name, compliance_status, compliance_rate,
			total_items, gc_count, pc_count, dnc_count, error_count,
			party_results, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, rule_id) DO UPDATE SET
			rule_name = excluded.rule_name,
			compliance_status = excluded.compliance_status,
			compliance_rate = excluded.compliance_rate,
			total_items = excluded.total_items,
			gc_count = excluded.gc_count,
			pc_count = excluded.pc_count,
			dnc_count = excluded.dnc_count,
			error_count = excluded.error_count,
			party_results = excluded.party_results
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		runID, summary.RuleID, summary.RuleName,
		string(summary.ComplianceStatus), summary.ComplianceRate,
		summary.TotalItems, summary.GCCount, summary.PCCount,
		summary.DNCCount, summary.ErrorCount,
		string(partyResults), time.Now().UTC(),
	)
	return err
}

// GetEvaluationSummaries retrieves every summary recorded under a run.
func (r *SQLRepository) GetEvaluationSummaries(ctx context.Context, runID string) ([]*domain.EvaluationSummary, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `
		SELECT rule_id, rule_name, compliance_status, compliance_rate,
			   total_items, gc_count, pc_count, dnc_count, error_count,
			   party_results
		FROM evaluation_summaries
		WHERE run_id = ?
		ORDER BY rule_name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*domain.EvaluationSummary
	for rows.Next() {
		var s domain.EvaluationSummary
		var status, partyResults string

		if err := rows.Scan(
			&s.RuleID, &s.RuleName, &status, &s.ComplianceRate,
			&s.TotalItems, &s.GCCount, &s.PCCount,
			&s.DNCCount, &s.ErrorCount, &partyResults,
		); err != nil {
			return nil, err
		}

		s.ComplianceStatus = domain.ComplianceStatus(status)
		if partyResults != "" && partyResults != "null" {
			json.Unmarshal([]byte(partyResults), &s.PartyResults)
		}

		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}

// Ping verifies database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
