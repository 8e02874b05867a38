// Package rules orchestrates rule evaluation: rule resolution, schema
// validation, formula execution through the FormulaEngine collaborator,
// outcome normalization, classification, and aggregation.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evaluator turns a rule (or rule ID) plus a dataset into an immutable
// evaluation result.
type Evaluator struct {
	repo       domain.RuleRepository
	engine     domain.FormulaEngine
	determiner *compliance.Determiner
	maxWorkers int
}

// NewEvaluator creates an evaluator. maxWorkers bounds concurrent rule
// evaluations in the batch path.
func NewEvaluator(repo domain.RuleRepository, engine domain.FormulaEngine, determiner *compliance.Determiner, maxWorkers int) *Evaluator {
	if determiner == nil {
		determiner = compliance.NewDefaultDeterminer()
	}
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return &Evaluator{
		repo:       repo,
		engine:     engine,
		determiner: determiner,
		maxWorkers: maxWorkers,
	}
}

// ResultColumnName derives the deterministic per-rule outcome column name.
func ResultColumnName(ruleName string) string {
	return "Result_" + strings.ReplaceAll(ruleName, " ", "_")
}

// StatusColumnName derives the per-rule classified-outcome column name.
func StatusColumnName(ruleName string) string {
	return "Status_" + strings.ReplaceAll(ruleName, " ", "_")
}

// EvaluateRuleByID resolves a rule through the repository and evaluates it.
func (e *Evaluator) EvaluateRuleByID(ctx context.Context, ruleID string, ds *domain.Dataset, partyColumn string) (*Result, error) {
	if e.repo == nil {
		return nil, fmt.Errorf("no rule repository configured")
	}
	rule, err := e.repo.GetRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("rule %s not found: %w", ruleID, err)
	}
	return e.EvaluateRule(ctx, rule, ds, partyColumn)
}

// EvaluateRule evaluates one rule against a dataset. Schema mismatches
// are configuration errors and fail the call before any row is touched.
// partyColumn may be empty, in which case the rule's own responsible
// party column applies.
func (e *Evaluator) EvaluateRule(ctx context.Context, rule *domain.Rule, ds *domain.Dataset, partyColumn string) (*Result, error) {
	start := time.Now()
	var records []OperationRecord

	if err := rule.ValidateWithDataset(ds); err != nil {
		return nil, err
	}
	records = append(records, OperationRecord{
		Operation:  "schema_validation",
		DurationMs: time.Since(start).Milliseconds(),
	})

	resultColumn := ResultColumnName(rule.Name)

	evalStart := time.Now()
	augmented, err := e.engine.EvaluateFormula(ctx, rule.Formula, ds, resultColumn)
	if err != nil {
		return nil, fmt.Errorf("formula evaluation failed for rule %s: %w", rule.ID, err)
	}
	records = append(records, OperationRecord{
		Operation:  "formula_evaluation",
		DurationMs: time.Since(evalStart).Milliseconds(),
		Detail:     resultColumn,
	})

	// Normalize unambiguous truthy encodings; genuinely numeric and text
	// values pass through for the determiner to classify.
	raw := augmented.Column(resultColumn)
	normalized := make([]any, len(raw))
	for i, v := range raw {
		normalized[i] = normalizeOutcome(v)
	}

	status, metrics := e.determiner.OverallCompliance(normalized, rule.Threshold)

	// Classified-outcome column rides along with the result table.
	statuses := make([]any, len(normalized))
	for i, v := range normalized {
		if v == nil {
			continue
		}
		statuses[i] = string(e.determiner.Classify(v, rule.Threshold))
	}

	resultData, err := ds.WithColumn(resultColumn, normalized)
	if err != nil {
		return nil, err
	}
	statusColumn := StatusColumnName(rule.Name)
	resultData, err = resultData.WithColumn(statusColumn, statuses)
	if err != nil {
		return nil, err
	}

	if partyColumn == "" {
		partyColumn = rule.ResponsiblePartyColumn()
	}
	var partyResults map[string]domain.PartyResult
	if partyColumn != "" && resultData.HasColumn(partyColumn) {
		partyResults = e.determiner.AggregateByParty(resultData, resultColumn, partyColumn, rule.Threshold)
	}

	records = append(records, OperationRecord{
		Operation:  "classification",
		DurationMs: time.Since(start).Milliseconds(),
		Detail:     string(status),
	})

	slog.Debug("rule evaluated",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"status", status,
		"total_count", metrics.TotalCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		rule:         rule,
		data:         resultData,
		resultColumn: resultColumn,
		statusColumn: statusColumn,
		status:       status,
		metrics:      metrics,
		partyColumn:  partyColumn,
		partyResults: partyResults,
		records:      records,
	}, nil
}

// EvaluateRules evaluates each rule independently, in parallel up to
// maxWorkers. A failure in one rule is logged with the rule's identifier
// and that rule is omitted from the returned map; sibling rules are
// unaffected.
func (e *Evaluator) EvaluateRules(ctx context.Context, ruleList []*domain.Rule, ds *domain.Dataset, partyColumn string) map[string]*Result {
	results := make(map[string]*Result, len(ruleList))

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for _, rule := range ruleList {
		wg.Add(1)
		go func(r *domain.Rule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			result, err := e.EvaluateRule(ctx, r, ds, partyColumn)
			if err != nil {
				slog.Error("error evaluating rule",
					"rule_id", r.ID,
					"rule_name", r.Name,
					"error", err,
				)
				return
			}

			mu.Lock()
			results[r.ID] = result
			mu.Unlock()
		}(rule)
	}

	wg.Wait()
	return results
}

// EvaluateRuleIDs resolves each ID through the repository and batch
// evaluates. Resolution failures follow the same isolation policy as
// evaluation failures: logged and omitted.
func (e *Evaluator) EvaluateRuleIDs(ctx context.Context, ruleIDs []string, ds *domain.Dataset, partyColumn string) map[string]*Result {
	ruleList := make([]*domain.Rule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rule, err := e.repo.GetRule(ctx, id)
		if err != nil {
			slog.Error("error evaluating rule", "rule_id", id, "error", err)
			continue
		}
		ruleList = append(ruleList, rule)
	}
	return e.EvaluateRules(ctx, ruleList, ds, partyColumn)
}

// EvaluateAllRules evaluates every rule known to the repository.
func (e *Evaluator) EvaluateAllRules(ctx context.Context, ds *domain.Dataset, partyColumn string) (map[string]*Result, error) {
	ruleList, err := e.repo.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return e.EvaluateRules(ctx, ruleList, ds, partyColumn), nil
}

// normalizeOutcome maps unambiguous truthy encodings to canonical
// booleans: booleans pass through, exact 0/1 numerics and "TRUE"/"FALSE"
// text become booleans. Everything else is returned unchanged.
func normalizeOutcome(raw any) any {
	switch v := raw.(type) {
	case bool:
		return v
	case float64:
		if v == 0 {
			return false
		}
		if v == 1 {
			return true
		}
	case int:
		if v == 0 {
			return false
		}
		if v == 1 {
			return true
		}
	case string:
		switch strings.ToUpper(v) {
		case "TRUE":
			return true
		case "FALSE":
			return false
		}
	}
	return raw
}
