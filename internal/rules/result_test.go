package rules

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func evaluatedResult(t *testing.T) *Result {
	t.Helper()

	rule := domain.NewRule("Check", "=[Amount] > 0", domain.RuleParams{
		ID:                     "rule-check",
		ResponsiblePartyColumn: "Owner",
	})
	engine := &fakeEngine{byFormula: map[string][]any{
		"=[Amount] > 0": {true, false, false, true, nil},
	}}
	eval := NewEvaluator(nil, engine, compliance.NewDefaultDeterminer(), 4)

	ds := domain.NewDataset(
		[]string{"Amount", "Owner"},
		[]domain.Row{
			{"Amount": 10.0, "Owner": "alice"},
			{"Amount": -1.0, "Owner": "alice"},
			{"Amount": -2.0, "Owner": "bob"},
			{"Amount": 5.0, "Owner": "bob"},
			{"Amount": nil, "Owner": "bob"},
		},
	)

	result, err := eval.EvaluateRule(context.Background(), rule, ds, "")
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	return result
}

func TestFailingItems(t *testing.T) {
	result := evaluatedResult(t)

	failing := result.FailingItems()
	if failing.Len() != 2 {
		t.Fatalf("expected 2 failing rows, got %d", failing.Len())
	}
	for _, row := range failing.Rows() {
		status := domain.ParseStatus(row[result.StatusColumn()].(string))
		if status == domain.StatusGC {
			t.Error("failing items must never include a GC row")
		}
	}
}

func TestFailingItemsByParty(t *testing.T) {
	result := evaluatedResult(t)

	byParty := result.FailingItemsByParty("")
	if len(byParty) != 2 {
		t.Fatalf("expected failing rows under both owners, got %d groups", len(byParty))
	}
	if byParty["alice"].Len() != 1 || byParty["bob"].Len() != 1 {
		t.Errorf("expected one failing row each, got alice=%d bob=%d",
			byParty["alice"].Len(), byParty["bob"].Len())
	}

	// Unknown column yields an empty map, not an error.
	if got := result.FailingItemsByParty("NoSuchColumn"); len(got) != 0 {
		t.Errorf("expected empty map for unknown column, got %d groups", len(got))
	}
}

func TestComplianceSummaryByParty(t *testing.T) {
	result := evaluatedResult(t)

	summaries := result.ComplianceSummaryByParty("")
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summary rows, got %d", len(summaries))
	}

	// Sorted by compliance rate descending.
	for i := 1; i < len(summaries); i++ {
		if summaries[i-1].ComplianceRate < summaries[i].ComplianceRate {
			t.Errorf("summaries out of order: %v before %v",
				summaries[i-1].ComplianceRate, summaries[i].ComplianceRate)
		}
	}

	for _, s := range summaries {
		if s.TotalItems == 0 {
			t.Errorf("party %s has zero total", s.ResponsibleParty)
		}
	}
}

func TestPartyPartitionsDisjointCover(t *testing.T) {
	result := evaluatedResult(t)

	// Sum of per-owner totals equals the rule's total non-null row count.
	sum := 0
	for _, pr := range result.PartyResults() {
		sum += pr.Metrics.TotalCount
	}
	if sum != result.Metrics().TotalCount {
		t.Errorf("party totals %d should equal rule total %d", sum, result.Metrics().TotalCount)
	}
}

func TestResultRecords(t *testing.T) {
	result := evaluatedResult(t)

	records := result.Records()
	if len(records) == 0 {
		t.Fatal("expected operation records")
	}
	seen := make(map[string]bool)
	for _, rec := range records {
		seen[rec.Operation] = true
	}
	if !seen["schema_validation"] || !seen["formula_evaluation"] || !seen["classification"] {
		t.Errorf("missing expected operations: %v", seen)
	}
}

func TestStatusesByParty(t *testing.T) {
	result := evaluatedResult(t)

	statuses := result.StatusesByParty()
	if len(statuses) != 2 {
		t.Fatalf("expected statuses for both owners, got %d", len(statuses))
	}
	for party, status := range statuses {
		pr, ok := result.PartyStatus(party)
		if !ok || pr.Status != status {
			t.Errorf("status mismatch for %s", party)
		}
	}
}
