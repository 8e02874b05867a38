//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel audit analytics engine.
//
// These tests verify the COMPLETE evaluation pipeline:
//
//	Dataset → Formula → Row Statuses → Rule Status → IAG Score
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. DATASET: An audit extract (rows of records with named columns)
//
// 2. RULE: A compliance check. Each rule has:
//   - Formula: An expression like "=[Amount] < 10000" evaluated per row
//   - Threshold: Minimum pass rate (0.0 to 1.0) for the rule to be GC
//   - ResponsiblePartyColumn: Optional column for per-party breakdowns
//
// 3. ROW STATUS: Each row is GC (pass), DNC (fail) or N/A (null result).
//    Engine errors ("ERROR", "#..." strings) count as DNC and increment
//    the error count.
//
// 4. RULE STATUS: Determined from the pass rate against the threshold:
//   - rate >= threshold        → GC
//   - rate >= 0.80 (default)   → PC
//   - otherwise                → DNC
//
// 5. IAG SCORE: Weighted rating per responsible party (GC=5, PC=3, DNC=1):
//   - normalized score >= 0.80 → GC
//   - normalized score >= 0.50 → PC
//   - otherwise                → DNC
//
// Rules are database-driven: seed them via POST /rules before evaluating.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Kestrel's API contract)
// ============================================================================

// CreateRuleRequest is the rule definition sent to POST /rules
type CreateRuleRequest struct {
	ID                     string   `json:"id,omitempty"`
	Name                   string   `json:"name"`
	Formula                string   `json:"formula"`
	Description            string   `json:"description,omitempty"`
	Threshold              *float64 `json:"threshold,omitempty"`
	Severity               string   `json:"severity,omitempty"`
	ResponsiblePartyColumn string   `json:"responsiblePartyColumn,omitempty"`
}

// EvaluateRequest is the dataset sent to POST /evaluate
type EvaluateRequest struct {
	RunID       string           `json:"runId,omitempty"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	RuleIDs     []string         `json:"ruleIds,omitempty"`
	PartyColumn string           `json:"partyColumn,omitempty"`
}

// EvaluateResponse is what POST /evaluate returns
type EvaluateResponse struct {
	RunID    string           `json:"runId"`
	Results  []RuleResultView `json:"results"`
	Scores   map[string]Score `json:"scores"`
	Metadata ResponseMetadata `json:"metadata"`
}

type RuleResultView struct {
	Summary      EvaluationSummary `json:"summary"`
	FailingItems int               `json:"failingItems"`
}

type EvaluationSummary struct {
	RuleID           string  `json:"rule_id"`
	RuleName         string  `json:"rule_name"`
	ComplianceStatus string  `json:"compliance_status"` // "GC", "PC" or "DNC"
	ComplianceRate   float64 `json:"compliance_rate"`
	TotalItems       int     `json:"total_items"`
	ErrorCount       int     `json:"error_count"`
}

type Score struct {
	GCCount       int     `json:"gc_count"`
	PCCount       int     `json:"pc_count"`
	DNCCount      int     `json:"dnc_count"`
	WeightedScore float64 `json:"weighted_score"`
	Rating        string  `json:"rating"`
}

type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func createRule(t *testing.T, config TestConfig, req CreateRuleRequest) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal rule: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+"/rules", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Rule creation failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 201, got %d: %s", resp.StatusCode, string(respBody))
	}
}

func deleteRule(t *testing.T, config TestConfig, id string) {
	t.Helper()

	httpReq, _ := http.NewRequest("DELETE", config.BaseURL+"/rules/"+id, nil)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Rule deletion failed: %v", err)
	}
	resp.Body.Close()
}

func evaluate(t *testing.T, config TestConfig, req EvaluateRequest) EvaluateResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(config.BaseURL+"/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result EvaluateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func floatPtr(v float64) *float64 { return &v }

// auditRows builds an extract where `compliant` of `total` rows have
// Amount below the 10000 limit.
func auditRows(total, compliant int, party string) []map[string]any {
	rows := make([]map[string]any, 0, total)
	for i := 0; i < total; i++ {
		amount := 500.0
		if i >= compliant {
			amount = 25000.0
		}
		rows = append(rows, map[string]any{
			"TransactionID": fmt.Sprintf("txn-%04d", i),
			"Amount":        amount,
			"Owner":         party,
		})
	}
	return rows
}

// ============================================================================
// SCENARIO 1: Fully Compliant Dataset (GC)
// ============================================================================

func TestFullyCompliantDataset_GC(t *testing.T) {
	/*
	   SCENARIO: Every row passes the amount limit check

	   EXPECTED BEHAVIOR:
	   - All 20 rows: Amount < 10000 → row status GC
	   - Pass rate 1.0 >= threshold 0.95 → rule status GC
	   - Overall IAG score 1.0 → rating GC
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-amount-limit-gc",
		Name:      "Amount Limit (all pass)",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-amount-limit-gc")

	result := evaluate(t, config, EvaluateRequest{
		Columns:     []string{"TransactionID", "Amount", "Owner"},
		Rows:        auditRows(20, 20, "alice"),
		RuleIDs:     []string{"it-amount-limit-gc"},
		PartyColumn: "Owner",
	})

	if len(result.Results) != 1 {
		t.Fatalf("Expected 1 rule result, got %d", len(result.Results))
	}

	summary := result.Results[0].Summary
	if summary.ComplianceStatus != "GC" {
		t.Errorf("Expected GC for fully compliant dataset, got %s", summary.ComplianceStatus)
	}
	if summary.ComplianceRate < 0.999 {
		t.Errorf("Expected compliance rate 1.0, got %.4f", summary.ComplianceRate)
	}
	if result.Results[0].FailingItems != 0 {
		t.Errorf("Expected no failing items, got %d", result.Results[0].FailingItems)
	}

	overall, ok := result.Scores["overall"]
	if !ok {
		t.Fatal("Missing overall score")
	}
	if overall.Rating != "GC" {
		t.Errorf("Expected overall rating GC, got %s", overall.Rating)
	}

	t.Logf("✓ Fully compliant dataset: status=%s, rate=%.2f, rating=%s",
		summary.ComplianceStatus, summary.ComplianceRate, overall.Rating)
}

// ============================================================================
// SCENARIO 2: Threshold Boundary Testing
// ============================================================================

func TestExactThreshold_GC(t *testing.T) {
	/*
	   SCENARIO: Pass rate lands exactly on the rule threshold

	   EXPECTED BEHAVIOR:
	   - 19 of 20 rows pass → rate 0.95
	   - Rate 0.95 >= threshold 0.95 (inclusive comparison) → GC

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in threshold logic.
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-boundary-gc",
		Name:      "Amount Limit (boundary)",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-boundary-gc")

	result := evaluate(t, config, EvaluateRequest{
		Columns: []string{"TransactionID", "Amount", "Owner"},
		Rows:    auditRows(20, 19, "alice"),
		RuleIDs: []string{"it-boundary-gc"},
	})

	summary := result.Results[0].Summary
	if summary.ComplianceStatus != "GC" {
		t.Errorf("Expected GC for rate exactly at threshold, got %s (rate=%.4f)",
			summary.ComplianceStatus, summary.ComplianceRate)
	}

	t.Logf("✓ Boundary test passed: rate=%.2f at threshold 0.95 → %s",
		summary.ComplianceRate, summary.ComplianceStatus)
}

func TestJustBelowThreshold_PC(t *testing.T) {
	/*
	   SCENARIO: Pass rate just below the rule threshold but above 0.80

	   EXPECTED BEHAVIOR:
	   - 18 of 20 rows pass → rate 0.90
	   - 0.90 < 0.95 but >= 0.80 (default PC floor) → PC
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-boundary-pc",
		Name:      "Amount Limit (partial)",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-boundary-pc")

	result := evaluate(t, config, EvaluateRequest{
		Columns: []string{"TransactionID", "Amount", "Owner"},
		Rows:    auditRows(20, 18, "alice"),
		RuleIDs: []string{"it-boundary-pc"},
	})

	summary := result.Results[0].Summary
	if summary.ComplianceStatus != "PC" {
		t.Errorf("Expected PC for rate 0.90, got %s", summary.ComplianceStatus)
	}
	if result.Results[0].FailingItems != 2 {
		t.Errorf("Expected 2 failing items, got %d", result.Results[0].FailingItems)
	}

	t.Logf("✓ Partial compliance: rate=%.2f → %s, failing=%d",
		summary.ComplianceRate, summary.ComplianceStatus, result.Results[0].FailingItems)
}

func TestLowPassRate_DNC(t *testing.T) {
	/*
	   SCENARIO: Most rows fail the check

	   EXPECTED BEHAVIOR:
	   - 10 of 20 rows pass → rate 0.50
	   - 0.50 < 0.80 → DNC
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-low-rate-dnc",
		Name:      "Amount Limit (failing)",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-low-rate-dnc")

	result := evaluate(t, config, EvaluateRequest{
		Columns: []string{"TransactionID", "Amount", "Owner"},
		Rows:    auditRows(20, 10, "alice"),
		RuleIDs: []string{"it-low-rate-dnc"},
	})

	summary := result.Results[0].Summary
	if summary.ComplianceStatus != "DNC" {
		t.Errorf("Expected DNC for rate 0.50, got %s", summary.ComplianceStatus)
	}

	t.Logf("✓ Low pass rate: rate=%.2f → %s", summary.ComplianceRate, summary.ComplianceStatus)
}

// ============================================================================
// SCENARIO 3: Null Handling (N/A Rows)
// ============================================================================

func TestNullCells_ExcludedFromRate(t *testing.T) {
	/*
	   SCENARIO: Some rows have a null in the referenced column

	   EXPECTED BEHAVIOR:
	   - Rows with null Amount get a nil outcome and are skipped
	   - Skipped rows are excluded from the pass-rate denominator
	   - 10 pass + 5 null → total 10, rate 10/10 = 1.0 → GC
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-null-na",
		Name:      "Amount Limit (nulls)",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-null-na")

	rows := auditRows(10, 10, "alice")
	for i := 0; i < 5; i++ {
		rows = append(rows, map[string]any{
			"TransactionID": fmt.Sprintf("txn-null-%d", i),
			"Amount":        nil,
			"Owner":         "alice",
		})
	}

	result := evaluate(t, config, EvaluateRequest{
		Columns: []string{"TransactionID", "Amount", "Owner"},
		Rows:    rows,
		RuleIDs: []string{"it-null-na"},
	})

	summary := result.Results[0].Summary
	if summary.ComplianceStatus != "GC" {
		t.Errorf("Expected GC with nulls excluded, got %s (rate=%.4f)",
			summary.ComplianceStatus, summary.ComplianceRate)
	}
	if summary.TotalItems != 10 {
		t.Errorf("Expected 10 applicable items, got %d", summary.TotalItems)
	}

	t.Logf("✓ Null handling: total=%d, rate=%.2f → %s",
		summary.TotalItems, summary.ComplianceRate, summary.ComplianceStatus)
}

// ============================================================================
// SCENARIO 4: Per-Party IAG Scores
// ============================================================================

func TestPartyBreakdown_SeparateRatings(t *testing.T) {
	/*
	   SCENARIO: Two responsible parties with different compliance profiles

	   EXPECTED BEHAVIOR:
	   - alice: all rows pass → party status GC → rating GC
	   - bob: all rows fail → party status DNC → rating DNC
	   - Scores map contains "alice", "bob" and "overall"
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-party-split",
		Name:      "Amount Limit (party split)",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-party-split")

	rows := append(auditRows(10, 10, "alice"), auditRows(10, 0, "bob")...)

	result := evaluate(t, config, EvaluateRequest{
		Columns:     []string{"TransactionID", "Amount", "Owner"},
		Rows:        rows,
		RuleIDs:     []string{"it-party-split"},
		PartyColumn: "Owner",
	})

	alice, ok := result.Scores["alice"]
	if !ok {
		t.Fatal("Missing score for alice")
	}
	if alice.Rating != "GC" {
		t.Errorf("Expected alice rating GC, got %s", alice.Rating)
	}

	bob, ok := result.Scores["bob"]
	if !ok {
		t.Fatal("Missing score for bob")
	}
	if bob.Rating != "DNC" {
		t.Errorf("Expected bob rating DNC, got %s", bob.Rating)
	}

	if _, ok := result.Scores["overall"]; !ok {
		t.Error("Missing overall score")
	}

	t.Logf("✓ Party breakdown: alice=%s, bob=%s", alice.Rating, bob.Rating)
}

// ============================================================================
// SCENARIO 5: Multiple Rules in One Run
// ============================================================================

func TestMultipleRules_IndependentStatuses(t *testing.T) {
	/*
	   SCENARIO: Two rules over the same extract, one passing and one failing

	   EXPECTED BEHAVIOR:
	   - Each rule gets its own summary and status
	   - The overall score mixes GC and DNC statuses (weights 5 and 1)
	   - Normalized score 0.60 → rating PC
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-multi-pass",
		Name:      "Amount Limit",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-multi-pass")

	createRule(t, config, CreateRuleRequest{
		ID:        "it-multi-fail",
		Name:      "Amount Floor Check",
		Formula:   "=[Amount] > 100000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-multi-fail")

	result := evaluate(t, config, EvaluateRequest{
		Columns: []string{"TransactionID", "Amount", "Owner"},
		Rows:    auditRows(10, 10, "alice"),
		RuleIDs: []string{"it-multi-pass", "it-multi-fail"},
	})

	if len(result.Results) != 2 {
		t.Fatalf("Expected 2 rule results, got %d", len(result.Results))
	}

	statuses := make(map[string]string)
	for _, r := range result.Results {
		statuses[r.Summary.RuleID] = r.Summary.ComplianceStatus
	}

	if statuses["it-multi-pass"] != "GC" {
		t.Errorf("Expected it-multi-pass GC, got %s", statuses["it-multi-pass"])
	}
	if statuses["it-multi-fail"] != "DNC" {
		t.Errorf("Expected it-multi-fail DNC, got %s", statuses["it-multi-fail"])
	}

	overall := result.Scores["overall"]
	if overall.Rating != "PC" {
		t.Errorf("Expected overall rating PC for one GC and one DNC, got %s", overall.Rating)
	}

	t.Logf("✓ Multiple rules: pass=%s, fail=%s, overall=%s (score=%.2f)",
		statuses["it-multi-pass"], statuses["it-multi-fail"], overall.Rating, overall.WeightedScore)
}

// ============================================================================
// SCENARIO 6: Run Persistence
// ============================================================================

func TestEvaluationRunPersisted(t *testing.T) {
	/*
	   SCENARIO: Evaluate with an explicit run ID, then fetch the run back

	   EXPECTED BEHAVIOR:
	   - GET /evaluations/{runId} returns the persisted summaries and scores
	   - Unknown run IDs return HTTP 404
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-persist",
		Name:      "Amount Limit (persisted)",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-persist")

	runID := fmt.Sprintf("it-run-%d", time.Now().UnixNano())

	back := evaluate(t, config, EvaluateRequest{
		RunID:       runID,
		Columns:     []string{"TransactionID", "Amount", "Owner"},
		Rows:        auditRows(10, 10, "alice"),
		RuleIDs:     []string{"it-persist"},
		PartyColumn: "Owner",
	})
	if back.RunID != runID {
		t.Errorf("Expected run ID %s in response, got %s", runID, back.RunID)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(config.BaseURL + "/evaluations/" + runID)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for persisted run, got %d", resp.StatusCode)
	}

	resp2, err := client.Get(config.BaseURL + "/evaluations/no-such-run")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp2.Body.Close()

	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", resp2.StatusCode)
	}

	t.Logf("✓ Run persisted and retrievable: runId=%s", runID)
}

// ============================================================================
// SCENARIO 7: Input Validation
// ============================================================================

func TestMissingDataset_Error(t *testing.T) {
	/*
	   SCENARIO: Request with neither inline rows nor a source path

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	body, _ := json.Marshal(map[string]any{"ruleIds": []string{"anything"}})
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+"/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing dataset, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing dataset → HTTP %d", resp.StatusCode)
}

func TestInvalidFormula_Rejected(t *testing.T) {
	/*
	   SCENARIO: Rule creation with a formula missing the "=" prefix

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	body, _ := json.Marshal(CreateRuleRequest{
		ID:      "it-bad-formula",
		Name:    "Broken Rule",
		Formula: "[Amount] < 10000",
	})
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+"/rules", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid formula, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: invalid formula → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 8: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify response includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	createRule(t, config, CreateRuleRequest{
		ID:        "it-metadata",
		Name:      "Amount Limit (metadata)",
		Formula:   "=[Amount] < 10000",
		Threshold: floatPtr(0.95),
	})
	defer deleteRule(t, config, "it-metadata")

	result := evaluate(t, config, EvaluateRequest{
		Columns: []string{"TransactionID", "Amount", "Owner"},
		Rows:    auditRows(5, 5, "alice"),
		RuleIDs: []string{"it-metadata"},
	})

	if result.RunID == "" {
		t.Error("Missing runId")
	}

	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}

	if result.Metadata.Version == "" {
		t.Error("Missing metadata.version")
	}

	// TotalMs can be 0 for very fast operations (sub-millisecond)
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	t.Logf("✓ Metadata complete: runId=%s, traceId=%s, totalMs=%d",
		result.RunID, result.Metadata.TraceID, result.Metadata.TotalMs)
}
