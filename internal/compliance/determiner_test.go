package compliance

import (
	"math"
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestClassifyBoolean(t *testing.T) {
	d := NewDefaultDeterminer()

	if got := d.Classify(true, 1.0); got != domain.StatusGC {
		t.Errorf("Classify(true) = %s, want GC", got)
	}
	if got := d.Classify(false, 1.0); got != domain.StatusDNC {
		t.Errorf("Classify(false) = %s, want DNC", got)
	}
}

func TestClassifyNumericBands(t *testing.T) {
	d := NewDefaultDeterminer() // pc threshold 0.80
	ruleThreshold := 0.95

	cases := []struct {
		value float64
		want  domain.ComplianceStatus
	}{
		{1.0, domain.StatusGC},
		{0.95, domain.StatusGC},  // v >= rule threshold
		{0.94, domain.StatusPC},  // pc <= v < t
		{0.80, domain.StatusPC},
		{0.79, domain.StatusDNC}, // v < pc
		{0.0, domain.StatusDNC},
	}
	for _, tc := range cases {
		if got := d.Classify(tc.value, ruleThreshold); got != tc.want {
			t.Errorf("Classify(%v, %v) = %s, want %s", tc.value, ruleThreshold, got, tc.want)
		}
	}
}

func TestClassifyRowCutoffIsRuleThreshold(t *testing.T) {
	// The row-level GC cutoff is the rule's own threshold, not the
	// determiner gcThreshold. A rule threshold below pcThreshold empties
	// the PC band.
	d := NewDefaultDeterminer()

	if got := d.Classify(0.75, 0.70); got != domain.StatusGC {
		t.Errorf("value above rule threshold should be GC, got %s", got)
	}
	if got := d.Classify(0.60, 0.70); got != domain.StatusDNC {
		t.Errorf("value below rule threshold and pc threshold should be DNC, got %s", got)
	}
}

func TestClassifyText(t *testing.T) {
	d := NewDefaultDeterminer()

	if got := d.Classify("true", 1.0); got != domain.StatusGC {
		t.Errorf("Classify(\"true\") = %s, want GC", got)
	}
	if got := d.Classify("FALSE", 1.0); got != domain.StatusDNC {
		t.Errorf("Classify(\"FALSE\") = %s, want DNC", got)
	}
	if got := d.Classify("ERROR: bad ref", 1.0); got != domain.StatusDNC {
		t.Errorf("Classify(error sentinel) = %s, want DNC", got)
	}
	if got := d.Classify("#DIV/0!", 1.0); got != domain.StatusDNC {
		t.Errorf("Classify(#-prefixed sentinel) = %s, want DNC", got)
	}
}

func TestClassifyUnrecognizedDefaultsToDNC(t *testing.T) {
	d := NewDefaultDeterminer()

	if got := d.Classify(struct{}{}, 1.0); got != domain.StatusDNC {
		t.Errorf("unrecognized type should default to DNC, got %s", got)
	}
	if got := d.Classify("something else", 1.0); got != domain.StatusDNC {
		t.Errorf("unrecognized text should default to DNC, got %s", got)
	}
}

func TestIsEngineError(t *testing.T) {
	if !IsEngineError("ERROR: timeout") || !IsEngineError("#NAME?") {
		t.Error("expected sentinels to be detected")
	}
	if IsEngineError("FALSE") || IsEngineError(false) || IsEngineError(0.5) {
		t.Error("expected non-sentinels to pass")
	}
}

func TestThresholdClampingAndOrdering(t *testing.T) {
	d := NewDeterminer(1.5, -0.3)
	if d.GCThreshold() != 1.0 || d.PCThreshold() != 0.0 {
		t.Errorf("expected clamped thresholds 1.0/0.0, got %v/%v", d.GCThreshold(), d.PCThreshold())
	}

	d = NewDeterminer(0.5, 0.9)
	if d.PCThreshold() != 0.5 {
		t.Errorf("pc threshold should be capped at gc threshold, got %v", d.PCThreshold())
	}
}

func TestOverallCompliance(t *testing.T) {
	d := NewDefaultDeterminer()

	values := []any{true, true, true, false, nil, "ERROR: engine failure"}
	status, m := d.OverallCompliance(values, 1.0)

	// nil skipped: denominator is 5
	if m.TotalCount != 5 {
		t.Errorf("expected total 5 after null skip, got %d", m.TotalCount)
	}
	if m.GCCount != 3 || m.DNCCount != 2 {
		t.Errorf("expected 3 GC / 2 DNC, got %d / %d", m.GCCount, m.DNCCount)
	}
	if m.ErrorCount != 1 {
		t.Errorf("engine error should increment error count, got %d", m.ErrorCount)
	}
	if status != domain.StatusDNC {
		// gc_rate = 0.6 < 0.95, gc+pc = 0.6 < 0.80
		t.Errorf("expected DNC status, got %s", status)
	}

	if sum := m.GCRate + m.PCRate + m.DNCRate; math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("rates should sum to 1.0, got %v", sum)
	}
}

func TestOverallComplianceStatusBands(t *testing.T) {
	d := NewDefaultDeterminer()

	// 19 GC of 20 => gc_rate 0.95 => GC
	values := make([]any, 0, 20)
	for i := 0; i < 19; i++ {
		values = append(values, true)
	}
	values = append(values, false)
	status, _ := d.OverallCompliance(values, 1.0)
	if status != domain.StatusGC {
		t.Errorf("expected GC at 95%% conformance, got %s", status)
	}

	// 17 GC of 20 => gc_rate 0.85 >= pc 0.80 => PC
	values = values[:0]
	for i := 0; i < 17; i++ {
		values = append(values, true)
	}
	for i := 0; i < 3; i++ {
		values = append(values, false)
	}
	status, _ = d.OverallCompliance(values, 1.0)
	if status != domain.StatusPC {
		t.Errorf("expected PC at 85%% conformance, got %s", status)
	}
}

func TestOverallComplianceEmptyPopulation(t *testing.T) {
	d := NewDefaultDeterminer()

	status, m := d.OverallCompliance(nil, 1.0)
	if status != domain.StatusDNC {
		t.Errorf("empty population should resolve to DNC, got %s", status)
	}
	if m != (domain.Metrics{}) {
		t.Errorf("empty population should yield all-zero metrics, got %+v", m)
	}

	// All-null column behaves the same.
	status, m = d.OverallCompliance([]any{nil, nil}, 1.0)
	if status != domain.StatusDNC || m.TotalCount != 0 {
		t.Errorf("all-null population should resolve to DNC with zero total, got %s %+v", status, m)
	}
}

func TestOverallComplianceOrderInvariantAndPure(t *testing.T) {
	d := NewDefaultDeterminer()

	forward := []any{true, false, 0.9, "TRUE", nil, "#REF!"}
	reversed := []any{"#REF!", nil, "TRUE", 0.9, false, true}

	s1, m1 := d.OverallCompliance(forward, 0.95)
	s2, m2 := d.OverallCompliance(reversed, 0.95)
	if s1 != s2 || m1 != m2 {
		t.Errorf("aggregation should be invariant to row order: %s %+v vs %s %+v", s1, m1, s2, m2)
	}

	s3, m3 := d.OverallCompliance(forward, 0.95)
	if s1 != s3 || m1 != m3 {
		t.Error("aggregation should be idempotent on identical input")
	}
}

func TestAggregateByParty(t *testing.T) {
	d := NewDefaultDeterminer()

	ds := domain.NewDataset(
		[]string{"Owner", "Result"},
		[]domain.Row{
			{"Owner": "alice", "Result": true},
			{"Owner": "alice", "Result": true},
			{"Owner": "bob", "Result": false},
			{"Owner": "bob", "Result": true},
			{"Owner": nil, "Result": true}, // dropped: no owner
		},
	)

	results := d.AggregateByParty(ds, "Result", "Owner", 1.0)
	if len(results) != 2 {
		t.Fatalf("expected 2 parties, got %d", len(results))
	}

	if results["alice"].Status != domain.StatusGC {
		t.Errorf("alice should be GC, got %s", results["alice"].Status)
	}
	if results["bob"].Metrics.GCCount != 1 || results["bob"].Metrics.DNCCount != 1 {
		t.Errorf("bob tally wrong: %+v", results["bob"].Metrics)
	}

	// Disjoint cover: per-party totals sum to the non-null-owner row count.
	sum := 0
	for _, r := range results {
		sum += r.Metrics.TotalCount
	}
	if sum != 4 {
		t.Errorf("party partitions should cover all non-null rows exactly once, got %d", sum)
	}
}

func TestAggregateByPartyPartitionKeys(t *testing.T) {
	d := NewDefaultDeterminer()

	ds := domain.NewDataset(
		[]string{"Owner", "Result"},
		[]domain.Row{
			{"Owner": "carol", "Result": true},
		},
	)
	results := d.AggregateByParty(ds, "Result", "Owner", 1.0)

	want := map[string]domain.PartyResult{
		"carol": {Status: domain.StatusGC, Metrics: domain.Metrics{
			GCCount: 1, TotalCount: 1, GCRate: 1.0,
		}},
	}
	if !reflect.DeepEqual(results, want) {
		t.Errorf("got %+v, want %+v", results, want)
	}
}
