package rules

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// OperationRecord is an opaque observability record for one step of an
// evaluation. Consumed by reporting; never interpreted by the core.
type OperationRecord struct {
	Operation  string `json:"operation"`
	DurationMs int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
}

// Result is the immutable outcome of evaluating one rule against one
// dataset. All fields are set once at creation; accessors return copies
// or derived views.
type Result struct {
	rule         *domain.Rule
	data         *domain.Dataset
	resultColumn string
	statusColumn string
	status       domain.ComplianceStatus
	metrics      domain.Metrics
	partyColumn  string
	partyResults map[string]domain.PartyResult
	records      []OperationRecord
}

// Rule returns the evaluated rule.
func (r *Result) Rule() *domain.Rule { return r.rule }

// Data returns the per-row outcome table, including the raw outcome
// column and the classified-outcome column.
func (r *Result) Data() *domain.Dataset { return r.data }

// ResultColumn returns the raw outcome column name.
func (r *Result) ResultColumn() string { return r.resultColumn }

// StatusColumn returns the classified-outcome column name.
func (r *Result) StatusColumn() string { return r.statusColumn }

// Status returns the rule-level compliance status.
func (r *Result) Status() domain.ComplianceStatus { return r.status }

// Metrics returns the rule-level classification metrics.
func (r *Result) Metrics() domain.Metrics { return r.metrics }

// PartyResults returns the per-owner aggregates, or nil when no owner
// column applied.
func (r *Result) PartyResults() map[string]domain.PartyResult {
	if r.partyResults == nil {
		return nil
	}
	out := make(map[string]domain.PartyResult, len(r.partyResults))
	for k, v := range r.partyResults {
		out[k] = v
	}
	return out
}

// PartyStatus returns the aggregate for one owner.
func (r *Result) PartyStatus(party string) (domain.PartyResult, bool) {
	pr, ok := r.partyResults[party]
	return pr, ok
}

// Records returns the auxiliary operation records.
func (r *Result) Records() []OperationRecord {
	out := make([]OperationRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Summary packages the reporting surface for this evaluation.
func (r *Result) Summary() *domain.EvaluationSummary {
	return &domain.EvaluationSummary{
		RuleID:           r.rule.ID,
		RuleName:         r.rule.Name,
		ComplianceStatus: r.status,
		ComplianceRate:   r.metrics.ComplianceRate(),
		TotalItems:       r.metrics.TotalCount,
		GCCount:          r.metrics.GCCount,
		PCCount:          r.metrics.PCCount,
		DNCCount:         r.metrics.DNCCount,
		ErrorCount:       r.metrics.ErrorCount,
		PartyResults:     r.partyResults,
	}
}

// FailingItems returns the rows that did not classify GC: the complement
// of the GC rows, covering boolean-false outcomes and the PC/DNC status
// family. Rows with a missing outcome are excluded.
func (r *Result) FailingItems() *domain.Dataset {
	return r.data.Select(func(row domain.Row) bool {
		status, ok := row[r.statusColumn].(string)
		if !ok {
			return false
		}
		return domain.ParseStatus(status) != domain.StatusGC
	})
}

// FailingItemsByParty groups the failing rows by owner. The column
// defaults to the rule's configured responsible party column; an absent
// column yields an empty map.
func (r *Result) FailingItemsByParty(partyColumn string) map[string]*domain.Dataset {
	if partyColumn == "" {
		partyColumn = r.partyColumn
	}
	if partyColumn == "" {
		partyColumn = r.rule.ResponsiblePartyColumn()
	}
	if partyColumn == "" || !r.data.HasColumn(partyColumn) {
		return map[string]*domain.Dataset{}
	}

	failing := r.FailingItems()
	if failing.Len() == 0 {
		return map[string]*domain.Dataset{}
	}
	return failing.PartitionBy(partyColumn)
}

// ComplianceSummaryByParty returns one summary row per owner, sorted by
// compliance rate descending. An absent owner column yields an empty
// slice.
func (r *Result) ComplianceSummaryByParty(partyColumn string) []domain.PartySummary {
	if partyColumn == "" {
		partyColumn = r.partyColumn
	}
	if partyColumn == "" {
		partyColumn = r.rule.ResponsiblePartyColumn()
	}
	if partyColumn == "" || !r.data.HasColumn(partyColumn) || len(r.partyResults) == 0 {
		return []domain.PartySummary{}
	}

	summaries := make([]domain.PartySummary, 0, len(r.partyResults))
	for party, pr := range r.partyResults {
		summaries = append(summaries, domain.PartySummary{
			ResponsibleParty: party,
			Status:           pr.Status,
			TotalItems:       pr.Metrics.TotalCount,
			GCCount:          pr.Metrics.GCCount,
			PCCount:          pr.Metrics.PCCount,
			DNCCount:         pr.Metrics.DNCCount,
			ComplianceRate:   pr.Metrics.ComplianceRate(),
			ErrorCount:       pr.Metrics.ErrorCount,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].ComplianceRate != summaries[j].ComplianceRate {
			return summaries[i].ComplianceRate > summaries[j].ComplianceRate
		}
		return summaries[i].ResponsibleParty < summaries[j].ResponsibleParty
	})
	return summaries
}

// StatusesByParty extracts the per-owner rule-level statuses in the shape
// the IAG scoring calculator consumes.
func (r *Result) StatusesByParty() map[string]domain.ComplianceStatus {
	out := make(map[string]domain.ComplianceStatus, len(r.partyResults))
	for party, pr := range r.partyResults {
		out[party] = pr.Status
	}
	return out
}
