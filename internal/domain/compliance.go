package domain

import "strings"

// ComplianceStatus is the classification bucket for a row or an aggregate.
type ComplianceStatus string

const (
	// StatusGC marks a result that generally conforms.
	StatusGC ComplianceStatus = "GC"

	// StatusPC marks a result that partially conforms.
	StatusPC ComplianceStatus = "PC"

	// StatusDNC marks a result that does not conform.
	StatusDNC ComplianceStatus = "DNC"

	// StatusNA marks a result with no applicable population. It is only
	// produced at the aggregation and scoring layers, never by the row
	// classifier.
	StatusNA ComplianceStatus = "N/A"
)

// ParseStatus maps a status string, including the long-form aliases used
// in report extracts, to a ComplianceStatus. Unknown strings map to NA.
func ParseStatus(s string) ComplianceStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GC", "GENERALLY CONFORMS":
		return StatusGC
	case "PC", "PARTIALLY CONFORMS":
		return StatusPC
	case "DNC", "DOES NOT CONFORM":
		return StatusDNC
	default:
		return StatusNA
	}
}

// Metrics holds the classification tallies and rates for one rule-level
// or party-level aggregate. ErrorCount tracks rows whose raw outcome was
// an evaluator error sentinel; those rows also count toward DNCCount.
type Metrics struct {
	GCCount    int     `json:"gc_count"`
	PCCount    int     `json:"pc_count"`
	DNCCount   int     `json:"dnc_count"`
	ErrorCount int     `json:"error_count"`
	TotalCount int     `json:"total_count"`
	GCRate     float64 `json:"gc_rate"`
	PCRate     float64 `json:"pc_rate"`
	DNCRate    float64 `json:"dnc_rate"`
}

// ComplianceRate is the share of rows that conform at least partially.
func (m Metrics) ComplianceRate() float64 {
	return 1.0 - m.DNCRate
}

// PartyResult is the aggregate for a single responsible party.
type PartyResult struct {
	Status  ComplianceStatus `json:"status"`
	Metrics Metrics          `json:"metrics"`
}

// EvaluationSummary is the reporting surface for one rule evaluation.
type EvaluationSummary struct {
	RuleID           string                 `json:"rule_id"`
	RuleName         string                 `json:"rule_name"`
	ComplianceStatus ComplianceStatus       `json:"compliance_status"`
	ComplianceRate   float64                `json:"compliance_rate"`
	TotalItems       int                    `json:"total_items"`
	GCCount          int                    `json:"gc_count"`
	PCCount          int                    `json:"pc_count"`
	DNCCount         int                    `json:"dnc_count"`
	ErrorCount       int                    `json:"error_count"`
	PartyResults     map[string]PartyResult `json:"party_results,omitempty"`
}

// PartySummary is one row of the per-party compliance summary, sorted by
// compliance rate descending in the result accessor.
type PartySummary struct {
	ResponsibleParty string           `json:"responsible_party"`
	Status           ComplianceStatus `json:"status"`
	TotalItems       int              `json:"total_items"`
	GCCount          int              `json:"gc_count"`
	PCCount          int              `json:"pc_count"`
	DNCCount         int              `json:"dnc_count"`
	ComplianceRate   float64          `json:"compliance_rate"`
	ErrorCount       int              `json:"error_count"`
}
