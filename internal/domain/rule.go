package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/formula"
)

// SeverityLevels are the accepted rule severities, most to least urgent.
var SeverityLevels = []string{"critical", "high", "medium", "low", "info"}

// DefaultSeverity is applied when a rule is created without one.
const DefaultSeverity = "medium"

// Metadata keys owned by the rule model. Everything else in the metadata
// map is passed through untouched for downstream consumers.
const (
	MetaSeverity               = "severity"
	MetaCategory               = "category"
	MetaTags                   = "tags"
	MetaTitle                  = "title"
	MetaAnalyticID             = "analytic_id"
	MetaResponsiblePartyColumn = "responsible_party_column"
	MetaRelevantReport         = "relevant_report"
	MetaCreatedAt              = "created_at"
	MetaModifiedAt             = "modified_at"
)

// Rule is a named audit rule expressed as a spreadsheet-style formula over
// bracket-delimited column references. The threshold is the minimum passing
// proportion a numeric per-row outcome must reach to be classified GC for
// that row.
type Rule struct {
	ID          string         `json:"rule_id"`
	Name        string         `json:"name"`
	Formula     string         `json:"formula"`
	Description string         `json:"description"`
	Threshold   float64        `json:"threshold"`
	Metadata    map[string]any `json:"metadata"`
}

// RuleParams holds the optional fields for rule construction.
type RuleParams struct {
	ID                     string
	AnalyticID             string
	Title                  string
	Description            string
	Threshold              *float64 // defaults to 1.0
	Severity               string   // defaults to "medium"
	Category               string
	Tags                   []string
	ResponsiblePartyColumn string
	RelevantReport         string
	Metadata               map[string]any
}

// NewRule creates a rule with defaults applied: a generated ID when absent,
// threshold clamped to [0,1] (default 1.0), severity normalized to a known
// level (default "medium"), and title defaulting to the name.
func NewRule(name, formulaStr string, params RuleParams) *Rule {
	id := params.ID
	if id == "" {
		id = uuid.New().String()
	}

	threshold := 1.0
	if params.Threshold != nil {
		threshold = clamp01(*params.Threshold)
	}

	meta := make(map[string]any)
	for k, v := range params.Metadata {
		meta[k] = v
	}

	sev := strings.ToLower(params.Severity)
	if !validSeverity(sev) {
		sev = DefaultSeverity
	}
	meta[MetaSeverity] = sev

	if params.Category != "" {
		meta[MetaCategory] = params.Category
	}
	if params.Tags != nil {
		meta[MetaTags] = params.Tags
	} else if _, ok := meta[MetaTags]; !ok {
		meta[MetaTags] = []string{}
	}
	if params.ResponsiblePartyColumn != "" {
		meta[MetaResponsiblePartyColumn] = params.ResponsiblePartyColumn
	}
	if params.AnalyticID != "" {
		meta[MetaAnalyticID] = params.AnalyticID
	}
	if params.Title != "" {
		meta[MetaTitle] = params.Title
	} else {
		meta[MetaTitle] = name
	}
	if params.RelevantReport != "" {
		meta[MetaRelevantReport] = params.RelevantReport
	}
	if _, ok := meta[MetaCreatedAt]; !ok {
		meta[MetaCreatedAt] = time.Now().UTC().Format(time.RFC3339)
	}

	return &Rule{
		ID:          id,
		Name:        name,
		Formula:     formulaStr,
		Description: params.Description,
		Threshold:   threshold,
		Metadata:    meta,
	}
}

// Validate checks the rule definition itself: name, formula, and formula
// syntax. Dataset-dependent checks live in ValidateWithDataset.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return &RuleDefinitionError{RuleID: r.ID, Field: "name", Reason: "rule must have a name"}
	}
	if r.Formula == "" {
		return &RuleDefinitionError{RuleID: r.ID, Field: "formula", Reason: "rule must have a formula"}
	}
	if !formula.IsValidFormula(r.Formula) {
		return &RuleDefinitionError{RuleID: r.ID, Field: "formula", Reason: "invalid formula syntax"}
	}
	return nil
}

// ValidateWithDataset additionally checks that every column the formula
// references exists in the dataset, naming all missing columns.
func (r *Rule) ValidateWithDataset(ds *Dataset) error {
	if err := r.Validate(); err != nil {
		return err
	}
	var missing []string
	for _, col := range formula.ColumnReferences(r.Formula) {
		if !ds.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &SchemaMismatchError{RuleID: r.ID, Missing: missing}
	}
	return nil
}

// RequiredColumns returns the column names referenced by the formula in
// order of first appearance. Repeated references are not deduplicated;
// downstream consumers rely on the raw pass-through.
func (r *Rule) RequiredColumns() []string {
	return formula.ColumnReferences(r.Formula)
}

// Severity returns the rule severity level, defaulting to medium.
func (r *Rule) Severity() string {
	if s, ok := r.Metadata[MetaSeverity].(string); ok && s != "" {
		return s
	}
	return DefaultSeverity
}

// SetSeverity sets the severity level, rejecting unknown values.
func (r *Rule) SetSeverity(level string) error {
	normalized := strings.ToLower(level)
	if !validSeverity(normalized) {
		return fmt.Errorf("invalid severity %q, must be one of: %s", level, strings.Join(SeverityLevels, ", "))
	}
	r.Metadata[MetaSeverity] = normalized
	return nil
}

// Title returns the display title, falling back to the rule name.
func (r *Rule) Title() string {
	if t, ok := r.Metadata[MetaTitle].(string); ok && t != "" {
		return t
	}
	return r.Name
}

// Category returns the rule category.
func (r *Rule) Category() string {
	c, _ := r.Metadata[MetaCategory].(string)
	return c
}

// Tags returns the rule tags, never nil.
func (r *Rule) Tags() []string {
	switch v := r.Metadata[MetaTags].(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return []string{}
}

// AnalyticID returns the business analytic identifier, if any.
func (r *Rule) AnalyticID() string {
	v, _ := r.Metadata[MetaAnalyticID].(string)
	return v
}

// ResponsiblePartyColumn returns the configured owner column, if any.
func (r *Rule) ResponsiblePartyColumn() string {
	v, _ := r.Metadata[MetaResponsiblePartyColumn].(string)
	return v
}

// RelevantReport returns the report reference, if any.
func (r *Rule) RelevantReport() string {
	v, _ := r.Metadata[MetaRelevantReport].(string)
	return v
}

// Touch records a modification timestamp in the metadata map.
func (r *Rule) Touch() {
	r.Metadata[MetaModifiedAt] = time.Now().UTC().Format(time.RFC3339)
}

func validSeverity(level string) bool {
	for _, s := range SeverityLevels {
		if s == level {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
