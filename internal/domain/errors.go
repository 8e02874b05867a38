package domain

import (
	"fmt"
	"strings"
)

// RuleDefinitionError reports a rule that fails self-validation: a missing
// name or formula, or a formula that does not parse. It is fatal to the
// evaluation call that raised it.
type RuleDefinitionError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *RuleDefinitionError) Error() string {
	return fmt.Sprintf("rule %s: invalid %s: %s", e.RuleID, e.Field, e.Reason)
}

// SchemaMismatchError reports every formula column reference that is absent
// from the dataset. Raised before evaluation; it indicates misconfiguration,
// not a per-row anomaly.
type SchemaMismatchError struct {
	RuleID  string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("rule %s: formula references non-existent columns: %s",
		e.RuleID, strings.Join(e.Missing, ", "))
}
