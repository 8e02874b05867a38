// Package formula provides syntax-level validation and reference extraction
// for spreadsheet-style rule formulas. It never executes a formula; running
// one is the FormulaEngine collaborator's job.
package formula

import (
	"regexp"
	"strings"
)

var columnRefPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// IsValidFormula reports whether the string looks like a well-formed rule
// formula: non-empty, a leading "=" marker (whitespace allowed before it),
// and balanced parenthesis and bracket pairs.
func IsValidFormula(formula string) bool {
	if !strings.HasPrefix(strings.TrimLeft(formula, " \t"), "=") {
		return false
	}
	return balanced(formula, '(', ')') && balanced(formula, '[', ']')
}

// ColumnReferences returns every bracket-delimited column reference in
// left-to-right order. Duplicates are preserved: a formula that references
// the same column twice yields that name twice. Reference-free input
// yields an empty slice.
func ColumnReferences(formula string) []string {
	matches := columnRefPattern.FindAllStringSubmatch(formula, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, m[1])
	}
	return refs
}

// ValidateWithColumns checks formula syntax and then reports every
// referenced column absent from the given column set.
// The returned invalid flag is accompanied by a human-readable reason.
func ValidateWithColumns(formula string, columns []string) (bool, string) {
	if !IsValidFormula(formula) {
		return false, "invalid formula syntax"
	}

	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}

	var missing []string
	for _, ref := range ColumnReferences(formula) {
		if _, ok := present[ref]; !ok {
			missing = append(missing, ref)
		}
	}
	if len(missing) > 0 {
		return false, "formula references non-existent columns: " + strings.Join(missing, ", ")
	}
	return true, ""
}

// balanced walks the string counting open/close pairs; a close before its
// open fails immediately.
func balanced(s string, open, close rune) bool {
	depth := 0
	for _, ch := range s {
		switch ch {
		case open:
			depth++
		case close:
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
