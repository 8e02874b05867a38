// Package engine provides the built-in CEL-backed FormulaEngine. It
// translates bracket-delimited column references into CEL variables,
// compiles the expression once, and evaluates it row by row. Per-row
// evaluation failures become "#ERROR!" text sentinels so the compliance
// classifier can count them without aborting the run.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/formula"
)

// CELEngine implements domain.FormulaEngine using CEL expressions.
// Compiled programs are cached per formula string.
type CELEngine struct {
	mu       sync.RWMutex
	programs map[string]*compiledFormula
}

type compiledFormula struct {
	program cel.Program
	// vars maps column name to the CEL identifier substituted for it.
	vars map[string]string
}

// New creates a CEL formula engine.
func New() *CELEngine {
	return &CELEngine{programs: make(map[string]*compiledFormula)}
}

// EvaluateFormula compiles the formula (cached) and evaluates it against
// every row, returning a copy of the dataset augmented with the outcome
// column. Rows with a missing referenced cell yield a nil outcome; rows
// that fail evaluation yield an error sentinel string.
func (e *CELEngine) EvaluateFormula(ctx context.Context, formulaStr string, ds *domain.Dataset, resultColumn string) (*domain.Dataset, error) {
	compiled, err := e.compile(formulaStr)
	if err != nil {
		return nil, err
	}

	outcomes := make([]any, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes[i] = compiled.evalRow(ds.Row(i))
	}

	return ds.WithColumn(resultColumn, outcomes)
}

func (e *CELEngine) compile(formulaStr string) (*compiledFormula, error) {
	e.mu.RLock()
	compiled, ok := e.programs[formulaStr]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	if !formula.IsValidFormula(formulaStr) {
		return nil, fmt.Errorf("invalid formula syntax: %q", formulaStr)
	}

	// Substitute each bracketed column reference with a generated
	// identifier; repeated references share one identifier.
	vars := make(map[string]string)
	expr := strings.TrimSpace(formulaStr)
	expr = strings.TrimPrefix(expr, "=")
	for _, col := range formula.ColumnReferences(formulaStr) {
		if _, seen := vars[col]; seen {
			continue
		}
		ident := fmt.Sprintf("c%d", len(vars))
		vars[col] = ident
		expr = strings.ReplaceAll(expr, "["+col+"]", ident)
	}

	declarations := make([]cel.EnvOption, 0, len(vars))
	for _, ident := range vars {
		declarations = append(declarations, cel.Variable(ident, cel.DynType))
	}

	env, err := cel.NewEnv(declarations...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile formula %q: %w", formulaStr, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for formula %q: %w", formulaStr, err)
	}

	compiled = &compiledFormula{program: program, vars: vars}

	e.mu.Lock()
	e.programs[formulaStr] = compiled
	e.mu.Unlock()

	return compiled, nil
}

// evalRow evaluates one row. A missing referenced cell short-circuits to
// a nil outcome so the aggregate's null-skip rule applies.
func (c *compiledFormula) evalRow(row domain.Row) any {
	activation := make(map[string]any, len(c.vars))
	for col, ident := range c.vars {
		value, ok := row[col]
		if !ok || value == nil {
			return nil
		}
		activation[ident] = value
	}

	out, _, err := c.program.Eval(activation)
	if err != nil {
		return fmt.Sprintf("#ERROR! %v", err)
	}
	return toOutcome(out)
}

// toOutcome converts a CEL value to a raw outcome: bool, float64, or text.
func toOutcome(val ref.Val) any {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	case types.Uint:
		return float64(v)
	case types.String:
		return string(v)
	default:
		return fmt.Sprintf("%v", val.Value())
	}
}
