// Package compliance implements the GC/PC/DNC classification algorithm and
// its rule-level and party-level aggregation.
package compliance

import (
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Determiner classifies raw per-row outcomes and aggregates them.
//
// Two independent threshold knobs exist on purpose. The per-row GC cutoff
// for numeric outcomes is each rule's own threshold; the determiner-wide
// gcThreshold applies only to the rule-level aggregate. They are not
// required to agree: a rule threshold below pcThreshold narrows or empties
// the PC band.
type Determiner struct {
	gcThreshold float64
	pcThreshold float64
}

// NewDeterminer creates a determiner with the aggregate thresholds clamped
// to [0,1] and ordered so pcThreshold <= gcThreshold.
func NewDeterminer(gcThreshold, pcThreshold float64) *Determiner {
	gc := clamp01(gcThreshold)
	pc := clamp01(pcThreshold)
	if pc > gc {
		pc = gc
	}
	return &Determiner{gcThreshold: gc, pcThreshold: pc}
}

// NewDefaultDeterminer uses the standard 0.95/0.80 aggregate thresholds.
func NewDefaultDeterminer() *Determiner {
	return NewDeterminer(0.95, 0.80)
}

// GCThreshold returns the rule-level aggregate GC threshold.
func (d *Determiner) GCThreshold() float64 { return d.gcThreshold }

// PCThreshold returns the PC threshold shared by the per-row numeric band
// and the rule-level aggregate.
func (d *Determiner) PCThreshold() float64 { return d.pcThreshold }

// IsEngineError reports whether a raw outcome is an evaluator-error
// sentinel: text starting with "ERROR" or a leading "#".
func IsEngineError(raw any) bool {
	s, ok := raw.(string)
	if !ok {
		return false
	}
	return strings.HasPrefix(s, "ERROR") || strings.HasPrefix(s, "#")
}

// Classify determines the compliance bucket for a single raw outcome.
// Precedence is fixed: boolean, then numeric against the rule's own
// threshold, then text, then default-to-DNC with a non-fatal warning.
// Classify never fails on malformed input.
func (d *Determiner) Classify(raw any, ruleThreshold float64) domain.ComplianceStatus {
	switch v := raw.(type) {
	case bool:
		if v {
			return domain.StatusGC
		}
		return domain.StatusDNC

	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		value := toFloat(v)
		switch {
		case value >= ruleThreshold:
			return domain.StatusGC
		case value >= d.pcThreshold:
			return domain.StatusPC
		default:
			return domain.StatusDNC
		}

	case string:
		if IsEngineError(v) {
			return domain.StatusDNC
		}
		switch strings.ToUpper(v) {
		case "TRUE":
			return domain.StatusGC
		case "FALSE":
			return domain.StatusDNC
		}
	}

	slog.Warn("unrecognized validation result, defaulting to DNC", "result", raw)
	return domain.StatusDNC
}

// OverallCompliance aggregates one rule's raw outcomes. Null values are
// skipped and removed from the denominator. Engine-error text counts as
// DNC and additionally increments ErrorCount. A zero applicable total
// resolves to DNC with all-zero metrics rather than dividing by zero.
func (d *Determiner) OverallCompliance(values []any, ruleThreshold float64) (domain.ComplianceStatus, domain.Metrics) {
	var m domain.Metrics
	total := len(values)

	for _, raw := range values {
		if raw == nil {
			total--
			continue
		}

		if IsEngineError(raw) {
			m.ErrorCount++
			m.DNCCount++
			continue
		}

		switch d.Classify(raw, ruleThreshold) {
		case domain.StatusGC:
			m.GCCount++
		case domain.StatusPC:
			m.PCCount++
		default:
			m.DNCCount++
		}
	}

	if total == 0 {
		return domain.StatusDNC, domain.Metrics{}
	}

	m.TotalCount = total
	m.GCRate = float64(m.GCCount) / float64(total)
	m.PCRate = float64(m.PCCount) / float64(total)
	m.DNCRate = float64(m.DNCCount) / float64(total)

	var status domain.ComplianceStatus
	switch {
	case m.GCRate >= d.gcThreshold:
		status = domain.StatusGC
	case m.GCRate+m.PCRate >= d.pcThreshold:
		status = domain.StatusPC
	default:
		status = domain.StatusDNC
	}

	return status, m
}

// AggregateByParty partitions the dataset by the owner column and runs the
// rule-level aggregate independently per partition. The partitions are a
// disjoint cover of the non-null owner rows: no row is double-counted and
// none dropped beyond the per-partition null skip.
func (d *Determiner) AggregateByParty(ds *domain.Dataset, resultColumn, partyColumn string, ruleThreshold float64) map[string]domain.PartyResult {
	results := make(map[string]domain.PartyResult)
	for party, partition := range ds.PartitionBy(partyColumn) {
		status, metrics := d.OverallCompliance(partition.Column(resultColumn), ruleThreshold)
		results[party] = domain.PartyResult{Status: status, Metrics: metrics}
	}
	return results
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	}
	return 0
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
