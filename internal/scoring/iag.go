// Package scoring implements the IAG (Internal Audit Group) weighted
// scoring methodology: GC=5, PC=3, DNC=1, N/A=0, with rating bands at
// 80% (GC) and 50% (PC). Every function is a pure computation over
// already-aggregated classification counts.
package scoring

import (
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Point weights per classification bucket.
const (
	WeightGC  = 5
	WeightPC  = 3
	WeightDNC = 1
	WeightNA  = 0
)

// Rating band cutoffs applied to a weighted score in [0,1].
const (
	RatingGCThreshold = 0.80
	RatingPCThreshold = 0.50
)

// OverallKey is the map key for the rolled-up entry in OverallScore.
const OverallKey = "overall"

// Score is a weighted score in [0,1] or the distinguished "N/A" sentinel
// produced when there is no applicable population.
type Score struct {
	value float64
	na    bool
}

// NA is the "not applicable" score sentinel.
var NA = Score{na: true}

// NewScore wraps a numeric weighted score.
func NewScore(v float64) Score {
	return Score{value: v}
}

// IsNA reports whether the score is the "N/A" sentinel.
func (s Score) IsNA() bool { return s.na }

// Value returns the numeric score; zero for the sentinel.
func (s Score) Value() float64 {
	if s.na {
		return 0
	}
	return s.value
}

// String renders the score, preserving the literal "N/A" token.
func (s Score) String() string {
	if s.na {
		return "N/A"
	}
	return fmt.Sprintf("%g", s.value)
}

// MarshalJSON emits the number, or the literal "N/A" string for the sentinel.
func (s Score) MarshalJSON() ([]byte, error) {
	if s.na {
		return []byte(`"N/A"`), nil
	}
	return []byte(fmt.Sprintf("%g", s.value)), nil
}

// UnmarshalJSON accepts a JSON number or the literal "N/A" string, so
// Result values carried on bus payloads decode back without loss.
func (s *Score) UnmarshalJSON(data []byte) error {
	if string(data) == `"N/A"` {
		*s = NA
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid score value: %w", err)
	}
	*s = Score{value: v}
	return nil
}

// Result holds the IAG score computation for one owner or the overall
// roll-up. TotalApplicable excludes N/A; TotalCount includes it.
type Result struct {
	GCCount         int    `json:"gc_count"`
	PCCount         int    `json:"pc_count"`
	DNCCount        int    `json:"dnc_count"`
	NACount         int    `json:"na_count"`
	TotalApplicable int    `json:"total_applicable"`
	WeightedScore   Score  `json:"weighted_score"`
	Rating          string `json:"rating"`
}

// TotalCount is the applicable total plus the N/A count.
func (r Result) TotalCount() int {
	return r.TotalApplicable + r.NACount
}

// WeightedScore computes ((GC*5)+(PC*3)+(DNC*1)) / (total*5), or the N/A
// sentinel when the applicable total is zero.
func WeightedScore(gcCount, pcCount, dncCount, totalCount int) Score {
	if totalCount == 0 {
		return NA
	}
	weighted := gcCount*WeightGC + pcCount*WeightPC + dncCount*WeightDNC
	return NewScore(float64(weighted) / float64(totalCount*WeightGC))
}

// Rating assigns the IAG rating band: >=80% GC, <50% DNC, else PC. The
// N/A sentinel passes through unchanged.
func Rating(score Score) string {
	switch {
	case score.IsNA():
		return "N/A"
	case score.Value() >= RatingGCThreshold:
		return string(domain.StatusGC)
	case score.Value() < RatingPCThreshold:
		return string(domain.StatusDNC)
	default:
		return string(domain.StatusPC)
	}
}

// LeaderScore tallies the compliance statuses of one owner's rule
// outcomes and computes the weighted score and rating. A missing or
// unrecognized status counts as N/A.
func LeaderScore(statuses []domain.ComplianceStatus) Result {
	var gc, pc, dnc, na int
	for _, status := range statuses {
		switch status {
		case domain.StatusGC:
			gc++
		case domain.StatusPC:
			pc++
		case domain.StatusDNC:
			dnc++
		default:
			na++
		}
	}

	applicable := gc + pc + dnc
	score := WeightedScore(gc, pc, dnc, applicable)

	return Result{
		GCCount:         gc,
		PCCount:         pc,
		DNCCount:        dnc,
		NACount:         na,
		TotalApplicable: applicable,
		WeightedScore:   score,
		Rating:          Rating(score),
	}
}

// OverallScore computes a leader score per owner plus an "overall" entry
// built from the summed counts. The overall counts equal the per-owner
// sums exactly, and the overall weighted score equals WeightedScore
// applied to those sums.
func OverallScore(statusesByOwner map[string][]domain.ComplianceStatus) map[string]Result {
	results := make(map[string]Result, len(statusesByOwner)+1)

	var gc, pc, dnc, na int
	for owner, statuses := range statusesByOwner {
		r := LeaderScore(statuses)
		results[owner] = r
		gc += r.GCCount
		pc += r.PCCount
		dnc += r.DNCCount
		na += r.NACount
	}

	applicable := gc + pc + dnc
	score := WeightedScore(gc, pc, dnc, applicable)
	results[OverallKey] = Result{
		GCCount:         gc,
		PCCount:         pc,
		DNCCount:        dnc,
		NACount:         na,
		TotalApplicable: applicable,
		WeightedScore:   score,
		Rating:          Rating(score),
	}

	return results
}

// FormatPercentage renders a score as a fixed-decimal percentage string,
// e.g. "75.6%". The N/A sentinel passes through unchanged.
func FormatPercentage(score Score, decimals int) string {
	if score.IsNA() {
		return "N/A"
	}
	return fmt.Sprintf("%.*f%%", decimals, score.Value()*100)
}
