package scoring

import (
	"github.com/montanaflynn/stats"
)

// Distribution summarizes the spread of per-owner weighted scores for the
// reporting surface. Owners with an N/A score and the overall roll-up are
// excluded from the sample.
type Distribution struct {
	Owners int     `json:"owners"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ScoreDistribution computes summary statistics over a map of owner
// results, such as the output of OverallScore. Returns false when no
// owner has an applicable score.
func ScoreDistribution(results map[string]Result) (Distribution, bool) {
	var sample []float64
	for owner, r := range results {
		if owner == OverallKey || r.WeightedScore.IsNA() {
			continue
		}
		sample = append(sample, r.WeightedScore.Value())
	}
	if len(sample) == 0 {
		return Distribution{}, false
	}

	// stats errors only on empty input, which is guarded above.
	mean, _ := stats.Mean(sample)
	median, _ := stats.Median(sample)
	stdDev, _ := stats.StandardDeviation(sample)
	min, _ := stats.Min(sample)
	max, _ := stats.Max(sample)

	return Distribution{
		Owners: len(sample),
		Mean:   mean,
		Median: median,
		StdDev: stdDev,
		Min:    min,
		Max:    max,
	}, true
}
