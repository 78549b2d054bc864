// Package analytics computes summary statistics over a snapshot of identity
// ranks and block durations, backing the admin reporting endpoints.
package analytics

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
)

// RankDistribution summarizes how a group's identities are spread across
// ranks, and how long their blocks tend to last.
type RankDistribution struct {
	Group            string    `json:"group"`
	SampleSize       int       `json:"sample_size"`
	MeanRank         float64   `json:"mean_rank"`
	RankStdDev       float64   `json:"rank_stddev"`
	MedianRank       float64   `json:"median_rank"`
	P90Rank          float64   `json:"p90_rank"`
	MeanBlockSeconds float64   `json:"mean_block_seconds"`
	RankHistogram    []int     `json:"rank_histogram"`
}

// ComputeRankDistribution computes a RankDistribution from a snapshot of
// identities and the block durations (in seconds) observed for them. The
// caller gathers the identities from the ranking store and the block
// durations from the decision audit trail; this
// function is pure and holds no I/O.
func ComputeRankDistribution(group string, identities []ratelimit.Identity, blockDurationsSeconds []float64, rankCount int) RankDistribution {
	dist := RankDistribution{
		Group:      group,
		SampleSize: len(identities),
	}
	if len(identities) == 0 {
		return dist
	}

	ranks := make([]float64, len(identities))
	histogram := make([]int, rankCount)
	for i, identity := range identities {
		ranks[i] = float64(identity.Rank)
		if identity.Rank >= 0 && identity.Rank < rankCount {
			histogram[identity.Rank]++
		}
	}
	sort.Float64s(ranks)

	dist.MeanRank = stat.Mean(ranks, nil)
	dist.RankStdDev = stat.StdDev(ranks, nil)
	dist.MedianRank = stat.Quantile(0.5, stat.Empirical, ranks, nil)
	dist.P90Rank = stat.Quantile(0.9, stat.Empirical, ranks, nil)
	dist.RankHistogram = histogram

	if len(blockDurationsSeconds) > 0 {
		sorted := append([]float64(nil), blockDurationsSeconds...)
		sort.Float64s(sorted)
		dist.MeanBlockSeconds = stat.Mean(sorted, nil)
	}

	return dist
}
