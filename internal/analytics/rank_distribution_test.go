package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
)

func TestComputeRankDistribution_EmptySnapshot(t *testing.T) {
	dist := ComputeRankDistribution("default", nil, nil, 3)

	assert.Equal(t, "default", dist.Group)
	assert.Equal(t, 0, dist.SampleSize)
	assert.Zero(t, dist.MeanRank)
	assert.Nil(t, dist.RankHistogram)
}

func TestComputeRankDistribution_ComputesSummaryStats(t *testing.T) {
	identities := []ratelimit.Identity{
		{UniqueID: "a", Group: "default", Rank: 0},
		{UniqueID: "b", Group: "default", Rank: 0},
		{UniqueID: "c", Group: "default", Rank: 1},
		{UniqueID: "d", Group: "default", Rank: 2},
	}
	blockDurations := []float64{30, 60, 90}

	dist := ComputeRankDistribution("default", identities, blockDurations, 3)

	assert.Equal(t, 4, dist.SampleSize)
	assert.Equal(t, []int{2, 1, 1}, dist.RankHistogram)
	assert.InDelta(t, 0.75, dist.MeanRank, 0.01)
	assert.InDelta(t, 60, dist.MeanBlockSeconds, 0.01)
	assert.True(t, dist.RankStdDev > 0)
}

func TestComputeRankDistribution_IgnoresOutOfRangeRanks(t *testing.T) {
	identities := []ratelimit.Identity{
		{UniqueID: "a", Group: "default", Rank: 5},
	}

	dist := ComputeRankDistribution("default", identities, nil, 2)

	assert.Equal(t, []int{0, 0}, dist.RankHistogram)
	assert.Equal(t, float64(5), dist.MeanRank)
}
