package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndpointRecord_Blocked(t *testing.T) {
	now := time.Now()
	rule := MustNewRule(Rule{Delay: seconds(1), BlockTime: 10 * time.Second})

	record := NewEndpointRecord("GET", "/v1/things")
	assert.False(t, record.Blocked(now))

	blockedAt := now.Add(-5 * time.Second)
	record.BlockedAt = &blockedAt
	record.BlockedByRule = rule
	assert.True(t, record.Blocked(now))

	expired := now.Add(-11 * time.Second)
	record.BlockedAt = &expired
	assert.False(t, record.Blocked(now))
}

func TestTrimHits(t *testing.T) {
	now := time.Now()
	hits := []time.Time{now, now.Add(time.Second), now.Add(2 * time.Second)}

	assert.Equal(t, hits[1:], trimHits(hits, 2))
	assert.Equal(t, hits, trimHits(hits, 10))

	// A zero/negative maxHits mirrors the Python `hits[-0:]` quirk: the
	// full list is retained, not emptied.
	assert.Equal(t, hits, trimHits(hits, 0))
	assert.Equal(t, hits, trimHits(hits, -1))
}

func TestRemoveHit(t *testing.T) {
	now := time.Now()
	other := now.Add(time.Second)
	hits := []time.Time{now, other}

	remaining, ok := removeHit(hits, now)
	assert.True(t, ok)
	assert.Equal(t, []time.Time{other}, remaining)

	_, ok = removeHit(hits, now.Add(time.Hour))
	assert.False(t, ok)
}
