package redisstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
)

func TestDefaultKeyFunc(t *testing.T) {
	assert.Equal(t, "rl:g:GET:/v1/things", defaultKeyFunc("GET", "/v1/things"))
	assert.Equal(t, "rl:l:GET:/v1/things:user-1", defaultLocalKeyFunc("GET", "/v1/things", "user-1"))
	assert.Equal(t, "rl:id:user-1", defaultRankingKeyFunc("user-1"))
}

func TestEndpointRecord_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	rule := ratelimit.MustNewRule(ratelimit.Rule{
		Delay:     durationPtr(time.Second),
		BlockTime: 30 * time.Second,
	})
	record := ratelimit.NewEndpointRecord("GET", "/v1/things")
	record.Hits = []time.Time{now, now.Add(time.Second)}
	record.BlockedAt = &now
	record.BlockedByRule = rule

	data, err := json.Marshal(record)
	assert.NoError(t, err)

	var decoded ratelimit.EndpointRecord
	assert.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, record.Method, decoded.Method)
	assert.Equal(t, record.Path, decoded.Path)
	assert.Len(t, decoded.Hits, 2)
	assert.True(t, decoded.Hits[0].Equal(now))
	assert.True(t, decoded.Hits[1].Equal(now.Add(time.Second)))
	assert.True(t, decoded.BlockedAt.Equal(now))
	assert.Equal(t, *rule.Delay, *decoded.BlockedByRule.Delay)
}

func TestIdentity_JSONRoundTrip(t *testing.T) {
	identity := ratelimit.Identity{UniqueID: "u1", Group: "beta", Rank: 2}

	data, err := json.Marshal(identity)
	assert.NoError(t, err)

	var decoded ratelimit.Identity
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, identity, decoded)
}

func durationPtr(d time.Duration) *time.Duration { return &d }
