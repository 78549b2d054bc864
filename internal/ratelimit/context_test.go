package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContext_FromContextRoundTrip(t *testing.T) {
	rc := newRatelimitContext(nil, Identity{UniqueID: "u1", Group: "default"})
	ctx := withRatelimitContext(context.Background(), rc)

	got, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, rc, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}

func TestContext_IgnoreHitIsSugar(t *testing.T) {
	rc := newRatelimitContext(nil, Identity{})
	rc.IgnoreHit()

	ignore, _, _ := rc.snapshot()
	if assert.NotNil(t, ignore) {
		assert.Equal(t, levelIdentity, ignore.level)
		assert.True(t, ignore.countThis)
		if assert.NotNil(t, ignore.times) {
			assert.Equal(t, 1, *ignore.times)
		}
	}
}

func TestContext_IgnoreAllUsersDecrementsWhenCountingThisRequest(t *testing.T) {
	rc := newRatelimitContext(nil, Identity{})
	rc.IgnoreAllUsers(IgnoreOptions{ForTimes: ints(3), CountThis: true})

	ignore, _, _ := rc.snapshot()
	if assert.NotNil(t, ignore) {
		assert.Equal(t, levelGlobal, ignore.level)
		if assert.NotNil(t, ignore.times) {
			assert.Equal(t, 2, *ignore.times)
		}
	}
}

func TestContext_RankIntents(t *testing.T) {
	rc := newRatelimitContext(nil, Identity{})
	rc.ResetRank()

	_, rank, _ := rc.snapshot()
	if assert.NotNil(t, rank) {
		assert.True(t, rank.reset)
	}

	rc2 := newRatelimitContext(nil, Identity{})
	rc2.IncreaseRank(-2)
	_, rank2, _ := rc2.snapshot()
	if assert.NotNil(t, rank2) && assert.NotNil(t, rank2.increaseBy) {
		assert.Equal(t, -2, *rank2.increaseBy)
	}
}

func TestContext_LimitIntent(t *testing.T) {
	rc := newRatelimitContext(nil, Identity{})
	d := 20 * time.Second
	rc.Limit(LimitOptions{ForSeconds: &d, Message: "slow down"})

	_, _, limit := rc.snapshot()
	if assert.NotNil(t, limit) {
		assert.Equal(t, "slow down", limit.message)
		if assert.NotNil(t, limit.forSeconds) {
			assert.Equal(t, d, *limit.forSeconds)
		}
	}
}

func TestContext_RuleAndIdentityAccessors(t *testing.T) {
	rule := MustNewRule(Rule{Delay: seconds(1), BlockTime: 60 * time.Second})
	identity := Identity{UniqueID: "u1", Group: "default", Rank: 2}
	rc := newRatelimitContext(rule, identity)

	assert.Equal(t, identity, rc.Identity())
	if assert.NotNil(t, rc.Rule()) {
		assert.Equal(t, *rule.Delay, *rc.Rule().Delay)
	}
}
