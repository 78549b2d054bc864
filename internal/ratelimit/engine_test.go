package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store/RankingStore used across engine tests. It
// intentionally has no locking: the engine is exercised from a single
// goroutine per test, matching spec §5's "no in-process coordination"
// model.
type fakeStore struct {
	global map[string]*EndpointRecord
	local  map[string]*EndpointRecord
	ranks  map[string]*Identity
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		global: map[string]*EndpointRecord{},
		local:  map[string]*EndpointRecord{},
		ranks:  map[string]*Identity{},
	}
}

func globalKey(method, path string) string { return method + " " + path }
func localKey(method, path, id string) string {
	return fmt.Sprintf("%s %s#%s", method, path, id)
}

func cloneRecord(r *EndpointRecord) *EndpointRecord {
	out := *r
	out.Hits = append([]time.Time(nil), r.Hits...)
	return &out
}

func (s *fakeStore) LoadGlobal(ctx context.Context, method, path string) (*EndpointRecord, error) {
	if r, ok := s.global[globalKey(method, path)]; ok {
		return cloneRecord(r), nil
	}
	return NewEndpointRecord(method, path), nil
}

func (s *fakeStore) SaveGlobal(ctx context.Context, record *EndpointRecord) error {
	s.global[globalKey(record.Method, record.Path)] = cloneRecord(record)
	return nil
}

func (s *fakeStore) LoadLocal(ctx context.Context, method, path, identityID string) (*EndpointRecord, error) {
	if r, ok := s.local[localKey(method, path, identityID)]; ok {
		return cloneRecord(r), nil
	}
	return NewEndpointRecord(method, path), nil
}

func (s *fakeStore) SaveLocal(ctx context.Context, record *EndpointRecord, identity Identity) error {
	s.local[localKey(record.Method, record.Path, identity.UniqueID)] = cloneRecord(record)
	return nil
}

func (s *fakeStore) Load(ctx context.Context, uniqueID string) (*Identity, error) {
	if id, ok := s.ranks[uniqueID]; ok {
		cp := *id
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeStore) Save(ctx context.Context, identity Identity) error {
	cp := identity
	s.ranks[identity.UniqueID] = &cp
	return nil
}

func noopHandler(ctx context.Context) error { return nil }

func newTestEngine(t *testing.T, ranks RankSet, now *time.Time) (*Engine, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	engine := NewEngine()
	require.NoError(t, engine.Configure(EngineConfig{
		Ranks:        ranks,
		Store:        store,
		RankingStore: store,
		Clock:        func() time.Time { return *now },
	}))
	return engine, store
}

func singleRankBurstRules() RankSet {
	return RankSet{{MustNewRule(Rule{Hits: ints(3), BatchTime: seconds(10), BlockTime: 60 * time.Second})}}
}

// Scenario 1: simple burst block. Hits-based rules never reject the request
// that trips them - only delay rules raise immediately (spec §4.2 step 8).
// So the third request silently
// persists the block while still succeeding; the fourth is the first to be
// rejected, via the pre-existing-block check (step 5).
func TestEngine_SimpleBurstBlock(t *testing.T) {
	now := time.Unix(0, 0)
	engine, _ := newTestEngine(t, singleRankBurstRules(), &now)
	key := RequestKey{Method: "GET", Path: "/x", Identity: Identity{UniqueID: "U1"}}

	for i := 0; i < 3; i++ {
		now = time.Unix(int64(i), 0)
		require.NoError(t, engine.Process(context.Background(), key, noopHandler))
	}

	now = time.Unix(3, 0)
	err := engine.Process(context.Background(), key, noopHandler)
	require.Error(t, err)
	limited, ok := err.(*LimitedError)
	require.True(t, ok)
	require.Equal(t, 59, limited.LimitedFor)

	now = time.Unix(4, 0)
	err = engine.Process(context.Background(), key, noopHandler)
	require.Error(t, err)
	limited, ok = err.(*LimitedError)
	require.True(t, ok)
	require.Equal(t, 58, limited.LimitedFor)
}

// Scenario 2: sliding window release.
func TestEngine_SlidingWindowRelease(t *testing.T) {
	rules := RankSet{{MustNewRule(Rule{Hits: ints(2), BatchTime: seconds(5), BlockTime: 1 * time.Second})}}
	now := time.Unix(0, 0)
	engine, _ := newTestEngine(t, rules, &now)
	key := RequestKey{Method: "GET", Path: "/x", Identity: Identity{UniqueID: "U1"}}

	require.NoError(t, engine.Process(context.Background(), key, noopHandler))

	now = time.Unix(4, 0)
	require.NoError(t, engine.Process(context.Background(), key, noopHandler))

	now = time.UnixMilli(4500)
	err := engine.Process(context.Background(), key, noopHandler)
	require.Error(t, err)
	limited := err.(*LimitedError)
	require.Equal(t, 1, limited.LimitedFor)

	now = time.Unix(6, 0)
	require.NoError(t, engine.Process(context.Background(), key, noopHandler))
}

// Scenario 3: delay rule without persisted block.
func TestEngine_DelayRuleWithoutPersistedBlock(t *testing.T) {
	rules := RankSet{{MustNewRule(Rule{Delay: seconds(1), BlockTime: 60 * time.Second})}}
	now := time.Unix(0, 0)
	engine, store := newTestEngine(t, rules, &now)
	key := RequestKey{Method: "GET", Path: "/x", Identity: Identity{UniqueID: "U1"}}

	require.NoError(t, engine.Process(context.Background(), key, noopHandler))

	now = time.UnixMilli(500)
	err := engine.Process(context.Background(), key, noopHandler)
	require.Error(t, err)
	limited := err.(*LimitedError)
	require.Equal(t, ErrorTypeDelayExceeded, limited.ErrorType)
	require.Equal(t, 1, limited.LimitedFor)

	local := store.local[localKey("GET", "/x", "U1")]
	require.Len(t, local.Hits, 1)
	require.True(t, local.Hits[0].Equal(time.Unix(0, 0)))
	require.False(t, local.Blocked(now))

	now = time.UnixMilli(1200)
	require.NoError(t, engine.Process(context.Background(), key, noopHandler))
}

// Scenario 4: rank promotion. rank0's block_time is kept short so it has
// expired by the time the next request arrives, letting that request be
// evaluated fresh under rank1's tighter bundle.
func TestEngine_RankPromotion(t *testing.T) {
	rank0 := MustNewRule(Rule{Hits: ints(2), BatchTime: seconds(10), BlockTime: time.Second, IncreaseRank: true})
	rank1 := MustNewRule(Rule{Hits: ints(1), BatchTime: seconds(10), BlockTime: 60 * time.Second})
	ranks := RankSet{{rank0}, {rank1}}
	now := time.Unix(0, 0)
	engine, store := newTestEngine(t, ranks, &now)
	key := RequestKey{Method: "GET", Path: "/x", Identity: Identity{UniqueID: "U1"}}

	require.NoError(t, engine.Process(context.Background(), key, noopHandler))

	now = time.Unix(1, 0)
	require.NoError(t, engine.Process(context.Background(), key, noopHandler))
	require.Equal(t, 1, store.ranks["U1"].Rank)

	// rank0's 1s block (set at t=1) has expired by t=3: this request is
	// evaluated fresh under rank1 (hits=1) and silently re-trips it.
	now = time.Unix(3, 0)
	require.NoError(t, engine.Process(context.Background(), key, noopHandler))

	now = time.Unix(4, 0)
	err := engine.Process(context.Background(), key, noopHandler)
	require.Error(t, err)
	limited := err.(*LimitedError)
	require.NotNil(t, limited.Hits)
	require.Equal(t, 1, *limited.Hits)
}

// Scenario 5: ignore-by-count at identity scope.
func TestEngine_IgnoreByCountAtIdentityScope(t *testing.T) {
	rules := singleRankBurstRules()
	now := time.Unix(0, 0)
	engine, store := newTestEngine(t, rules, &now)
	key := RequestKey{Method: "GET", Path: "/x", Identity: Identity{UniqueID: "U1"}}

	handler := func(ctx context.Context) error {
		rc, ok := FromContext(ctx)
		require.True(t, ok)
		three := 3
		rc.IgnoreUser(IgnoreOptions{ForTimes: &three, CountThis: true})
		return nil
	}
	require.NoError(t, engine.Process(context.Background(), key, handler))

	local := store.local[localKey("GET", "/x", "U1")]
	require.NotNil(t, local.IgnoreTimes)
	require.Equal(t, 3, *local.IgnoreTimes)

	expectCounts := []int{2, 1, 0}
	for i, want := range expectCounts {
		now = time.Unix(int64(i+1), 0)
		require.NoError(t, engine.Process(context.Background(), key, noopHandler))
		local = store.local[localKey("GET", "/x", "U1")]
		require.Equal(t, want, *local.IgnoreTimes)
		require.Empty(t, local.Hits)
	}

	now = time.Unix(4, 0)
	require.NoError(t, engine.Process(context.Background(), key, noopHandler))
	local = store.local[localKey("GET", "/x", "U1")]
	require.Len(t, local.Hits, 1)
}

// Scenario 6: post-handler limit intent.
func TestEngine_PostHandlerLimitIntent(t *testing.T) {
	rules := RankSet{{MustNewRule(Rule{Hits: ints(100), BatchTime: seconds(60), BlockTime: 60 * time.Second})}}
	now := time.Unix(0, 0)
	engine, store := newTestEngine(t, rules, &now)
	key := RequestKey{Method: "GET", Path: "/x", Identity: Identity{UniqueID: "U1"}}

	handler := func(ctx context.Context) error {
		rc, ok := FromContext(ctx)
		require.True(t, ok)
		d := 20 * time.Second
		rc.Limit(LimitOptions{ForSeconds: &d})
		return nil
	}
	require.NoError(t, engine.Process(context.Background(), key, handler))

	local := store.local[localKey("GET", "/x", "U1")]
	require.True(t, local.Blocked(now))

	now = time.Unix(1, 0)
	err := engine.Process(context.Background(), key, noopHandler)
	require.Error(t, err)
	limited := err.(*LimitedError)
	require.Equal(t, 19, limited.LimitedFor)
}

func TestEngine_NoHitOnExceptionsRevertsHit(t *testing.T) {
	sentinel := fmt.Errorf("boom")
	rules := singleRankBurstRules()
	now := time.Unix(0, 0)
	store := newFakeStore()
	engine := NewEngine()
	require.NoError(t, engine.Configure(EngineConfig{
		Ranks:             rules,
		Store:             store,
		RankingStore:      store,
		Clock:             func() time.Time { return now },
		NoHitOnExceptions: []error{sentinel},
	}))
	key := RequestKey{Method: "GET", Path: "/x", Identity: Identity{UniqueID: "U1"}}

	err := engine.Process(context.Background(), key, func(ctx context.Context) error { return sentinel })
	require.ErrorIs(t, err, sentinel)

	local := store.local[localKey("GET", "/x", "U1")]
	require.Empty(t, local.Hits)
}

func TestEngine_NotConfigured(t *testing.T) {
	engine := NewEngine()
	err := engine.Process(context.Background(), RequestKey{Method: "GET", Path: "/x"}, noopHandler)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestEngine_ConfigureTwiceFails(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine()
	cfg := EngineConfig{Ranks: singleRankBurstRules(), Store: store, RankingStore: store}
	require.NoError(t, engine.Configure(cfg))
	require.ErrorIs(t, engine.Configure(cfg), ErrAlreadyConfigured)
}
