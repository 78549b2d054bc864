package ratelimit

import "time"

// EndpointRecord is the mutable, persisted counter state for one scope of an
// endpoint - either the global scope, keyed by (method, path), or the local
// (per-identity) scope, keyed by (method, path, identity.UniqueID). Both
// scopes share this same shape.
type EndpointRecord struct {
	Path   string `json:"path"`
	Method string `json:"method"`

	// Hits holds hit timestamps, trimmed to at most MaxHits(bundle)
	// most-recent entries after every evaluation.
	Hits []time.Time `json:"hits"`

	// IgnoreTimes, while positive, suppresses and is decremented on each
	// hit against this scope (see Evaluate).
	IgnoreTimes *int `json:"ignore_times,omitempty"`

	// IgnoreUntil, while in the future, suppresses hits against this
	// scope without consuming IgnoreTimes.
	IgnoreUntil *time.Time `json:"ignore_until,omitempty"`

	// BlockedAt and BlockedByRule co-define a block: present together or
	// not at all.
	BlockedAt     *time.Time `json:"blocked_at,omitempty"`
	BlockedByRule *Rule      `json:"blocked_by_rule,omitempty"`
}

// NewEndpointRecord returns the default record for (method, path): the
// value Store implementations must hand back when nothing has been
// persisted yet.
func NewEndpointRecord(method, path string) *EndpointRecord {
	return &EndpointRecord{Method: method, Path: path}
}

// Blocked reports whether the record is currently under an active block:
// BlockedByRule and BlockedAt are both set, and BlockedAt + block_time is
// still in the future relative to now.
func (r *EndpointRecord) Blocked(now time.Time) bool {
	if r.BlockedByRule == nil || r.BlockedAt == nil {
		return false
	}
	return r.BlockedAt.Add(r.BlockedByRule.BlockTime).After(now)
}

// trimHits keeps only the maxHits most-recent entries. A non-positive
// maxHits leaves hits untouched - this reproduces the original
// implementation's `hits[-get_max_hits(rules):]` behavior, where a zero
// bundle produces a Python `hits[-0:]` slice, which is the full list
// (negative zero equals zero), not an empty one.
func trimHits(hits []time.Time, maxHits int) []time.Time {
	if maxHits <= 0 || len(hits) <= maxHits {
		return hits
	}
	trimmed := make([]time.Time, maxHits)
	copy(trimmed, hits[len(hits)-maxHits:])
	return trimmed
}

// removeHit removes the first occurrence of target from hits, if present,
// and reports whether anything was removed.
func removeHit(hits []time.Time, target time.Time) ([]time.Time, bool) {
	for i, h := range hits {
		if h.Equal(target) {
			out := make([]time.Time, 0, len(hits)-1)
			out = append(out, hits[:i]...)
			out = append(out, hits[i+1:]...)
			return out, true
		}
	}
	return hits, false
}
