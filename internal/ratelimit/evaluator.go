package ratelimit

import "time"

// IgnoreScope identifies which record an Ignore signal was raised against.
type IgnoreScope int

const (
	ScopeGlobal IgnoreScope = iota
	ScopeIdentity
)

func (s IgnoreScope) String() string {
	if s == ScopeGlobal {
		return "global"
	}
	return "identity"
}

// IgnoreReason distinguishes a count-based suppression from a time-based
// one; both clear the hit log but are persisted and decremented
// differently by the Engine.
type IgnoreReason int

const (
	IgnoreByCount IgnoreReason = iota
	IgnoreByTime
)

// EvalKind is the discriminant of an EvalResult.
type EvalKind int

const (
	// EvalNone means no rule was exceeded and no ignore is active.
	EvalNone EvalKind = iota
	// EvalExceeded means Rule was crossed; Rule is set.
	EvalExceeded
	// EvalIgnore means a suppression is active; IgnoreScope and
	// IgnoreReason are set.
	EvalIgnore
)

// EvalResult is the pure outcome of Evaluate: exactly one of "no
// violation", "this rule was exceeded", or "this scope is under an active
// ignore". It replaces the original Python implementation's
// control-flow-as-exception pattern (raising Ignore/IgnoreByCount/
// IgnoreByTime from the pure evaluator) with an ordinary return value.
type EvalResult struct {
	Kind        EvalKind
	Rule        *Rule
	IgnoreScope IgnoreScope
	IgnoreKind  IgnoreReason
}

// Evaluate is the pure rule-evaluation state machine described in spec §4.1.
// It consumes both scopes' EndpointRecords, the rule bundle applicable at
// the identity's current rank, the identity's group, and the current time,
// and decides: ignore (short-circuiting, global before identity, count
// before time), the first rule exceeded in declaration order, or no
// violation.
//
// The just-appended "now" hit is expected to already be present in
// local.Hits - Evaluate does not append it itself (the Engine does, before
// calling Evaluate, per spec §4.2 step 7), so a hits=N rule triggers on the
// Nth request within the window, not the (N+1)th.
func Evaluate(bundle []*Rule, global, local *EndpointRecord, group string, now time.Time) EvalResult {
	filtered := filterRulesForGroup(bundle, group)

	if global.IgnoreTimes != nil && *global.IgnoreTimes > 0 {
		return EvalResult{Kind: EvalIgnore, IgnoreScope: ScopeGlobal, IgnoreKind: IgnoreByCount}
	}
	if local.IgnoreTimes != nil && *local.IgnoreTimes > 0 {
		return EvalResult{Kind: EvalIgnore, IgnoreScope: ScopeIdentity, IgnoreKind: IgnoreByCount}
	}
	if global.IgnoreUntil != nil && !global.IgnoreUntil.Before(now) {
		return EvalResult{Kind: EvalIgnore, IgnoreScope: ScopeGlobal, IgnoreKind: IgnoreByTime}
	}
	if local.IgnoreUntil != nil && !local.IgnoreUntil.Before(now) {
		return EvalResult{Kind: EvalIgnore, IgnoreScope: ScopeIdentity, IgnoreKind: IgnoreByTime}
	}

	for _, rule := range filtered {
		switch {
		case rule.Hits != nil:
			threshold := now.Add(-*rule.BatchTime)
			count := 0
			for _, hit := range local.Hits {
				if !hit.Before(threshold) {
					count++
				}
			}
			if count >= *rule.Hits {
				return EvalResult{Kind: EvalExceeded, Rule: rule}
			}

		case rule.Delay != nil:
			n := len(local.Hits)
			if n < 2 {
				continue
			}
			if local.Hits[n-1].Sub(local.Hits[n-2]) < *rule.Delay {
				return EvalResult{Kind: EvalExceeded, Rule: rule}
			}
		}
	}

	return EvalResult{Kind: EvalNone}
}

func filterRulesForGroup(rules []*Rule, group string) []*Rule {
	filtered := make([]*Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.AffectedGroup == nil {
			filtered = append(filtered, rule)
			continue
		}
		for _, g := range rule.AffectedGroup {
			if g == group {
				filtered = append(filtered, rule)
				break
			}
		}
	}
	return filtered
}
