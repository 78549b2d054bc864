package ratelimit

import (
	"context"
	"sync"
	"time"
)

type ignoreLevel int

const (
	levelIdentity ignoreLevel = iota
	levelGlobal
)

type ignoreIntent struct {
	level     ignoreLevel
	times     *int
	seconds   *time.Duration
	countThis bool
}

type rankIntent struct {
	reset      bool
	increaseBy *int
}

type limitIntent struct {
	forSeconds *time.Duration
	message    string
	reason     string
}

// Context is the in-handler mutation API: the Engine binds one instance per
// request into the handler's context.Context before running it, and applies
// whatever intents the handler recorded once the handler returns normally.
// It is request-scoped - never shared across concurrently in-flight
// requests - and safe for concurrent use from a single request's own
// goroutines.
type Context struct {
	mu sync.Mutex

	rule     *Rule
	identity Identity

	ignore *ignoreIntent
	rank   *rankIntent
	limit  *limitIntent
}

func newRatelimitContext(rule *Rule, identity Identity) *Context {
	var ruleCopy *Rule
	if rule != nil {
		c := *rule
		ruleCopy = &c
	}
	return &Context{rule: ruleCopy, identity: identity}
}

// Rule returns the rule that fired for the current request, or nil if none
// did (the request was admitted cleanly).
func (c *Context) Rule() *Rule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rule
}

// Identity returns the identity the current request was evaluated under.
func (c *Context) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// IgnoreOptions configures an ignore intent. Exactly one of ForSeconds or
// ForTimes is normally set.
type IgnoreOptions struct {
	ForSeconds *time.Duration
	ForTimes   *int
	CountThis  bool
}

// IgnoreHit is sugar for IgnoreUser(IgnoreOptions{ForTimes: 1, CountThis:
// true}): suppress exactly the current hit and nothing beyond it.
func (c *Context) IgnoreHit() {
	one := 1
	c.IgnoreUser(IgnoreOptions{ForTimes: &one, CountThis: true})
}

// IgnoreUser records an intent to suppress future hits against this
// identity's local record, applied after the handler returns.
func (c *Context) IgnoreUser(opts IgnoreOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ignore = &ignoreIntent{
		level:     levelIdentity,
		times:     opts.ForTimes,
		seconds:   opts.ForSeconds,
		countThis: opts.CountThis,
	}
}

// IgnoreAllUsers is the global-scope counterpart of IgnoreUser: it
// suppresses hits against the endpoint's global record for every identity.
// When CountThis is set alongside ForTimes, the current request is treated
// as already one of the counted ignores, so ForTimes is decremented by one
// before storing.
func (c *Context) IgnoreAllUsers(opts IgnoreOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	times := opts.ForTimes
	if opts.CountThis && times != nil {
		reduced := *times - 1
		times = &reduced
	}

	c.ignore = &ignoreIntent{
		level:     levelGlobal,
		times:     times,
		seconds:   opts.ForSeconds,
		countThis: opts.CountThis,
	}
}

// ResetRank records an intent to reset the identity's rank to 0.
func (c *Context) ResetRank() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rank = &rankIntent{reset: true}
}

// IncreaseRank records an intent to adjust the identity's rank by `by`
// (which may be negative). Unlike the automatic promotion the Engine
// applies when a rule fires, this adjustment saturates only at zero, not at
// the top of the rank ladder - a quirk inherited from the original
// implementation, preserved here.
func (c *Context) IncreaseRank(by int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rank = &rankIntent{increaseBy: &by}
}

// LimitOptions configures a deferred block.
type LimitOptions struct {
	ForSeconds *time.Duration
	Message    string
	Reason     string
}

// Limit records an intent to block future requests from this identity at
// this endpoint. It does not affect the outcome of the current request -
// the handler's response is returned to the caller unchanged; only
// subsequent requests are rejected.
func (c *Context) Limit(opts LimitOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = &limitIntent{
		forSeconds: opts.ForSeconds,
		message:    opts.Message,
		reason:     opts.Reason,
	}
}

func (c *Context) snapshot() (*ignoreIntent, *rankIntent, *limitIntent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignore, c.rank, c.limit
}

type contextKey struct{}

// withRatelimitContext binds rc into ctx for retrieval by the wrapped
// handler via FromContext. This is the request-scoped ambient slot spec §9
// calls for - implemented with context.Context rather than a goroutine- or
// task-local, since that is the idiomatic Go equivalent for per-request
// ambient state carried through a call chain.
func withRatelimitContext(ctx context.Context, rc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext retrieves the Context bound by the Engine for the current
// request. The second return value is false if called outside a request
// the Engine is processing.
func FromContext(ctx context.Context) (*Context, bool) {
	rc, ok := ctx.Value(contextKey{}).(*Context)
	return rc, ok
}
