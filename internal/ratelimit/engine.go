package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotConfigured is returned by Process when the Engine was
	// constructed with NewEngine but Configure has not yet succeeded, or
	// by Configure when required fields are missing.
	ErrNotConfigured = errors.New("ratelimit: engine not configured")

	// ErrAlreadyConfigured is returned by Configure when called more than
	// once: per spec, setup happens once at process start and
	// reconfiguration is rejected rather than silently applied.
	ErrAlreadyConfigured = errors.New("ratelimit: engine already configured")
)

// HandlerFunc is the application logic the Engine wraps. It receives a
// context.Context carrying the bound *Context (retrievable via FromContext)
// for the duration of the call.
type HandlerFunc func(ctx context.Context) error

// RequestKey identifies the endpoint and candidate caller for one request.
type RequestKey struct {
	Method   string
	Path     string
	Identity Identity
}

// EngineConfig holds everything established once at process start. Every
// field is read-only for the lifetime of the Engine once Configure
// succeeds, per the setup-lifecycle described in spec §5.
type EngineConfig struct {
	Ranks         RankSet
	Store         Store
	RankingStore  RankingStore
	ReasonBuilder ReasonBuilder

	// DefaultBlockTime backs synthetic limit-intent rules when neither the
	// intent nor the applicable bundle supplies one.
	DefaultBlockTime time.Duration

	// NoBlockDelay, when true (the default - nil is treated as true),
	// suppresses persisting a block when a delay rule fires: the
	// just-appended hit is popped instead so the limit does not
	// self-perpetuate, matching spec §4.2.
	NoBlockDelay *bool

	// NoHitOnExceptions lists sentinel errors (matched with errors.Is)
	// that, when returned by the handler, cause the just-appended hit to
	// be reverted before the error propagates.
	NoHitOnExceptions []error

	// Clock, if set, replaces time.Now for testing.
	Clock func() time.Time
}

// Engine orchestrates the per-request rate-limit decision flow of spec §4.2.
type Engine struct {
	mu         sync.RWMutex
	configured bool
	cfg        EngineConfig
}

// NewEngine constructs an unconfigured Engine. Call Configure before
// Process; this mirrors the original implementation's two-phase
// "construct, then configure once at startup" lifecycle.
func NewEngine() *Engine {
	return &Engine{}
}

// Configure establishes the Engine's configuration. It may be called
// exactly once; subsequent calls return ErrAlreadyConfigured.
func (e *Engine) Configure(cfg EngineConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.configured {
		return ErrAlreadyConfigured
	}
	if cfg.Store == nil || cfg.RankingStore == nil || len(cfg.Ranks) == 0 {
		return ErrNotConfigured
	}
	if cfg.ReasonBuilder == nil {
		cfg.ReasonBuilder = DefaultReasonBuilder
	}
	if cfg.DefaultBlockTime <= 0 {
		cfg.DefaultBlockTime = DefaultBlockTime
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NoBlockDelay == nil {
		defaultTrue := true
		cfg.NoBlockDelay = &defaultTrue
	}

	e.cfg = cfg
	e.configured = true
	return nil
}

func (e *Engine) snapshotConfig() (EngineConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.configured {
		return EngineConfig{}, ErrNotConfigured
	}
	return e.cfg, nil
}

// ProcessOptions configures a single call to Process, overriding the
// Engine-wide defaults for that call only - the Go analogue of the
// original implementation's per-site decorator options.
type ProcessOptions struct {
	noBlockDelaySet bool
	noBlockDelay    bool

	noHitOnExceptionsSet bool
	noHitOnExceptions    []error
}

// ProcessOption mutates ProcessOptions.
type ProcessOption func(*ProcessOptions)

// WithNoBlockDelay overrides the Engine-wide NoBlockDelay for one call.
func WithNoBlockDelay(v bool) ProcessOption {
	return func(o *ProcessOptions) {
		o.noBlockDelaySet = true
		o.noBlockDelay = v
	}
}

// WithNoHitOnExceptions overrides the Engine-wide NoHitOnExceptions for one
// call, the per-site override of spec §6's no_hit_on_exceptions option.
func WithNoHitOnExceptions(sentinels ...error) ProcessOption {
	return func(o *ProcessOptions) {
		o.noHitOnExceptionsSet = true
		o.noHitOnExceptions = sentinels
	}
}

// Process runs the full per-request decision flow described in spec §4.2:
// load state, check for a pre-existing block, evaluate the rule bundle,
// persist the outcome, run handler, and apply any intents the handler
// recorded via the bound Context.
func (e *Engine) Process(ctx context.Context, key RequestKey, handler HandlerFunc, opts ...ProcessOption) error {
	cfg, err := e.snapshotConfig()
	if err != nil {
		return err
	}

	noBlockDelay := *cfg.NoBlockDelay
	noHitOnExceptions := cfg.NoHitOnExceptions
	options := ProcessOptions{noBlockDelay: noBlockDelay}
	for _, opt := range opts {
		opt(&options)
	}
	if options.noBlockDelaySet {
		noBlockDelay = options.noBlockDelay
	}
	if options.noHitOnExceptionsSet {
		noHitOnExceptions = options.noHitOnExceptions
	}

	now := cfg.Clock()

	identity, err := e.resolveIdentity(ctx, cfg, key.Identity)
	if err != nil {
		return err
	}

	global, err := cfg.Store.LoadGlobal(ctx, key.Method, key.Path)
	if err != nil {
		return err
	}
	local, err := cfg.Store.LoadLocal(ctx, key.Method, key.Path, identity.UniqueID)
	if err != nil {
		return err
	}

	if local.Blocked(now) {
		rule := local.BlockedByRule
		reason := rule.Reason
		if reason == "" {
			reason = cfg.ReasonBuilder(rule)
		}
		return NewLimitedError(rule, *local.BlockedAt, now, reason, rule.Message, LimitedErrorOptions{})
	}

	bundle := cfg.Ranks.BundleFor(identity.Rank)

	var lastHitBeforeNow time.Time
	if n := len(local.Hits); n > 0 {
		lastHitBeforeNow = local.Hits[n-1]
	}
	local.Hits = append(local.Hits, now)

	result := Evaluate(bundle, global, local, identity.Group, now)

	var pendingErr error

	switch result.Kind {
	case EvalIgnore:
		local.Hits = nil
		switch result.IgnoreScope {
		case ScopeIdentity:
			if result.IgnoreKind == IgnoreByCount {
				decremented := decrement(local.IgnoreTimes)
				local.IgnoreTimes = &decremented
				if err := cfg.Store.SaveLocal(ctx, local, identity); err != nil {
					return err
				}
			}
		case ScopeGlobal:
			if result.IgnoreKind == IgnoreByCount {
				decremented := decrement(global.IgnoreTimes)
				global.IgnoreTimes = &decremented
				if err := cfg.Store.SaveGlobal(ctx, global); err != nil {
					return err
				}
			}
		}

	default:
		local.Hits = trimHits(local.Hits, MaxHits(bundle))

		if result.Kind == EvalExceeded {
			rule := result.Rule

			if rule.IncreaseRank {
				identity.Rank = minInt(identity.Rank+1, len(cfg.Ranks))
				if err := cfg.RankingStore.Save(ctx, identity); err != nil {
					return err
				}
			}

			if rule.Delay != nil && noBlockDelay {
				local.Hits, _ = removeHit(local.Hits, now)
			} else {
				blockedAt := now
				local.BlockedAt = &blockedAt
				local.BlockedByRule = rule
			}
		}

		if err := cfg.Store.SaveLocal(ctx, local, identity); err != nil {
			return err
		}

		if result.Kind == EvalExceeded && result.Rule.Delay != nil {
			rule := result.Rule
			reason := rule.Reason
			if reason == "" {
				reason = cfg.ReasonBuilder(rule)
			}
			pendingErr = NewLimitedError(rule, now, now, reason, rule.Message, LimitedErrorOptions{
				NoBlockDelay: noBlockDelay,
				LastHit:      lastHitBeforeNow,
			})
		}
	}

	if pendingErr != nil {
		return pendingErr
	}

	rc := newRatelimitContext(nil, identity)
	if result.Kind == EvalExceeded {
		rc = newRatelimitContext(result.Rule, identity)
	}

	handlerErr := handler(withRatelimitContext(ctx, rc))

	if handlerErr != nil {
		if matchesNoHitOnExceptions(noHitOnExceptions, handlerErr) {
			if reverted, ok := removeHit(local.Hits, now); ok {
				local.Hits = reverted
				_ = cfg.Store.SaveLocal(ctx, local, identity)
			}
		}
		return handlerErr
	}

	return e.applyIntents(ctx, cfg, rc, key, identity, local, bundle, now)
}

func matchesNoHitOnExceptions(sentinels []error, err error) bool {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// applyIntents implements spec §4.3: ignore intents, then rank intents,
// then the limit intent, in that order.
func (e *Engine) applyIntents(ctx context.Context, cfg EngineConfig, rc *Context, key RequestKey, identity Identity, local *EndpointRecord, bundle []*Rule, now time.Time) error {
	ignore, rank, limit := rc.snapshot()

	if ignore != nil {
		switch ignore.level {
		case levelGlobal:
			global, err := cfg.Store.LoadGlobal(ctx, key.Method, key.Path)
			if err != nil {
				return err
			}
			global.IgnoreTimes = ignore.times
			if ignore.seconds != nil {
				until := now.Add(*ignore.seconds)
				global.IgnoreUntil = &until
			}
			if err := cfg.Store.SaveGlobal(ctx, global); err != nil {
				return err
			}
			if ignore.countThis {
				if reverted, ok := removeHit(local.Hits, now); ok {
					local.Hits = reverted
					if err := cfg.Store.SaveLocal(ctx, local, identity); err != nil {
						return err
					}
				}
			}

		case levelIdentity:
			local.IgnoreTimes = ignore.times
			if ignore.seconds != nil {
				until := now.Add(*ignore.seconds)
				local.IgnoreUntil = &until
			}
			if ignore.countThis {
				local.Hits, _ = removeHit(local.Hits, now)
			}
			if err := cfg.Store.SaveLocal(ctx, local, identity); err != nil {
				return err
			}
		}
	}

	if rank != nil {
		if rank.reset {
			identity.Rank = 0
		} else if rank.increaseBy != nil {
			identity.Rank = maxInt(identity.Rank+*rank.increaseBy, 0)
		}
		if err := cfg.RankingStore.Save(ctx, identity); err != nil {
			return err
		}
	}

	if limit != nil {
		blockTime := cfg.DefaultBlockTime
		if limit.forSeconds != nil {
			blockTime = *limit.forSeconds
		} else if len(bundle) > 0 {
			blockTime = bundle[0].BlockTime
		}

		hits := 1
		batchTime := time.Second
		synthetic := MustNewRule(Rule{
			Hits:      &hits,
			BatchTime: &batchTime,
			BlockTime: blockTime,
			Reason:    limit.reason,
			Message:   limit.message,
		})

		local.BlockedAt = &now
		local.BlockedByRule = synthetic
		if err := cfg.Store.SaveLocal(ctx, local, identity); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) resolveIdentity(ctx context.Context, cfg EngineConfig, candidate Identity) (Identity, error) {
	stored, err := cfg.RankingStore.Load(ctx, candidate.UniqueID)
	if err != nil {
		return Identity{}, err
	}
	if stored != nil {
		return *stored, nil
	}
	return candidate, nil
}

func decrement(v *int) int {
	if v == nil {
		return -1
	}
	return *v - 1
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
