package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/audit"
	"github.com/kuyugama/ratelimit-go/internal/metrics"
	"github.com/kuyugama/ratelimit-go/internal/models"
	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
)

// AuthenticateFn resolves the caller identity for an incoming request. It is
// the gin-bound counterpart of spec's AuthenticateFn(request) -> Identity
// hook; applications supply one per mounted route.
type AuthenticateFn func(c *gin.Context) (ratelimit.Identity, error)

// AbortError lets an application handler reject a request with a specific
// status code without it being mistaken for a server error. It implements
// ratelimit.HTTPError, so it can be named in NoHitOnExceptions to exempt,
// say, validation failures from counting as a hit.
type AbortError struct {
	Status  int
	Message string
}

func (e *AbortError) Error() string   { return e.Message }
func (e *AbortError) StatusCode() int { return e.Status }

// Is lets errors.Is match this error against a ratelimit.StatusCodeException
// carrying the same status code, so NoHitOnExceptions can be configured as
// plain status codes (see internal/services.statusCodeExceptions) without
// the application needing to name AbortError directly.
func (e *AbortError) Is(target error) bool {
	var sc *ratelimit.StatusCodeException
	if errors.As(target, &sc) {
		return sc.Code == e.Status
	}
	return false
}

// MiddlewareOptions configures RateLimitMiddleware.
type MiddlewareOptions struct {
	UseRawPath     bool
	ProcessOptions []ratelimit.ProcessOption
	Recorder       *audit.Recorder
	Metrics        *metrics.Collector
}

// MiddlewareOption configures a MiddlewareOptions.
type MiddlewareOption func(*MiddlewareOptions)

// WithUseRawPath keys decisions on the matched route template
// (c.FullPath()) instead of the concrete request path, so
// "/users/1" and "/users/2" share one EndpointRecord.
func WithUseRawPath(v bool) MiddlewareOption {
	return func(o *MiddlewareOptions) { o.UseRawPath = v }
}

// WithProcessOptions forwards ratelimit.ProcessOption overrides (e.g.
// per-route NoBlockDelay) to every call to Engine.Process.
func WithProcessOptions(opts ...ratelimit.ProcessOption) MiddlewareOption {
	return func(o *MiddlewareOptions) { o.ProcessOptions = opts }
}

// WithRecorder attaches a decision audit recorder.
func WithRecorder(r *audit.Recorder) MiddlewareOption {
	return func(o *MiddlewareOptions) { o.Recorder = r }
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *metrics.Collector) MiddlewareOption {
	return func(o *MiddlewareOptions) { o.Metrics = m }
}

// WithNoHitOnExceptions overrides the engine-wide no_hit_on_exceptions status
// codes for this route only, per spec §6/SPEC_FULL's per-site override.
func WithNoHitOnExceptions(statusCodes ...int) MiddlewareOption {
	exceptions := make([]error, len(statusCodes))
	for i, code := range statusCodes {
		exceptions[i] = &ratelimit.StatusCodeException{Code: code}
	}
	return func(o *MiddlewareOptions) {
		o.ProcessOptions = append(o.ProcessOptions, ratelimit.WithNoHitOnExceptions(exceptions...))
	}
}

// RateLimitMiddleware builds a gin.HandlerFunc that runs every request
// through engine, resolving the caller identity via authenticate and
// rendering a LimitedError as the wire response of spec §6.
func RateLimitMiddleware(engine *ratelimit.Engine, authenticate AuthenticateFn, logger *zap.Logger, opts ...MiddlewareOption) gin.HandlerFunc {
	options := MiddlewareOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return func(c *gin.Context) {
		identity, err := authenticate(c)
		if err != nil {
			logger.Warn("rate limit authentication failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		path := c.Request.URL.Path
		if options.UseRawPath {
			if full := c.FullPath(); full != "" {
				path = full
			}
		}

		key := ratelimit.RequestKey{
			Method:   c.Request.Method,
			Path:     path,
			Identity: identity,
		}

		err = engine.Process(c.Request.Context(), key, func(ctx context.Context) error {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			if len(c.Errors) > 0 {
				return c.Errors.Last().Err
			}
			return nil
		}, options.ProcessOptions...)

		if err == nil {
			if options.Recorder != nil {
				options.Recorder.RecordAdmitted(key.Method, key.Path, identity.UniqueID, identity.Group, identity.Rank)
			}
			if options.Metrics != nil {
				options.Metrics.RecordDecision("admitted", key.Path, 0)
			}
			return
		}

		var limited *ratelimit.LimitedError
		if errors.As(err, &limited) {
			outcome := models.OutcomeBlocked
			if limited.ErrorType == ratelimit.ErrorTypeDelayExceeded {
				outcome = models.OutcomeDelayed
			}
			if options.Recorder != nil {
				options.Recorder.RecordLimited(outcome, key.Method, key.Path, identity.UniqueID, identity.Group, identity.Rank,
					limited.Reason, time.Duration(limited.LimitedFor)*time.Second)
			}
			if options.Metrics != nil {
				options.Metrics.RecordDecision(string(outcome), key.Path, 0)
			}

			errorBody := gin.H{
				"reason":      limited.Reason,
				"message":     limited.Message,
				"limited_for": limited.LimitedFor,
				"error_type":  limited.ErrorType,
			}
			if limited.DelaySeconds != nil {
				errorBody["delay"] = *limited.DelaySeconds
			} else {
				errorBody["hits"] = limited.Hits
			}

			c.Header("Retry-After", strconv.Itoa(limited.LimitedFor))
			c.AbortWithStatusJSON(limited.StatusCode(), gin.H{
				"detail": gin.H{"error": errorBody},
			})
			return
		}

		var httpErr ratelimit.HTTPError
		if errors.As(err, &httpErr) {
			c.AbortWithStatusJSON(httpErr.StatusCode(), gin.H{"error": httpErr.Error()})
			return
		}

		logger.Error("rate limit engine error", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
