package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuyugama/ratelimit-go/internal/api"
	"github.com/kuyugama/ratelimit-go/internal/config"
	"github.com/kuyugama/ratelimit-go/internal/metrics"
	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
	"github.com/kuyugama/ratelimit-go/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Configuration
		fx.Provide(config.NewConfig),

		// Logging
		fx.Provide(NewLogger),

		// Rank policy + wired storage/audit/metrics/engine
		fx.Provide(NewRanks),
		fx.Provide(services.NewServiceContainer),

		// API
		fx.Provide(NewGinEngine),
		fx.Provide(NewHealthHandler),
		fx.Provide(NewAdminHandler),

		// HTTP Server
		fx.Provide(NewHTTPServer),

		// Lifecycle
		fx.Invoke(RegisterRoutes),
		fx.Invoke(StartServer),
	)

	app.Run()
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if !cfg.Logging.Development {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// NewRanks defines the rank ladder the engine evaluates every request
// against: rank 0 (default, lenient) promotes to rank 1 (tight) when its
// hits-based rule fires, matching the demo policy from the multi-rank
// example wiring.
func NewRanks() ratelimit.RankSet {
	lenientHits := 10
	lenientBatch := 10 * time.Second
	tightHits := 3
	tightBatch := 10 * time.Second

	return ratelimit.RankSet{
		{
			ratelimit.MustNewRule(ratelimit.Rule{
				Hits:         &lenientHits,
				BatchTime:    &lenientBatch,
				BlockTime:    30 * time.Second,
				IncreaseRank: true,
			}),
		},
		{
			ratelimit.MustNewRule(ratelimit.Rule{
				Hits:      &tightHits,
				BatchTime: &tightBatch,
				BlockTime: 2 * time.Minute,
			}),
		},
	}
}

// NewHealthHandler and NewAdminHandler unpack the fields the handlers need
// from the service container, since fx wires handlers by concrete type
// rather than the container as a whole.
func NewHealthHandler(container *services.ServiceContainer, logger *zap.Logger) *api.HealthHandler {
	return api.NewHealthHandler(container.EndpointStore, container.AuditRepo, logger)
}

func NewAdminHandler(container *services.ServiceContainer, ranks ratelimit.RankSet, logger *zap.Logger) *api.AdminHandler {
	return api.NewAdminHandler(container.AuditRepo, container.RankingStore, ranks, logger)
}

func NewGinEngine(cfg *config.Config) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	engine.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	return engine
}

func NewHTTPServer(cfg *config.Config, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

// byIPAuthenticate resolves the caller identity from the remote address.
// It's the demo stand-in for the AuthenticateFn an application supplies
// once it has real session/API-key plumbing.
func byIPAuthenticate(c *gin.Context) (ratelimit.Identity, error) {
	return ratelimit.Identity{
		UniqueID: c.ClientIP(),
		Group:    "default",
	}, nil
}

func RegisterRoutes(
	engine *gin.Engine,
	container *services.ServiceContainer,
	healthHandler *api.HealthHandler,
	adminHandler *api.AdminHandler,
	cfg *config.Config,
	logger *zap.Logger,
) {
	engine.GET("/health", healthHandler.Health)
	engine.GET("/health/ready", healthHandler.Ready)
	engine.GET("/health/live", healthHandler.Live)

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := engine.Group("/api/v1/ratelimit")
	{
		v1.GET("/analytics/:group", adminHandler.GetAnalytics)
		v1.GET("/stats/:group", adminHandler.GetStats)
		v1.GET("/decisions", adminHandler.ListDecisions)
		v1.GET("/decisions/:id", adminHandler.GetDecision)
	}

	limiter := api.RateLimitMiddleware(container.Engine, byIPAuthenticate, logger,
		api.WithUseRawPath(cfg.RateLimit.UseRawPath),
		api.WithRecorder(container.Recorder),
		api.WithMetrics(container.Metrics))

	// "/" is the simple hits-only demo: admitted until the rank's hit
	// budget is exhausted, then blocked for the bundle's BlockTime.
	engine.GET("/", limiter, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	// "/hello" demonstrates the per-site no_hit_on_exceptions override and
	// an application-raised error: a malformed request (missing "name")
	// is rejected via api.AbortError without being mistaken for a
	// rate-limit block, and since 400 is listed here it doesn't consume
	// the caller's hit budget either.
	helloLimiter := api.RateLimitMiddleware(container.Engine, byIPAuthenticate, logger,
		api.WithUseRawPath(cfg.RateLimit.UseRawPath),
		api.WithNoHitOnExceptions(http.StatusBadRequest),
		api.WithRecorder(container.Recorder),
		api.WithMetrics(container.Metrics))

	engine.GET("/hello", helloLimiter, func(c *gin.Context) {
		name := c.Query("name")
		if name == "" {
			c.Error(&api.AbortError{Status: http.StatusBadRequest, Message: "name is required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "hello " + name})
	})
}

func StartServer(
	lc fx.Lifecycle,
	server *http.Server,
	container *services.ServiceContainer,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting rate limit service", zap.String("addr", server.Addr))

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("failed to start server", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down rate limit service")

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := container.Close(); err != nil {
				logger.Error("error closing service container", zap.Error(err))
			}

			return server.Shutdown(shutdownCtx)
		},
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("received shutdown signal")
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()
}
