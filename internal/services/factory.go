package services

import (
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/audit"
	"github.com/kuyugama/ratelimit-go/internal/config"
	"github.com/kuyugama/ratelimit-go/internal/metrics"
	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
	"github.com/kuyugama/ratelimit-go/internal/repository"
	"github.com/kuyugama/ratelimit-go/internal/store/redisstore"
)

// ServiceContainer holds every dependency the rate limit service needs,
// wired once at startup and handed to the fx graph in cmd/main.go.
type ServiceContainer struct {
	Config *config.Config
	Logger *zap.Logger

	RedisClient   *redis.Client
	DB            *pgxpool.Pool
	EndpointStore *redisstore.EndpointStore
	RankingStore  *redisstore.RankingStore
	AuditRepo     *repository.DecisionAuditRepository
	Recorder      *audit.Recorder
	Metrics       *metrics.Collector
	Engine        *ratelimit.Engine
}

// NewServiceContainer builds a fully configured container: it dials Redis
// and Postgres, constructs the stores, the decision audit recorder, the
// metrics collector, and the ratelimit.Engine itself. ranks is supplied by
// the caller (cmd/main.go) since it is application-specific policy, not
// infrastructure.
func NewServiceContainer(cfg *config.Config, ranks ratelimit.RankSet, logger *zap.Logger) (*ServiceContainer, error) {
	container := &ServiceContainer{
		Config: cfg,
		Logger: logger,
	}

	endpointStore, redisClient, err := redisstore.NewEndpointStoreFromConfig(cfg.Redis, cfg.RateLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis endpoint store: %w", err)
	}
	container.EndpointStore = endpointStore
	container.RedisClient = redisClient
	container.RankingStore = redisstore.NewRankingStore(redisClient, logger, cfg.RateLimit.UserTTL)

	db, err := repository.NewPostgresDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	container.DB = db
	container.AuditRepo = repository.NewDecisionAuditRepository(db, logger)
	container.Recorder = audit.NewRecorder(container.AuditRepo, logger)

	container.Metrics = metrics.NewCollector(&cfg.Metrics, logger)

	noBlockDelay := cfg.RateLimit.NoBlockDelay
	engine := ratelimit.NewEngine()
	if err := engine.Configure(ratelimit.EngineConfig{
		Ranks:             ranks,
		Store:             container.EndpointStore,
		RankingStore:      container.RankingStore,
		DefaultBlockTime:  cfg.RateLimit.DefaultBlockTime,
		NoBlockDelay:      &noBlockDelay,
		NoHitOnExceptions: statusCodeExceptions(cfg.RateLimit.NoHitOnExceptions, logger),
	}); err != nil {
		return nil, fmt.Errorf("failed to configure rate limit engine: %w", err)
	}
	container.Engine = engine

	logger.Info("service container initialized successfully",
		zap.Int("ranks", len(ranks)),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled))

	return container, nil
}

// statusCodeExceptions converts the configured no_hit_on_exceptions status
// codes into Engine sentinels. A malformed entry is logged and skipped
// rather than failing startup.
func statusCodeExceptions(codes []string, logger *zap.Logger) []error {
	exceptions := make([]error, 0, len(codes))
	for _, raw := range codes {
		code, err := strconv.Atoi(raw)
		if err != nil {
			logger.Warn("ignoring invalid no_hit_on_exceptions status code", zap.String("value", raw), zap.Error(err))
			continue
		}
		exceptions = append(exceptions, &ratelimit.StatusCodeException{Code: code})
	}
	return exceptions
}

// Close gracefully shuts down every live connection held by the container.
func (c *ServiceContainer) Close() error {
	var errs []error

	if c.Recorder != nil {
		if err := c.Recorder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.DB != nil {
		c.DB.Close()
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}

	c.Logger.Info("service container closed successfully")
	return nil
}
