// Package redisstore implements ratelimit.Store and ratelimit.RankingStore
// on top of Redis, the same way the teacher's cache layer backs lookups
// with go-redis.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/config"
	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
)

const (
	globalPrefix = "rl:g:"
	localPrefix  = "rl:l:"
)

// KeyFunc builds the Redis key for a global EndpointRecord from (method,
// path). Overriding it lets a caller namespace keys per deployment. It sees
// only the path it is given; keying by route template (the use_raw_path
// option) happens in the middleware, before the path reaches the store.
type KeyFunc func(method, path string) string

// LocalKeyFunc builds the Redis key for a per-identity EndpointRecord.
type LocalKeyFunc func(method, path, identityID string) string

func defaultKeyFunc(method, path string) string {
	return fmt.Sprintf("%s%s:%s", globalPrefix, method, path)
}

func defaultLocalKeyFunc(method, path, identityID string) string {
	return fmt.Sprintf("%s%s:%s:%s", localPrefix, method, path, identityID)
}

// EndpointStore is a Redis-backed ratelimit.Store.
type EndpointStore struct {
	client   *redis.Client
	logger   *zap.Logger
	ttl      time.Duration
	localTTL time.Duration
	keyFunc  KeyFunc
	localKey LocalKeyFunc
}

// EndpointStoreOption configures an EndpointStore.
type EndpointStoreOption func(*EndpointStore)

// WithKeyFunc overrides the global-record key derivation.
func WithKeyFunc(fn KeyFunc) EndpointStoreOption {
	return func(s *EndpointStore) { s.keyFunc = fn }
}

// WithLocalKeyFunc overrides the per-identity-record key derivation.
func WithLocalKeyFunc(fn LocalKeyFunc) EndpointStoreOption {
	return func(s *EndpointStore) { s.localKey = fn }
}

// NewEndpointStore constructs an EndpointStore. endpointTTL and userEndpointTTL
// correspond to spec §6's endpoint_ttl and user_endpoint_ttl options.
func NewEndpointStore(client *redis.Client, logger *zap.Logger, endpointTTL, userEndpointTTL time.Duration, opts ...EndpointStoreOption) *EndpointStore {
	s := &EndpointStore{
		client:   client,
		logger:   logger,
		ttl:      endpointTTL,
		localTTL: userEndpointTTL,
		keyFunc:  defaultKeyFunc,
		localKey: defaultLocalKeyFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEndpointStoreFromConfig builds an EndpointStore from RedisConfig and
// the engine-wide TTL options.
func NewEndpointStoreFromConfig(cfg config.RedisConfig, rl config.RateLimitConfig, logger *zap.Logger) (*EndpointStore, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.Int("database", cfg.Database))

	return NewEndpointStore(client, logger, rl.EndpointTTL, rl.UserEndpointTTL), client, nil
}

func (s *EndpointStore) loadRecord(ctx context.Context, key, method, path string) (*ratelimit.EndpointRecord, error) {
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			s.logger.Debug("endpoint record cache miss", zap.String("key", key))
			return ratelimit.NewEndpointRecord(method, path), nil
		}
		s.logger.Error("failed to load endpoint record", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to load endpoint record: %w", err)
	}

	var record ratelimit.EndpointRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		s.logger.Error("failed to unmarshal endpoint record", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to unmarshal endpoint record: %w", err)
	}
	return &record, nil
}

func (s *EndpointStore) saveRecord(ctx context.Context, key string, record *ratelimit.EndpointRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoint record: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Error("failed to save endpoint record", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to save endpoint record: %w", err)
	}
	return nil
}

// LoadGlobal implements ratelimit.Store.
func (s *EndpointStore) LoadGlobal(ctx context.Context, method, path string) (*ratelimit.EndpointRecord, error) {
	return s.loadRecord(ctx, s.keyFunc(method, path), method, path)
}

// SaveGlobal implements ratelimit.Store.
func (s *EndpointStore) SaveGlobal(ctx context.Context, record *ratelimit.EndpointRecord) error {
	return s.saveRecord(ctx, s.keyFunc(record.Method, record.Path), record, s.ttl)
}

// LoadLocal implements ratelimit.Store.
func (s *EndpointStore) LoadLocal(ctx context.Context, method, path, identityID string) (*ratelimit.EndpointRecord, error) {
	return s.loadRecord(ctx, s.localKey(method, path, identityID), method, path)
}

// SaveLocal implements ratelimit.Store.
func (s *EndpointStore) SaveLocal(ctx context.Context, record *ratelimit.EndpointRecord, identity ratelimit.Identity) error {
	return s.saveRecord(ctx, s.localKey(record.Method, record.Path, identity.UniqueID), record, s.localTTL)
}

// Close closes the underlying Redis connection.
func (s *EndpointStore) Close() error {
	return s.client.Close()
}
