package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/ratelimit"
)

const rankingPrefix = "rl:id:"

// RankingKeyFunc builds the Redis key an Identity is stored under.
type RankingKeyFunc func(uniqueID string) string

func defaultRankingKeyFunc(uniqueID string) string {
	return rankingPrefix + uniqueID
}

// RankingStore is a Redis-backed ratelimit.RankingStore.
type RankingStore struct {
	client  *redis.Client
	logger  *zap.Logger
	ttl     time.Duration
	keyFunc RankingKeyFunc
}

// RankingStoreOption configures a RankingStore.
type RankingStoreOption func(*RankingStore)

// WithRankingKeyFunc overrides the identity key derivation.
func WithRankingKeyFunc(fn RankingKeyFunc) RankingStoreOption {
	return func(s *RankingStore) { s.keyFunc = fn }
}

// NewRankingStore constructs a RankingStore. ttl corresponds to spec §6's
// user_ttl option.
func NewRankingStore(client *redis.Client, logger *zap.Logger, ttl time.Duration, opts ...RankingStoreOption) *RankingStore {
	s := &RankingStore{
		client:  client,
		logger:  logger,
		ttl:     ttl,
		keyFunc: defaultRankingKeyFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load implements ratelimit.RankingStore.
func (s *RankingStore) Load(ctx context.Context, uniqueID string) (*ratelimit.Identity, error) {
	key := s.keyFunc(uniqueID)
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			s.logger.Debug("identity cache miss", zap.String("key", key))
			return nil, nil
		}
		s.logger.Error("failed to load identity", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}

	var identity ratelimit.Identity
	if err := json.Unmarshal([]byte(data), &identity); err != nil {
		s.logger.Error("failed to unmarshal identity", zap.Error(err), zap.String("key", key))
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	return &identity, nil
}

// Save implements ratelimit.RankingStore.
func (s *RankingStore) Save(ctx context.Context, identity ratelimit.Identity) error {
	key := s.keyFunc(identity.UniqueID)
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Error("failed to save identity", zap.Error(err), zap.String("key", key))
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// SnapshotGroup loads every stored identity belonging to group, for the
// admin rank-distribution report. It scans the key space rather than
// maintaining a secondary index, matching the teacher's InvalidateUserCache
// pattern of a best-effort Keys() sweep.
func (s *RankingStore) SnapshotGroup(ctx context.Context, group string) ([]ratelimit.Identity, error) {
	keys, err := s.client.Keys(ctx, rankingPrefix+"*").Result()
	if err != nil {
		s.logger.Error("failed to list identity keys", zap.Error(err))
		return nil, fmt.Errorf("failed to list identity keys: %w", err)
	}

	identities := make([]ratelimit.Identity, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			s.logger.Error("failed to load identity during snapshot", zap.Error(err), zap.String("key", key))
			continue
		}

		var identity ratelimit.Identity
		if err := json.Unmarshal([]byte(data), &identity); err != nil {
			s.logger.Error("failed to unmarshal identity during snapshot", zap.Error(err), zap.String("key", key))
			continue
		}
		if identity.Group == group {
			identities = append(identities, identity)
		}
	}

	return identities, nil
}
