package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

// RemoteStore is the optional second cache tier. Artifact references survive
// process restarts when one is configured.
type RemoteStore interface {
	Get(ctx context.Context, key string) (types.ArtifactValue, bool, error)
	Set(ctx context.Context, key string, val types.ArtifactValue, ttl time.Duration) error
}

type redisStore struct {
	log    *logger.Logger
	client *redis.Client
	prefix string
}

// NewRedisStoreFromEnv returns nil when REDIS_ADDR is unset; the artifact
// cache then runs in-memory only.
func NewRedisStoreFromEnv(log *logger.Logger) RemoteStore {
	addr := utils.GetEnv("REDIS_ADDR", "", log)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: utils.GetEnv("REDIS_PASSWORD", "", log),
		DB:       utils.GetEnvAsInt("REDIS_DB", 0, log),
	})
	return &redisStore{
		log:    log.With("component", "RedisArtifactStore"),
		client: client,
		prefix: utils.GetEnv("REDIS_ARTIFACT_PREFIX", "artifact:", log),
	}
}

func (s *redisStore) Get(ctx context.Context, key string) (types.ArtifactValue, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.ArtifactValue{}, false, nil
		}
		return types.ArtifactValue{}, false, err
	}
	var val types.ArtifactValue
	if err := json.Unmarshal(raw, &val); err != nil {
		return types.ArtifactValue{}, false, err
	}
	return val, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, val types.ArtifactValue, ttl time.Duration) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	// SetNX: an existing fingerprint is never overwritten with new content.
	return s.client.SetNX(ctx, s.prefix+key, raw, ttl).Err()
}
