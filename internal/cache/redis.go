// Package cache keeps answered queries in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"arbitration-rag/internal/domain"
)

const keyPrefix = "arbitration-rag:answer:"

// Store is the subset of redis.Cmdable the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// AnswerCache stores query results as JSON with a TTL. Redis errors are
// logged and treated as cache misses.
type AnswerCache struct {
	store  Store
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewAnswerCache(store Store, ttl time.Duration, logger *zerolog.Logger) *AnswerCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnswerCache{store: store, ttl: ttl, logger: logger}
}

func (c *AnswerCache) Get(ctx context.Context, key string) (domain.QueryResult, bool) {
	var result domain.QueryResult
	raw, err := c.store.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return result, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("answer cache read failed")
		return result, false
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn().Err(err).Msg("answer cache entry corrupt")
		return result, false
	}
	return result, true
}

func (c *AnswerCache) Set(ctx context.Context, key string, result domain.QueryResult) {
	sources := make([]domain.SearchResult, len(result.Sources))
	for i, s := range result.Sources {
		sources[i] = domain.SearchResult{Chunk: s.Chunk.WithoutEmbedding(), Score: s.Score}
	}
	result.Sources = sources
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn().Err(err).Msg("answer cache encode failed")
		return
	}
	if err := c.store.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("answer cache write failed")
	}
}

// Connect opens a Redis client and pings it, retrying with exponential backoff.
func Connect(ctx context.Context, addr, password string, db, maxRetries int, logger *zerolog.Logger) (*redis.Client, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
	})

	var err error
	for i := range maxRetries {
		if i > 0 {
			backoff := time.Duration(1<<uint(i)) * time.Second
			logger.Info().Dur("backoff", backoff).Msg("Waiting before Redis retry")
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = client.Ping(ctx).Err(); err == nil {
			logger.Info().Str("addr", addr).Int("attempts_needed", i+1).Msg("Redis connected")
			return client, nil
		}
		logger.Warn().Err(err).Int("attempt", i+1).Msg("Redis ping failed")
	}
	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}
