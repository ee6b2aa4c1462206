package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/metrics"
	"github.com/govdecisions/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetEnrichment caches an enrichment result under the decision content hash.
func (c *Client) SetEnrichment(ctx context.Context, contentHash string, enrichment interface{}, ttl time.Duration) error {
	data, err := json.Marshal(enrichment)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("enrichment:%s", contentHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set enrichment cache: %w", err)
	}

	logger.Debug("Enrichment cached", zap.String("content_hash", contentHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetEnrichment(ctx context.Context, contentHash string, enrichment interface{}) (bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("enrichment:%s", contentHash)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("enrichment").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get enrichment cache: %w", err)
	}

	err = json.Unmarshal(data, enrichment)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal enrichment: %w", err)
	}

	metrics.CacheHits.WithLabelValues("enrichment").Inc()
	logger.Debug("Enrichment cache hit", zap.String("content_hash", contentHash))
	return true, nil
}

func (c *Client) SetSearch(ctx context.Context, queryHash string, response interface{}, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("search:%s", queryHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set search cache: %w", err)
	}

	logger.Debug("Search response cached", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetSearch(ctx context.Context, queryHash string, response interface{}) (bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("search:%s", queryHash)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("search").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get search cache: %w", err)
	}

	err = json.Unmarshal(data, response)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	metrics.CacheHits.WithLabelValues("search").Inc()
	logger.Debug("Search cache hit", zap.String("query_hash", queryHash))
	return true, nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	metrics.CacheHits.WithLabelValues("embedding").Inc()
	logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

// InvalidateSearchCache drops cached search responses, used after a sync run
// lands new decisions.
func (c *Client) InvalidateSearchCache(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "search:*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Search cache invalidated")
	return nil
}

// SaveCheckpoint stores migration progress without expiry.
func (c *Client) SaveCheckpoint(ctx context.Context, key string, data []byte) error {
	err := c.client.Set(ctx, fmt.Sprintf("checkpoint:%s", key), data, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (c *Client) LoadCheckpoint(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("checkpoint:%s", key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return data, true, nil
}

func (c *Client) ClearCheckpoint(ctx context.Context, key string) error {
	err := c.client.Del(ctx, fmt.Sprintf("checkpoint:%s", key)).Err()
	if err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
