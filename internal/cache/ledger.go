// Package cache is a Redis-backed ledger of processed files. Batch runs
// consult it, keyed by content hash, to skip inputs an earlier run
// already handled.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Config contains ledger configuration.
type Config struct {
	RedisURL  string
	KeyPrefix string
	TTL       time.Duration
}

// ProcessedLedger remembers processed inputs in Redis.
type ProcessedLedger struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
}

// NewProcessedLedger connects to Redis and verifies the connection.
func NewProcessedLedger(config *Config, logger *zap.Logger) (*ProcessedLedger, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("processed-file ledger initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("ttl", config.TTL))

	return &ProcessedLedger{client: client, config: config, logger: logger}, nil
}

// Seen reports whether the content key was marked by an earlier run.
func (l *ProcessedLedger) Seen(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.config.KeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return n > 0, nil
}

// Mark records the outcome for a content key with the configured TTL.
func (l *ProcessedLedger) Mark(ctx context.Context, key, outcome string) error {
	if err := l.client.Set(ctx, l.config.KeyPrefix+key, outcome, l.config.TTL).Err(); err != nil {
		return fmt.Errorf("ledger update: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (l *ProcessedLedger) Close() error {
	return l.client.Close()
}

// maskRedisURL hides credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if at := strings.LastIndex(url, "@"); at >= 0 {
		if scheme := strings.Index(url, "://"); scheme >= 0 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
