package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/mail-sentinel/internal/config"
	"github.com/raaihank/mail-sentinel/internal/logger"
)

// ResultCache caches classifications in Redis, keyed by a hash of the
// cleaned text. Redis failures are logged and treated as misses; the cache
// never fails a request.
type ResultCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *logger.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
}

// New connects to Redis and verifies the connection.
func New(cfg config.CacheConfig, log *logger.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.Timeout > 0 {
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}

	c := &ResultCache{
		client: redis.NewClient(opts),
		config: cfg,
		logger: log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		c.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Result cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return c, nil
}

// Key returns the Redis key for cleaned text.
func (c *ResultCache) Key(cleaned string) string {
	return key(c.config.KeyPrefix, cleaned)
}

func key(prefix, cleaned string) string {
	sum := sha256.Sum256([]byte(cleaned))
	return fmt.Sprintf("%s:cls:%s", prefix, hex.EncodeToString(sum[:])[:16])
}

func (c *ResultCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout > 0 {
		return context.WithTimeout(ctx, c.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// Get looks up a cached classification. A nil cache always misses.
func (c *ResultCache) Get(ctx context.Context, cleaned string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cacheKey := c.Key(cleaned)
	data, err := c.client.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return Entry{}, false
	}
	if err != nil {
		c.failures.Add(1)
		c.logger.Warn("Cache lookup failed", zap.Error(err))
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.failures.Add(1)
		c.logger.Warn("Dropping corrupted cache entry", zap.String("key", cacheKey), zap.Error(err))
		c.client.Del(ctx, cacheKey)
		return Entry{}, false
	}

	c.hits.Add(1)
	c.logger.Debug("Cache hit", zap.String("key", cacheKey), zap.String("category", entry.Category))
	return entry, true
}

// Set stores a classification. Failures are logged and dropped.
func (c *ResultCache) Set(ctx context.Context, cleaned string, entry Entry) {
	if c == nil {
		return
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	entry.CachedAt = time.Now().UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, c.Key(cleaned), data, c.config.DefaultTTL).Err(); err != nil {
		c.failures.Add(1)
		c.logger.Warn("Failed to cache classification", zap.Error(err))
	}
}

// Stats returns hit counters and Redis memory usage.
func (c *ResultCache) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.failures.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return stats, fmt.Errorf("failed to get Redis info: %w", err)
	}
	stats.MemoryUsage = parseUsedMemory(info)

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\r\n") {
		if v, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(v, 10, 64); err == nil {
				return mem
			}
		}
	}
	return 0
}

// Clear removes every key under the configured prefix.
func (c *ResultCache) Clear(ctx context.Context) (int, error) {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+":cls:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := c.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return i, fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	c.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return len(keys), nil
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// maskRedisURL hides the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userinfo := url[:at]
	colon := strings.LastIndex(userinfo, ":")
	if colon < 0 || colon <= strings.Index(userinfo, "://") {
		return url
	}
	return userinfo[:colon+1] + "***" + url[at:]
}
