package db

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"prepos/internal/config"
	"prepos/internal/logging"
)

const redisHealthInterval = 30 * time.Second

// RedisClient wraps the go-redis client with a background health check
type RedisClient struct {
	client     redis.UniversalClient
	isSentinel bool
	logger     *zap.Logger
	stop       chan struct{}
}

// NewRedisClient connects to Redis through Sentinel or a plain URL
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, l *zap.Logger) (*RedisClient, error) {
	rc := &RedisClient{
		logger: logging.Named(l, "redis"),
		stop:   make(chan struct{}),
	}

	if len(cfg.SentinelAddrs) > 0 && cfg.SentinelMaster != "" {
		rc.client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			PoolSize:      cfg.PoolSize,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
		})
		rc.isSentinel = true
	} else {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		rc.client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.client.Ping(pingCtx).Err(); err != nil {
		_ = rc.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	go rc.runHealthCheck()

	rc.logger.Info("redis client connected", zap.Bool("sentinel", rc.isSentinel))
	return rc, nil
}

func (rc *RedisClient) runHealthCheck() {
	ticker := time.NewTicker(redisHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := rc.client.Ping(ctx).Err(); err != nil {
				rc.logger.Warn("redis health check failed", zap.Error(err))
			}
			cancel()
		case <-rc.stop:
			return
		}
	}
}

// Ping tests the Redis connection
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Health returns connection status and pool statistics
func (rc *RedisClient) Health(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"connected": false,
		"type":      "standard",
	}
	if rc.isSentinel {
		status["type"] = "sentinel"
	}

	start := time.Now()
	if err := rc.client.Ping(ctx).Err(); err != nil {
		status["error"] = err.Error()
		return status
	}
	status["connected"] = true
	status["latency"] = time.Since(start).String()

	stats := rc.client.PoolStats()
	status["pool"] = map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
	}
	return status
}

// Close stops the health check and closes the connection
func (rc *RedisClient) Close() error {
	close(rc.stop)
	return rc.client.Close()
}

// Get returns the value at key, or redis.Nil when it is missing
func (rc *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return rc.client.Get(ctx, key).Result()
}

// Set stores a value with a TTL
func (rc *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return rc.client.Set(ctx, key, value, ttl).Err()
}
