package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vanishmail/backend/internal/config"
)

// Cache 基于 Redis 的会话缓存与限流计数器。
//
// 会话校验位于每个请求的关键路径上，缓存命中时可以
// 跳过数据库查询；缓存只是加速层，未命中不代表会话不存在。
type Cache struct {
	rdb *goredis.Client
	log *zap.Logger
}

// NewCache 创建 Redis 缓存实例。
func NewCache(cfg *config.RedisConfig, log *zap.Logger) (*Cache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &Cache{rdb: rdb, log: log}, nil
}

// MarkSessionLive 记录会话存活标记。
func (c *Cache) MarkSessionLive(ctx context.Context, sessionID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, sessionKey(sessionID), "1", ttl).Err()
}

// IsSessionLive 检查会话存活标记是否存在。
func (c *Cache) IsSessionLive(ctx context.Context, sessionID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrementRateLimit 自增限流计数器并返回窗口内的计数。
func (c *Cache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	full := fmt.Sprintf("ratelimit:%s", key)
	count, err := c.rdb.Incr(ctx, full).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, full, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Ping 测试 Redis 连接。
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接。
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
