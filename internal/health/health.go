package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"vanishmail/backend/internal/storage"
	redisstore "vanishmail/backend/internal/storage/redis"
)

// Checker 健康检查器
type Checker struct {
	health healthcheck.Handler
	store  storage.Store
	cache  *redisstore.Cache
	logger *zap.Logger
}

// NewChecker 创建健康检查器。cache 可以为 nil。
func NewChecker(store storage.Store, cache *redisstore.Cache, logger *zap.Logger) *Checker {
	c := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
		cache:  cache,
		logger: logger,
	}

	c.addChecks()
	return c
}

func (c *Checker) addChecks() {
	c.health.AddLivenessCheck("store", func() error {
		return c.store.Health()
	})

	if c.cache != nil {
		c.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return c.cache.Ping(ctx)
		})
	}
}

// Handler 返回健康检查处理器
func (c *Checker) Handler() http.Handler {
	return c.health
}
