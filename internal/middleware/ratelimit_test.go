package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) IncrementRateLimit(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func newRateLimitedRouter(counter RateLimitCounter, limit int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(counter, limit, time.Minute, zap.NewNop()))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return router
}

func TestRateLimit(t *testing.T) {
	do := func(router *gin.Engine) int {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		return w.Code
	}

	t.Run("超过窗口上限返回429", func(t *testing.T) {
		router := newRateLimitedRouter(&fakeCounter{}, 2)

		assert.Equal(t, http.StatusOK, do(router))
		assert.Equal(t, http.StatusOK, do(router))
		assert.Equal(t, http.StatusTooManyRequests, do(router))
	})

	t.Run("无计数器时放行", func(t *testing.T) {
		router := newRateLimitedRouter(nil, 2)

		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, do(router))
		}
	})

	t.Run("计数器故障时放行", func(t *testing.T) {
		router := newRateLimitedRouter(&fakeCounter{err: errors.New("redis down")}, 1)

		assert.Equal(t, http.StatusOK, do(router))
		assert.Equal(t, http.StatusOK, do(router))
	})
}
