package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vanishmail/backend/internal/config"
	"vanishmail/backend/internal/middleware"
	"vanishmail/backend/internal/monitoring"
	"vanishmail/backend/internal/service"
	"vanishmail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	SessionService *service.SessionService
	MailboxService *service.MailboxService
	MessageService *service.MessageService
	IngestService  *service.IngestService
	WebSocketHub   *websocket.Hub
	Metrics        *monitoring.Metrics
	HealthHandler  http.Handler
	RateLimiter    middleware.RateLimitCounter
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// API 请求体不会很大，1MB 足够
	router.Use(middleware.RequestSizeLimit(1 << 20))

	// 每 IP 限流，未启用 Redis 时 RateLimiter 为 nil，直接放行
	router.Use(middleware.RateLimit(deps.RateLimiter,
		int64(deps.Config.Server.RateLimitPerMin), time.Minute, deps.Logger))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 允许所有来源时不能同时允许凭证
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	mailboxHandler := NewMailboxHandler(deps.MailboxService, deps.Metrics, deps.Logger)
	messageHandler := NewMessageHandler(deps.MessageService, deps.Metrics, deps.Logger)

	// 会话 Cookie 只能在 HTTPS 下标记 Secure，开发模式放开
	secureCookie := !deps.Config.Log.Development
	sessionAuth := middleware.SessionAuth(deps.SessionService, secureCookie, deps.Logger)

	// 运维端点，不经过会话中间件
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	if deps.HealthHandler != nil {
		router.GET("/live", gin.WrapH(deps.HealthHandler))
		router.GET("/ready", gin.WrapH(deps.HealthHandler))
	}

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// 所有业务端点都绑定匿名会话
		authed := api.Group("")
		authed.Use(sessionAuth)
		{
			authed.GET("/mailbox", mailboxHandler.getOrCreate)
			authed.POST("/mailbox", mailboxHandler.create)
			authed.GET("/mailbox/:id/messages", messageHandler.list)

			authed.GET("/messages/:id", messageHandler.get)
			authed.DELETE("/messages/:id", messageHandler.delete)

			if deps.WebSocketHub != nil {
				authed.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
			}

			if deps.Config.Log.Development && deps.IngestService != nil {
				testHandler := NewTestHandler(deps.MailboxService, deps.IngestService, deps.Logger)
				authed.POST("/test/email", testHandler.sendTestEmail)
			}
		}
	}

	return router
}
