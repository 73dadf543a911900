package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vanishmail/backend/internal/config"
	"vanishmail/backend/internal/health"
	"vanishmail/backend/internal/logger"
	"vanishmail/backend/internal/monitoring"
	"vanishmail/backend/internal/service"
	"vanishmail/backend/internal/smtp"
	"vanishmail/backend/internal/storage"
	"vanishmail/backend/internal/storage/memory"
	"vanishmail/backend/internal/storage/postgres"
	redisstore "vanishmail/backend/internal/storage/redis"
	httptransport "vanishmail/backend/internal/transport/http"
	"vanishmail/backend/internal/websocket"
)

// main 启动同时包含 HTTP API 与 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting vanishmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.Strings("domains", cfg.Mailbox.Domains),
		zap.Duration("mailbox_ttl", cfg.Mailbox.TTL),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.DSN != "" {
		store, err = postgres.NewStore(&cfg.Database, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize postgres storage: %v", err))
		}
		log.Info("using postgres storage")
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化 Redis 会话缓存（可选）
	var cache *redisstore.Cache
	if cfg.Redis.Address != "" {
		cache, err = redisstore.NewCache(&cfg.Redis, log)
		if err != nil {
			log.Warn("failed to connect redis, continuing without cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
			log.Info("redis session cache enabled", zap.String("address", cfg.Redis.Address))
		}
	}

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, cache, log)

	// 初始化服务层
	sessionService := service.NewSessionService(store, log)
	if cache != nil {
		sessionService.SetCache(cache)
	}
	mailboxService := service.NewMailboxService(store, cfg, log)
	messageService := service.NewMessageService(store, store, log)

	// 创建 WebSocket Hub
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, mailboxService, log)

	ingestService := service.NewIngestService(mailboxService, store, wsHub, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	routerDeps := httptransport.RouterDependencies{
		Config:         cfg,
		SessionService: sessionService,
		MailboxService: mailboxService,
		MessageService: messageService,
		IngestService:  ingestService,
		WebSocketHub:   wsHub,
		Metrics:        metrics,
		HealthHandler:  healthChecker.Handler(),
		Logger:         log,
	}
	// 接口字段不能直接塞可能为 nil 的具体指针
	if cache != nil {
		routerDeps.RateLimiter = cache
	}
	router := httptransport.NewRouter(routerDeps)

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 创建 SMTP 服务器
	connLimiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.MaxConnRate)
	smtpBackend := smtp.NewBackend(ingestService, cfg.Mailbox.Domains, cfg.SMTP.MaxMessageMB, connLimiter, log)
	smtpServer := gosmtp.NewServer(smtpBackend)
	smtpServer.Addr = cfg.SMTP.BindAddr
	smtpServer.Domain = cfg.SMTP.Domain
	smtpServer.ReadTimeout = 10 * time.Second
	smtpServer.WriteTimeout = 10 * time.Second
	smtpServer.MaxMessageBytes = int64(cfg.SMTP.MaxMessageMB) << 20
	smtpServer.MaxRecipients = 50

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 定时清理过期邮箱 goroutine
	group.Go(func() error {
		ticker := time.NewTicker(cfg.Sweep.Interval)
		defer ticker.Stop()

		log.Info("starting expired mailbox sweeper", zap.Duration("interval", cfg.Sweep.Interval))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("sweeper stopped")
				return nil
			case <-ticker.C:
				count, err := mailboxService.SweepExpired(groupCtx)
				if err != nil {
					log.Error("failed to sweep expired mailboxes", zap.Error(err))
				} else if count > 0 {
					metrics.MailboxesSwept.Add(float64(count))
					log.Info("expired mailboxes deactivated", zap.Int("count", count))
				}
			}
		}
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
