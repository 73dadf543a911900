package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host            string // 监听地址，默认 "0.0.0.0"
	Port            int    // 监听端口，默认 8080
	RateLimitPerMin int    // 每 IP 每分钟请求上限，0 表示不限流，仅在启用 Redis 时生效
}

// MailboxConfig 定义邮箱生命周期的核心业务配置
type MailboxConfig struct {
	Domains    []string      // 可接收邮件的域名列表，首个为新邮箱的默认域名
	TTL        time.Duration // 邮箱生存时间，默认 60 分钟
	PurgeAfter time.Duration // 过期多久之后清除邮箱内邮件，0 表示不清除
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr     string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain       string // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxConns     int    // 最大并发连接数
	MaxConnRate  int    // 每秒最大新建连接数
	MaxMessageMB int    // 单封邮件大小上限（MB）
}

// SweepConfig 定义过期清理任务的配置
type SweepConfig struct {
	Interval time.Duration // 清理任务执行间隔，默认 1 分钟
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义 PostgreSQL 连接配置
type DatabaseConfig struct {
	DSN             string        // 连接字符串，留空时使用内存存储
	MaxConns        int           // 连接池最大连接数，默认 25
	MinConns        int           // 连接池最小连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，留空表示不启用缓存
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
//
// 所有凭据只能来自环境变量或 .env 文件，代码中不存在
// 任何回落凭据或默认密钥。
type Config struct {
	Server   ServerConfig
	Mailbox  MailboxConfig
	SMTP     SMTPConfig
	Sweep    SweepConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: VANISHMAIL_
// 例如: VANISHMAIL_MAILBOX_DOMAINS, VANISHMAIL_DATABASE_DSN
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("vanishmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.rate_limit_per_min", 300)
	viper.SetDefault("mailbox.domains", "vanish.mail")
	viper.SetDefault("mailbox.ttl", "60m")
	viper.SetDefault("mailbox.purge_after", "24h")
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "vanish.mail")
	viper.SetDefault("smtp.max_conns", 100)
	viper.SetDefault("smtp.max_conn_rate", 20)
	viper.SetDefault("smtp.max_message_mb", 10)
	viper.SetDefault("sweep.interval", "1m")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.dsn", "") // 默认为空，使用内存存储
	viper.SetDefault("database.max_conns", 25)
	viper.SetDefault("database.min_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	ttl, err := time.ParseDuration(viper.GetString("mailbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.ttl: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("mailbox.ttl must be positive")
	}

	purgeAfter, err := time.ParseDuration(viper.GetString("mailbox.purge_after"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.purge_after: %w", err)
	}

	domains := parseDomains(viper.GetString("mailbox.domains"))
	if len(domains) == 0 {
		return nil, fmt.Errorf("mailbox.domains must not be empty")
	}

	sweepInterval, err := time.ParseDuration(viper.GetString("sweep.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid sweep.interval: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            viper.GetString("server.host"),
			Port:            viper.GetInt("server.port"),
			RateLimitPerMin: viper.GetInt("server.rate_limit_per_min"),
		},
		Mailbox: MailboxConfig{
			Domains:    domains,
			TTL:        ttl,
			PurgeAfter: purgeAfter,
		},
		SMTP: SMTPConfig{
			BindAddr:     viper.GetString("smtp.bind_addr"),
			Domain:       viper.GetString("smtp.domain"),
			MaxConns:     viper.GetInt("smtp.max_conns"),
			MaxConnRate:  viper.GetInt("smtp.max_conn_rate"),
			MaxMessageMB: viper.GetInt("smtp.max_message_mb"),
		},
		Sweep: SweepConfig{
			Interval: sweepInterval,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			DSN:             viper.GetString("database.dsn"),
			MaxConns:        viper.GetInt("database.max_conns"),
			MinConns:        viper.GetInt("database.min_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从子目录运行的情况）
//
// 如果文件不存在，静默失败（.env 是可选的）；
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
