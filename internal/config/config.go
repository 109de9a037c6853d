// Package config 从环境变量加载服务配置
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 统计存储后端
const (
	StatsBackendRedis  = "redis"
	StatsBackendSQLite = "sqlite"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	SSE      SSEConfig      `json:"sse"`
	Stats    StatsConfig    `json:"stats"`
	Database DatabaseConfig `json:"database"`
	Auth     AuthConfig     `json:"auth"`
	CORS     CORSConfig     `json:"cors"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host   string `json:"host"`
	Port   string `json:"port"`
	Env    string `json:"env"`
	NodeID string `json:"node_id"`
}

// RedisConfig Redis配置，URL 优先
type RedisConfig struct {
	URL      string `json:"url"`
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// SSEConfig SSE桥接配置
type SSEConfig struct {
	ListenInterval           time.Duration `json:"listen_interval"`
	HeartbeatInterval        time.Duration `json:"heartbeat_interval"`
	PollTimeout              time.Duration `json:"poll_timeout"`
	MessageRetry             int           `json:"message_retry"` // 毫秒
	BufferSize               int           `json:"buffer_size"`
	MaxConnections           int           `json:"max_connections"`
	MaxConnectionsPerChannel int           `json:"max_connections_per_channel"`
}

// StatsConfig 统计存储配置
type StatsConfig struct {
	Backend       string        `json:"backend"`
	KeyPrefix     string        `json:"key_prefix"`
	TTL           time.Duration `json:"ttl"`
	MaxRecords    int64         `json:"max_records"`
	SwitchDefault bool          `json:"switch_default"`
}

// DatabaseConfig 数据库配置，仅 sqlite 后端使用
type DatabaseConfig struct {
	Path      string `json:"path"`
	UsePureGo bool   `json:"use_pure_go"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	AdminUsername string        `json:"admin_username"`
	AdminPassword string        `json:"-"`
	JWTSecret     string        `json:"-"`
	JWTExpiry     time.Duration `json:"jwt_expiry"`
}

// CORSConfig CORS配置
type CORSConfig struct {
	Origins []string `json:"origins"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json 或 console
	File   string `json:"file"`   // 为空时只输出到标准输出
}

// Load 加载配置
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:   getEnv("HOST", "0.0.0.0"),
			Port:   getEnv("PORT", "8080"),
			Env:    getEnv("ENV", "development"),
			NodeID: getEnv("NODE_ID", defaultNodeID()),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       parseInt(getEnv("REDIS_DB", "0"), 0),
		},
		SSE: SSEConfig{
			ListenInterval:           parseInterval(getEnv("LISTEN_INTERVAL", "100ms"), 100*time.Millisecond),
			HeartbeatInterval:        parseInterval(getEnv("HEARTBEAT_INTERVAL", "30s"), 30*time.Second),
			PollTimeout:              parseInterval(getEnv("SSE_POLL_TIMEOUT", "10ms"), 10*time.Millisecond),
			MessageRetry:             parseInt(getEnv("MESSAGE_RETRY_TIME", "3000"), 3000),
			BufferSize:               parseInt(getEnv("SSE_BUFFER_SIZE", "64"), 64),
			MaxConnections:           parseInt(getEnv("SSE_MAX_CONNECTIONS", "10000"), 10000),
			MaxConnectionsPerChannel: parseInt(getEnv("SSE_MAX_CONNECTIONS_PER_CHANNEL", "100"), 100),
		},
		Stats: StatsConfig{
			Backend:       strings.ToLower(getEnv("SSE_STATS_BACKEND", StatsBackendRedis)),
			KeyPrefix:     getEnv("SSE_KEY_PREFIX", "ssebridge:"),
			TTL:           parseInterval(getEnv("SSE_STATS_TTL", "168h"), 7*24*time.Hour),
			MaxRecords:    int64(parseInt(getEnv("SSE_STATS_MAX_RECORDS", "10000"), 10000)),
			SwitchDefault: parseBool(getEnv("SSE_SWITCH_DEFAULT", "true"), true),
		},
		Database: DatabaseConfig{
			Path:      getEnv("DB_PATH", "./ssebridge.db"),
			UsePureGo: parseBool(getEnv("DB_PURE_GO", "false"), false),
		},
		Auth: AuthConfig{
			AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
			AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
			JWTSecret:     getEnv("JWT_SECRET", "your-secret-key"),
			JWTExpiry:     parseInterval(getEnv("JWT_EXPIRY", "24h"), 24*time.Hour),
		},
		CORS: CORSConfig{
			Origins: parseStringSlice(getEnv("CORS_ORIGINS", "*")),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
	}
}

// Validate 检查配置的取值范围
func (c *Config) Validate() error {
	if c.SSE.ListenInterval <= 0 {
		return fmt.Errorf("LISTEN_INTERVAL must be positive")
	}
	if c.SSE.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
	}
	if c.SSE.MessageRetry < 0 {
		return fmt.Errorf("MESSAGE_RETRY_TIME must not be negative")
	}
	if c.SSE.BufferSize <= 0 {
		return fmt.Errorf("SSE_BUFFER_SIZE must be positive")
	}
	switch c.Stats.Backend {
	case StatsBackendRedis, StatsBackendSQLite:
	default:
		return fmt.Errorf("unknown SSE_STATS_BACKEND %q", c.Stats.Backend)
	}
	if c.IsProduction() && c.Auth.JWTSecret == "your-secret-key" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

// Address 监听地址
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsDevelopment 是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction 是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Server.Env == "test"
}

// defaultNodeID 主机名加随机后缀
func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseInterval 解析时间间隔，支持 "500ms" 也支持以秒为单位的数字 "0.5"
func parseInterval(s string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if seconds, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}

// parseStringSlice 解析字符串切片
func parseStringSlice(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// parseBool 解析布尔值
func parseBool(s string, defaultValue bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}
	return b
}

// parseInt 解析整数
func parseInt(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
