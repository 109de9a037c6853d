package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ssebridge/internal/broker"
	"ssebridge/internal/config"
	"ssebridge/internal/database"
	"ssebridge/internal/logging"
	"ssebridge/internal/sse"
	"ssebridge/internal/stats"
)

// loadConfig 加载并校验配置，命令行参数优先于环境变量
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger 根据配置创建日志器，命令行工具的日志写到标准错误
func newLogger(cfg *config.Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	if out == nil {
		out = os.Stderr
	}
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Output: out,
	})
}

func redisConfig(cfg *config.Config) *broker.Config {
	return &broker.Config{
		URL:         cfg.Redis.URL,
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PollTimeout: cfg.SSE.PollTimeout,
	}
}

func storeConfig(cfg *config.Config) *stats.StoreConfig {
	return &stats.StoreConfig{
		KeyPrefix:     cfg.Stats.KeyPrefix,
		TTL:           cfg.Stats.TTL,
		MaxRecords:    cfg.Stats.MaxRecords,
		SwitchDefault: cfg.Stats.SwitchDefault,
	}
}

// statsBackend 打开的统计存储及其资源
type statsBackend struct {
	store sse.StatsStore
	gorm  *stats.GormStore // 仅 sqlite 后端
	close func() error
}

// openStatsStore 按配置打开统计存储
func openStatsStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (*statsBackend, error) {
	switch cfg.Stats.Backend {
	case config.StatsBackendSQLite:
		db, err := database.InitializeWithOptions(ctx, database.Options{
			Path:       cfg.Database.Path,
			UsePureGo:  cfg.Database.UsePureGo,
			GormLogger: logging.NewGormLogger(logger, logging.GormLevel(logger.GetLevel())),
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		store := stats.NewGormStore(db, storeConfig(cfg))
		return &statsBackend{
			store: store,
			gorm:  store,
			close: func() error { return database.Close(db) },
		}, nil
	default:
		return &statsBackend{
			store: stats.NewRedisStore(rdb, storeConfig(cfg)),
			close: func() error { return nil },
		}, nil
	}
}

// components 桥接器及其依赖，命令结束时调用 close
type components struct {
	cfg      *config.Config
	log      zerolog.Logger
	rdb      *redis.Client
	broker   *broker.RedisBroker
	stats    *statsBackend
	registry *sse.ConnectionRegistry
	bridge   *sse.PubSubBridge
	closers  []func() error
}

// buildComponents 按依赖顺序创建 Redis 客户端、统计存储、broker、注册表与桥接器
func buildComponents(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*components, error) {
	c := &components{cfg: cfg, log: logger}

	rdb, err := broker.NewRedisClient(ctx, redisConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	c.rdb = rdb
	c.closers = append(c.closers, rdb.Close)

	backend, err := openStatsStore(ctx, cfg, rdb, logger)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("opening stats store: %w", err)
	}
	c.stats = backend
	c.closers = append(c.closers, backend.close)

	c.broker = broker.NewRedisBroker(ctx, rdb, cfg.SSE.PollTimeout, logger)
	c.closers = append(c.closers, c.broker.Close)

	c.registry = sse.NewConnectionRegistry(cfg.Server.NodeID, &sse.RegistryConfig{
		MaxConnections:           cfg.SSE.MaxConnections,
		MaxConnectionsPerChannel: cfg.SSE.MaxConnectionsPerChannel,
		BufferSize:               cfg.SSE.BufferSize,
	}, logger)

	c.bridge = sse.NewPubSubBridge(c.broker, c.registry, backend.store, &sse.BridgeConfig{
		ListenInterval:    cfg.SSE.ListenInterval,
		HeartbeatInterval: cfg.SSE.HeartbeatInterval,
		MessageRetry:      cfg.SSE.MessageRetry,
	}, logger)

	return c, nil
}

// close 逆序释放资源
func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.log.Warn().Err(err).Msg("failed to release resource")
		}
	}
	c.closers = nil
}
