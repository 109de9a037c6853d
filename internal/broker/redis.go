// Package broker 提供基于 Redis pub/sub 的消息传输
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ssebridge/internal/sse"
)

// Config Redis连接配置
type Config struct {
	URL         string
	Addr        string
	Password    string
	DB          int
	PollTimeout time.Duration
	DialTimeout time.Duration
}

// NewRedisClient 根据配置创建客户端并检查连通性，URL 优先于 Addr
func NewRedisClient(ctx context.Context, cfg *Config) (*redis.Client, error) {
	var opt *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("missing redis address")
		}
		opt = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}

// RedisBroker 实现 sse.Broker，所有订阅共享一个 PubSub 句柄
type RedisBroker struct {
	rdb         *redis.Client
	pubsub      *redis.PubSub
	pollTimeout time.Duration
	closeOnce   sync.Once
	log         zerolog.Logger
}

var _ sse.Broker = (*RedisBroker)(nil)

// NewRedisBroker 创建broker，此时尚未订阅任何频道
func NewRedisBroker(ctx context.Context, rdb *redis.Client, pollTimeout time.Duration, logger zerolog.Logger) *RedisBroker {
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Millisecond
	}
	return &RedisBroker{
		rdb:         rdb,
		pubsub:      rdb.Subscribe(ctx),
		pollTimeout: pollTimeout,
		log:         logger.With().Str("component", "redis_broker").Logger(),
	}
}

// Publish 发布消息，返回收到消息的订阅者数量
func (b *RedisBroker) Publish(ctx context.Context, channel, payload string) (int64, error) {
	return b.rdb.Publish(ctx, channel, payload).Result()
}

// Subscribe 订阅频道。go-redis 的 PubSub 内部加锁，可与轮询并发
func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return b.pubsub.Subscribe(ctx, channels...)
}

// Unsubscribe 取消订阅频道
func (b *RedisBroker) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return b.pubsub.Unsubscribe(ctx, channels...)
}

// GetMessage 在 pollTimeout 内等待下一帧，超时返回 nil, nil
func (b *RedisBroker) GetMessage(ctx context.Context) (*sse.Frame, error) {
	received, err := b.pubsub.ReceiveTimeout(ctx, b.pollTimeout)
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, err
	}

	switch m := received.(type) {
	case *redis.Subscription:
		return &sse.Frame{Kind: sse.FrameKind(m.Kind), Channel: m.Channel}, nil
	case *redis.Message:
		kind := sse.FrameMessage
		if m.Pattern != "" {
			kind = sse.FramePMessage
		}
		return &sse.Frame{Kind: kind, Channel: m.Channel, Pattern: m.Pattern, Data: m.Payload}, nil
	case *redis.Pong:
		return &sse.Frame{Kind: sse.FramePong, Data: m.Payload}, nil
	default:
		return nil, fmt.Errorf("unexpected pubsub reply %T", received)
	}
}

// NumSub 返回频道在整个 Redis 上的订阅者数量
func (b *RedisBroker) NumSub(ctx context.Context, channel string) (int64, error) {
	counts, err := b.rdb.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, err
	}
	return counts[channel], nil
}

// Close 关闭订阅句柄，客户端由调用方关闭
func (b *RedisBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close()
		b.log.Info().Msg("pubsub closed")
	})
	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
