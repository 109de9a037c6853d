package sse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"ssebridge/internal/stats"
)

// BridgeConfig 桥接器配置
type BridgeConfig struct {
	ListenInterval    time.Duration `json:"listen_interval"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	MessageRetry      int           `json:"message_retry"` // 毫秒
}

// DefaultBridgeConfig 默认桥接器配置
func DefaultBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		ListenInterval:    100 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		MessageRetry:      3000,
	}
}

// BridgeStats 桥接器统计信息
type BridgeStats struct {
	LocalNodeID       string     `json:"local_node_id"`
	Connections       int        `json:"connections"`
	MessagesPublished int64      `json:"messages_published"`
	MessagesReceived  int64      `json:"messages_received"`
	MessagesForwarded int64      `json:"messages_forwarded"`
	ControlFrames     int64      `json:"control_frames"`
	ErrorFrames       int64      `json:"error_frames"`
	Heartbeats        int64      `json:"heartbeats"`
	StartTime         time.Time  `json:"start_time"`
	LastFrameTime     *time.Time `json:"last_frame_time,omitempty"`
}

// PubSubBridge 把broker上的频道桥接到本地SSE连接
type PubSubBridge struct {
	broker   Broker
	registry Registry
	store    StatsStore
	config   *BridgeConfig
	log      zerolog.Logger

	now           func() time.Time
	startTime     time.Time
	lastHeartbeat time.Time
	lastFrameTime time.Time
	lastChannel   string
	loopMutex     sync.Mutex // 保护单轮循环的状态
	subMutex      sync.Mutex // 订阅与回滚需要和连接注册保持原子

	published  atomic.Int64
	received   atomic.Int64
	forwarded  atomic.Int64
	control    atomic.Int64
	errored    atomic.Int64
	heartbeats atomic.Int64
}

// NewPubSubBridge 创建桥接器
func NewPubSubBridge(broker Broker, registry Registry, store StatsStore, config *BridgeConfig, logger zerolog.Logger) *PubSubBridge {
	if config == nil {
		config = DefaultBridgeConfig()
	}
	b := &PubSubBridge{
		broker:   broker,
		registry: registry,
		store:    store,
		config:   config,
		log:      logger.With().Str("component", "sse_bridge").Str("node_id", registry.LocalNodeID()).Logger(),
	}
	b.setClock(time.Now)
	return b
}

// setClock 替换时钟并重置心跳计时
func (b *PubSubBridge) setClock(now func() time.Time) {
	b.loopMutex.Lock()
	defer b.loopMutex.Unlock()
	b.now = now
	b.startTime = now()
	b.lastHeartbeat = b.startTime
}

// SubscribeChannel 订阅频道并注册本地连接。注册失败时回滚broker订阅
func (b *PubSubBridge) SubscribeChannel(ctx context.Context, channel string, extra map[string]interface{}) (*Connection, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}

	b.subMutex.Lock()
	defer b.subMutex.Unlock()

	if err := b.broker.Subscribe(ctx, channel); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	conn, err := b.registry.Connect(channel)
	if err != nil {
		b.rollbackSubscribe(ctx, channel)
		b.log.Warn().Err(err).Str("channel", channel).Msg("connection refused, subscription rolled back")
		return nil, err
	}

	record := &stats.ConnectRecord{
		Channel:     channel,
		ConnectTime: b.now(),
		LocalNodeID: b.registry.LocalNodeID(),
		Extra:       extra,
	}
	if err := b.store.AddConnect(ctx, channel, record); err != nil {
		b.registry.Release(conn)
		b.rollbackSubscribe(ctx, channel)
		return nil, fmt.Errorf("record connect for %s: %w", channel, err)
	}

	connectData := map[string]interface{}{
		"node_id": b.registry.LocalNodeID(),
		"conn_id": conn.ID(),
	}
	if _, err := b.PublishMessage(ctx, channel, connectData, WithEvent(EventConnect)); err != nil {
		b.registry.Release(conn)
		b.rollbackSubscribe(ctx, channel)
		return nil, fmt.Errorf("announce connect on %s: %w", channel, err)
	}

	b.log.Info().
		Str("channel", channel).
		Str("conn_id", conn.ID()).
		Int("connections", b.registry.Count()).
		Msg("channel subscribed")

	return conn, nil
}

// rollbackSubscribe 撤销broker订阅。频道仍有其他本地连接时保留订阅
func (b *PubSubBridge) rollbackSubscribe(ctx context.Context, channel string) {
	if b.registry.ChannelCount(channel) > 0 {
		return
	}
	if err := b.broker.Unsubscribe(ctx, channel); err != nil {
		b.log.Error().Err(err).Str("channel", channel).Msg("failed to roll back subscription")
	}
}

// ReleaseConnection 释放连接、清理连接记录，频道无本地连接时取消订阅
func (b *PubSubBridge) ReleaseConnection(ctx context.Context, conn *Connection) error {
	if conn == nil {
		return nil
	}

	b.subMutex.Lock()
	defer b.subMutex.Unlock()

	b.registry.Release(conn)

	var errs []error
	if b.registry.ChannelCount(conn.Channel()) == 0 {
		if err := b.UnsubscribeChannel(ctx, conn.Channel()); err != nil {
			errs = append(errs, err)
		}
		if err := b.Disconnect(ctx, conn.Channel()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishMessage 发布消息，返回broker报告的订阅者数量（0不是错误）
func (b *PubSubBridge) PublishMessage(ctx context.Context, channel string, data interface{}, opts ...MessageOption) (int64, error) {
	defaults := []MessageOption{WithID(GenerateID()), WithRetry(b.config.MessageRetry)}
	msg, err := NewMessage(channel, data, append(defaults, opts...)...)
	if err != nil {
		return 0, err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	pushCount, err := b.broker.Publish(ctx, channel, string(payload))
	if err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	b.published.Add(1)

	record := &stats.LogRecord{
		Channel:     channel,
		Message:     msg.ToMap(),
		PushCount:   &pushCount,
		LocalNodeID: b.registry.LocalNodeID(),
		Time:        b.now(),
	}
	if err := b.store.AddPubMessage(ctx, record); err != nil {
		return pushCount, fmt.Errorf("record published message: %w", err)
	}

	b.log.Debug().
		Str("channel", channel).
		Str("event", string(msg.Event())).
		Int64("push_count", pushCount).
		Msg("message published")

	return pushCount, nil
}

// PublishSSEMessage 发布已构造的消息，重连间隔强制使用配置值
func (b *PubSubBridge) PublishSSEMessage(ctx context.Context, msg *Message) (int64, error) {
	if msg == nil {
		return 0, errors.New("sse: message cannot be nil")
	}
	opts := []MessageOption{WithEvent(msg.Event()), WithRetry(b.config.MessageRetry)}
	if msg.ID() != "" {
		opts = append(opts, WithID(msg.ID()))
	}
	return b.PublishMessage(ctx, msg.Channel(), msg.Data(), opts...)
}

// Step 执行一轮监听：心跳、轮询、解码、记录、转发。返回的错误都是致命错误
func (b *PubSubBridge) Step(ctx context.Context) error {
	b.loopMutex.Lock()
	defer b.loopMutex.Unlock()

	now := b.now()
	if now.Sub(b.lastHeartbeat) >= b.config.HeartbeatInterval {
		delivered := b.registry.AddHeartbeat()
		b.heartbeats.Add(1)
		b.lastHeartbeat = now
		b.log.Debug().Int("delivered", delivered).Msg("heartbeat broadcast")
	}

	frame, err := b.broker.GetMessage(ctx)
	if err != nil {
		return fmt.Errorf("poll broker: %w", err)
	}
	if frame == nil {
		return nil
	}
	b.lastFrameTime = now

	decoded := DecodeFrame(frame)
	b.lastChannel = decoded.Channel

	switch decoded.Kind {
	case DecodedControl:
		b.control.Add(1)
		b.log.Debug().Str("kind", string(frame.Kind)).Str("channel", frame.Channel).Msg("control frame dropped")
	case DecodedError:
		b.errored.Add(1)
		b.log.Warn().Err(decoded.Err).Str("channel", frame.Channel).Msg("undecodable frame dropped")
	}

	if decoded.Cacheable() {
		record := &stats.LogRecord{
			Channel:     decoded.Channel,
			Message:     decoded.Message.ToMap(),
			LocalNodeID: b.registry.LocalNodeID(),
			Time:        now,
		}
		if err := b.store.AddSubMessage(ctx, record); err != nil {
			return fmt.Errorf("record received message on %s: %w", decoded.Channel, err)
		}
		b.received.Add(1)
	}

	if decoded.Forwardable() {
		b.registry.AddMessage(decoded.Channel, decoded.Message)
		b.forwarded.Add(1)
	}

	return nil
}

// Listen 轮询循环，直到注册表停止或 ctx 取消。任何致命错误都会终止循环
func (b *PubSubBridge) Listen(ctx context.Context) error {
	b.log.Info().
		Dur("listen_interval", b.config.ListenInterval).
		Dur("heartbeat_interval", b.config.HeartbeatInterval).
		Msg("listen loop started")

	timer := time.NewTimer(b.config.ListenInterval)
	defer timer.Stop()

	for {
		if !b.registry.IsRunning() {
			b.log.Info().Msg("registry stopped, listen loop exiting")
			return nil
		}

		if err := b.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Error().
				Err(err).
				Str("channel", b.lastChannel).
				Int("connections", b.registry.Count()).
				Msg("listen loop terminated")
			return err
		}

		timer.Reset(b.config.ListenInterval)
		select {
		case <-ctx.Done():
			b.log.Info().Msg("context cancelled, listen loop exiting")
			return nil
		case <-timer.C:
		}
	}
}

// UnsubscribeChannel 仅取消broker订阅，不触碰本地连接
func (b *PubSubBridge) UnsubscribeChannel(ctx context.Context, channel string) error {
	if err := b.broker.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	b.log.Info().Str("channel", channel).Msg("channel unsubscribed")
	return nil
}

// Disconnect 删除频道的连接记录，不关闭本地连接
func (b *PubSubBridge) Disconnect(ctx context.Context, channel string) error {
	if err := b.store.DeleteConnect(ctx, channel); err != nil {
		return fmt.Errorf("delete connect stats for %s: %w", channel, err)
	}
	b.log.Info().Str("channel", channel).Msg("channel disconnected")
	return nil
}

// DisconnectAll 释放所有本地连接，进程退出时使用
func (b *PubSubBridge) DisconnectAll(ctx context.Context) error {
	b.subMutex.Lock()
	defer b.subMutex.Unlock()

	channels := b.registry.ReleaseAll()
	if len(channels) == 0 {
		return nil
	}

	var errs []error
	if err := b.broker.Unsubscribe(ctx, channels...); err != nil {
		errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
	}
	for _, channel := range channels {
		if err := b.Disconnect(ctx, channel); err != nil {
			errs = append(errs, err)
		}
	}

	b.log.Info().Strs("channels", channels).Msg("all channels disconnected")
	return errors.Join(errs...)
}

// GetPubMessageStat 按天分页查询发布记录
func (b *PubSubBridge) GetPubMessageStat(ctx context.Context, day string, start, end int64) ([]*stats.LogRecord, error) {
	return b.store.GetPubMessages(ctx, day, start, end)
}

// GetSubMessageStat 按天分页查询接收记录
func (b *PubSubBridge) GetSubMessageStat(ctx context.Context, day string, start, end int64) ([]*stats.LogRecord, error) {
	return b.store.GetSubMessages(ctx, day, start, end)
}

// GetConnectStat 按天查询连接记录
func (b *PubSubBridge) GetConnectStat(ctx context.Context, day string) (map[string][]*stats.ConnectRecord, error) {
	return b.store.GetConnectStats(ctx, day)
}

// IsOpenSSESwitch SSE总开关是否打开
func (b *PubSubBridge) IsOpenSSESwitch(ctx context.Context) (bool, error) {
	return b.store.GetSwitch(ctx)
}

// OpenSSESwitch 打开SSE总开关
func (b *PubSubBridge) OpenSSESwitch(ctx context.Context) error {
	return b.store.SetSwitch(ctx, true)
}

// CloseSSESwitch 关闭SSE总开关
func (b *PubSubBridge) CloseSSESwitch(ctx context.Context) error {
	return b.store.SetSwitch(ctx, false)
}

// Stats 统计快照
func (b *PubSubBridge) Stats() BridgeStats {
	b.loopMutex.Lock()
	startTime, lastFrame := b.startTime, b.lastFrameTime
	b.loopMutex.Unlock()

	s := BridgeStats{
		LocalNodeID:       b.registry.LocalNodeID(),
		Connections:       b.registry.Count(),
		MessagesPublished: b.published.Load(),
		MessagesReceived:  b.received.Load(),
		MessagesForwarded: b.forwarded.Load(),
		ControlFrames:     b.control.Load(),
		ErrorFrames:       b.errored.Load(),
		Heartbeats:        b.heartbeats.Load(),
		StartTime:         startTime,
	}
	if !lastFrame.IsZero() {
		s.LastFrameTime = &lastFrame
	}
	return s
}
