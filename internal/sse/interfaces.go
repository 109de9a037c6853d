package sse

import (
	"context"

	"ssebridge/internal/stats"
)

// Broker 发布订阅传输层接口
type Broker interface {
	// Publish 发布消息，返回收到消息的订阅者数量
	Publish(ctx context.Context, channel, payload string) (int64, error)

	// Subscribe 订阅频道
	Subscribe(ctx context.Context, channels ...string) error

	// Unsubscribe 取消订阅频道
	Unsubscribe(ctx context.Context, channels ...string) error

	// GetMessage 非阻塞轮询下一帧，空闲时返回 nil, nil
	GetMessage(ctx context.Context) (*Frame, error)

	// Close 关闭订阅句柄与连接
	Close() error
}

// Registry 本地连接注册表接口
type Registry interface {
	// Connect 为频道注册一个新的本地连接，可能拒绝
	Connect(channel string) (*Connection, error)

	// AddMessage 推送消息给频道下所有本地连接，返回成功入队的连接数
	AddMessage(channel string, msg *Message) int

	// AddHeartbeat 向所有本地连接推送心跳
	AddHeartbeat() int

	// Release 释放单个连接
	Release(conn *Connection)

	// ReleaseAll 释放全部连接，返回涉及的频道
	ReleaseAll() []string

	// Count 本地连接总数
	Count() int

	// ChannelCount 频道下的本地连接数
	ChannelCount(channel string) int

	// Channels 当前有连接的频道
	Channels() []string

	// IsRunning 是否仍在运行
	IsRunning() bool

	// LocalNodeID 当前进程的节点ID
	LocalNodeID() string
}

// StatsStore 统计存储接口
type StatsStore interface {
	// AddConnect 记录一次连接
	AddConnect(ctx context.Context, channel string, record *stats.ConnectRecord) error

	// DeleteConnect 删除频道的连接记录
	DeleteConnect(ctx context.Context, channel string) error

	// GetConnectStats 按天查询连接记录，按频道分组
	GetConnectStats(ctx context.Context, day string) (map[string][]*stats.ConnectRecord, error)

	// AddPubMessage 记录一次发布
	AddPubMessage(ctx context.Context, record *stats.LogRecord) error

	// AddSubMessage 记录一次接收
	AddSubMessage(ctx context.Context, record *stats.LogRecord) error

	// GetPubMessages 按天分页查询发布记录
	GetPubMessages(ctx context.Context, day string, start, end int64) ([]*stats.LogRecord, error)

	// GetSubMessages 按天分页查询接收记录
	GetSubMessages(ctx context.Context, day string, start, end int64) ([]*stats.LogRecord, error)

	// GetSwitch 读取SSE总开关
	GetSwitch(ctx context.Context) (bool, error)

	// SetSwitch 写入SSE总开关
	SetSwitch(ctx context.Context, open bool) error
}
