package sse

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	// ErrRegistryStopped 注册表已停止
	ErrRegistryStopped = errors.New("sse: registry is not running")
	// ErrCapacityExceeded 本地连接总数已达上限
	ErrCapacityExceeded = errors.New("sse: connection capacity exceeded")
	// ErrChannelCapacityExceeded 频道连接数已达上限
	ErrChannelCapacityExceeded = errors.New("sse: channel connection capacity exceeded")
)

// RegistryConfig 注册表配置
type RegistryConfig struct {
	MaxConnections           int // 0 表示不限制
	MaxConnectionsPerChannel int // 0 表示不限制
	BufferSize               int
}

// DefaultRegistryConfig 默认注册表配置
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		MaxConnections:           10000,
		MaxConnectionsPerChannel: 100,
		BufferSize:               64,
	}
}

// RegistryStats 注册表统计信息
type RegistryStats struct {
	TotalConnections     int            `json:"total_connections"`
	ConnectionsByChannel map[string]int `json:"connections_by_channel"`
	DroppedMessages      int64          `json:"dropped_messages"`
	LocalNodeID          string         `json:"local_node_id"`
	Running              bool           `json:"running"`
}

// ConnectionRegistry 进程内的连接注册表：channel -> connID -> connection
type ConnectionRegistry struct {
	connections map[string]map[string]*Connection
	mutex       sync.RWMutex
	config      *RegistryConfig
	nodeID      string
	running     atomic.Bool
	dropped     atomic.Int64
	log         zerolog.Logger
}

// NewConnectionRegistry 创建连接注册表
func NewConnectionRegistry(nodeID string, config *RegistryConfig, logger zerolog.Logger) *ConnectionRegistry {
	if config == nil {
		config = DefaultRegistryConfig()
	}
	r := &ConnectionRegistry{
		connections: make(map[string]map[string]*Connection),
		config:      config,
		nodeID:      nodeID,
		log:         logger.With().Str("component", "sse_registry").Logger(),
	}
	r.running.Store(true)
	return r
}

// Connect 注册新的本地连接
func (r *ConnectionRegistry) Connect(channel string) (*Connection, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	if !r.IsRunning() {
		return nil, ErrRegistryStopped
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.config.MaxConnections > 0 && r.countLocked() >= r.config.MaxConnections {
		return nil, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, r.config.MaxConnections)
	}
	if r.config.MaxConnectionsPerChannel > 0 && len(r.connections[channel]) >= r.config.MaxConnectionsPerChannel {
		return nil, fmt.Errorf("%w: channel %s limit %d", ErrChannelCapacityExceeded, channel, r.config.MaxConnectionsPerChannel)
	}

	conn := newConnection(channel, r.nodeID, r.config.BufferSize)
	if r.connections[channel] == nil {
		r.connections[channel] = make(map[string]*Connection)
	}
	r.connections[channel][conn.ID()] = conn

	r.log.Debug().
		Str("channel", channel).
		Str("conn_id", conn.ID()).
		Int("channel_connections", len(r.connections[channel])).
		Msg("connection registered")

	return conn, nil
}

// AddMessage 推送消息给频道下所有本地连接
func (r *ConnectionRegistry) AddMessage(channel string, msg *Message) int {
	delivered := 0
	for _, conn := range r.snapshot(channel) {
		if conn.Enqueue(msg) {
			delivered++
		} else {
			r.dropped.Add(1)
		}
	}
	return delivered
}

// AddHeartbeat 向所有本地连接推送心跳
func (r *ConnectionRegistry) AddHeartbeat() int {
	delivered := 0
	for _, conn := range r.snapshot("") {
		if conn.Enqueue(NewHeartbeatMessage(conn.Channel(), r.nodeID)) {
			delivered++
		} else {
			r.dropped.Add(1)
		}
	}
	return delivered
}

// snapshot 复制连接集合，channel 为空时返回全部
func (r *ConnectionRegistry) snapshot(channel string) []*Connection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var conns []*Connection
	if channel != "" {
		for _, conn := range r.connections[channel] {
			conns = append(conns, conn)
		}
		return conns
	}
	for _, channelConns := range r.connections {
		for _, conn := range channelConns {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Release 释放单个连接
func (r *ConnectionRegistry) Release(conn *Connection) {
	if conn == nil {
		return
	}

	r.mutex.Lock()
	if channelConns, exists := r.connections[conn.Channel()]; exists {
		if _, ok := channelConns[conn.ID()]; ok {
			delete(channelConns, conn.ID())
			if len(channelConns) == 0 {
				delete(r.connections, conn.Channel())
			}
		}
	}
	r.mutex.Unlock()

	conn.close()
	r.log.Debug().Str("channel", conn.Channel()).Str("conn_id", conn.ID()).Msg("connection released")
}

// ReleaseChannel 释放频道下的全部连接
func (r *ConnectionRegistry) ReleaseChannel(channel string) int {
	r.mutex.Lock()
	channelConns := r.connections[channel]
	delete(r.connections, channel)
	r.mutex.Unlock()

	for _, conn := range channelConns {
		conn.close()
	}
	return len(channelConns)
}

// ReleaseAll 释放全部连接，返回涉及的频道
func (r *ConnectionRegistry) ReleaseAll() []string {
	r.mutex.Lock()
	all := r.connections
	r.connections = make(map[string]map[string]*Connection)
	r.mutex.Unlock()

	channels := make([]string, 0, len(all))
	for channel, channelConns := range all {
		channels = append(channels, channel)
		for _, conn := range channelConns {
			conn.close()
		}
	}
	sort.Strings(channels)

	r.log.Info().Int("channels", len(channels)).Msg("all connections released")
	return channels
}

// Count 本地连接总数
func (r *ConnectionRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.countLocked()
}

func (r *ConnectionRegistry) countLocked() int {
	total := 0
	for _, channelConns := range r.connections {
		total += len(channelConns)
	}
	return total
}

// ChannelCount 频道下的本地连接数
func (r *ConnectionRegistry) ChannelCount(channel string) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.connections[channel])
}

// Channels 当前有连接的频道，已排序
func (r *ConnectionRegistry) Channels() []string {
	r.mutex.RLock()
	channels := make([]string, 0, len(r.connections))
	for channel := range r.connections {
		channels = append(channels, channel)
	}
	r.mutex.RUnlock()

	sort.Strings(channels)
	return channels
}

// Stats 统计快照
func (r *ConnectionRegistry) Stats() RegistryStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	byChannel := make(map[string]int, len(r.connections))
	total := 0
	for channel, channelConns := range r.connections {
		byChannel[channel] = len(channelConns)
		total += len(channelConns)
	}

	return RegistryStats{
		TotalConnections:     total,
		ConnectionsByChannel: byChannel,
		DroppedMessages:      r.dropped.Load(),
		LocalNodeID:          r.nodeID,
		Running:              r.IsRunning(),
	}
}

// IsRunning 是否仍在运行
func (r *ConnectionRegistry) IsRunning() bool {
	return r.running.Load()
}

// Stop 停止注册表，监听循环会在下一轮退出
func (r *ConnectionRegistry) Stop() {
	if r.running.CompareAndSwap(true, false) {
		r.log.Info().Msg("registry stopped")
	}
}

// LocalNodeID 当前进程的节点ID
func (r *ConnectionRegistry) LocalNodeID() string {
	return r.nodeID
}
