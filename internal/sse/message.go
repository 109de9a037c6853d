package sse

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// EventType 事件类型
type EventType string

const (
	// EventMessage 普通业务消息的默认类型
	EventMessage EventType = "message"

	// 系统事件
	EventConnect   EventType = "CONNECT"
	EventError     EventType = "ERROR"
	EventRedis     EventType = "REDIS"
	EventHeartbeat EventType = "HEARTBEAT"
)

// IsSystem 是否为系统事件
func (t EventType) IsSystem() bool {
	switch t {
	case EventConnect, EventError, EventRedis, EventHeartbeat:
		return true
	}
	return false
}

// ErrEmptyChannel 频道为空
var ErrEmptyChannel = errors.New("sse: channel is required")

// Message 一条SSE事件，构造后不可变
type Message struct {
	channel string
	data    interface{}
	event   EventType
	id      string
	retry   int // 毫秒，0表示未设置
}

// MessageOption 消息构造选项
type MessageOption func(*Message)

// WithEvent 设置事件类型
func WithEvent(event EventType) MessageOption {
	return func(m *Message) {
		if event != "" {
			m.event = event
		}
	}
}

// WithID 设置事件ID
func WithID(id string) MessageOption {
	return func(m *Message) { m.id = id }
}

// WithRetry 设置客户端重连间隔（毫秒）
func WithRetry(retry int) MessageOption {
	return func(m *Message) {
		if retry > 0 {
			m.retry = retry
		}
	}
}

// NewMessage 创建消息，data 原样透传不做校验
func NewMessage(channel string, data interface{}, opts ...MessageOption) (*Message, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	m := &Message{
		channel: channel,
		data:    data,
		event:   EventMessage,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewHeartbeatMessage 创建心跳消息，发往本地所有连接
func NewHeartbeatMessage(channel, nodeID string) *Message {
	return &Message{
		channel: channel,
		data: map[string]interface{}{
			"node_id":     nodeID,
			"server_time": time.Now().UTC().Format(time.RFC3339),
		},
		event: EventHeartbeat,
		id:    GenerateID(),
	}
}

func (m *Message) Channel() string { return m.channel }
func (m *Message) Data() interface{} { return m.data }
func (m *Message) Event() EventType { return m.event }
func (m *Message) ID() string { return m.id }
func (m *Message) Retry() (int, bool) { return m.retry, m.retry > 0 }

// wireMessage broker上传输的JSON结构
type wireMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Event   EventType       `json:"event,omitempty"`
	ID      string          `json:"id,omitempty"`
	Retry   int             `json:"retry,omitempty"`
}

// ToMap 返回规范的字典形式，未设置的 id/retry 不输出
func (m *Message) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		"channel": m.channel,
		"data":    m.data,
		"event":   string(m.event),
	}
	if m.id != "" {
		out["id"] = m.id
	}
	if m.retry > 0 {
		out["retry"] = m.retry
	}
	return out
}

// MarshalJSON 序列化为线上格式
func (m *Message) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(m.data)
	if err != nil {
		return nil, fmt.Errorf("marshal message data: %w", err)
	}
	return json.Marshal(&wireMessage{
		Channel: m.channel,
		Data:    data,
		Event:   m.event,
		ID:      m.id,
		Retry:   m.retry,
	})
}

// ToSSEFormat 转换为SSE文本帧
func (m *Message) ToSSEFormat() ([]byte, error) {
	data, err := json.Marshal(m.data)
	if err != nil {
		return nil, fmt.Errorf("marshal message data: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("event: " + string(m.event) + "\n")
	if m.id != "" {
		buf.WriteString("id: " + m.id + "\n")
	}
	if m.retry > 0 {
		buf.WriteString("retry: " + strconv.Itoa(m.retry) + "\n")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

var lastID atomic.Int64

// GenerateID 基于微秒时间戳生成ID，进程内严格递增
func GenerateID() string {
	for {
		now := time.Now().UnixMicro()
		last := lastID.Load()
		if now <= last {
			now = last + 1
		}
		if lastID.CompareAndSwap(last, now) {
			return strconv.FormatInt(now, 10)
		}
	}
}
