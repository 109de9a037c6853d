package sse

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// FrameKind broker原始帧类型
type FrameKind string

const (
	FrameSubscribe    FrameKind = "subscribe"
	FrameUnsubscribe  FrameKind = "unsubscribe"
	FramePSubscribe   FrameKind = "psubscribe"
	FramePUnsubscribe FrameKind = "punsubscribe"
	FrameMessage      FrameKind = "message"
	FramePMessage     FrameKind = "pmessage"
	FramePong         FrameKind = "pong"
)

// IsData 是否为数据帧
func (k FrameKind) IsData() bool {
	return k == FrameMessage || k == FramePMessage
}

// Frame 从broker轮询得到的一帧
type Frame struct {
	Kind    FrameKind
	Channel string
	Pattern string
	Data    string
}

// DecodedKind 解码结果分类
type DecodedKind int

const (
	DecodedMessage DecodedKind = iota
	// DecodedControl 控制帧，对应 REDIS 哨兵
	DecodedControl
	// DecodedError 解析失败，对应 ERROR 哨兵
	DecodedError
)

// Decoded 单帧解码结果
type Decoded struct {
	Kind    DecodedKind
	Channel string
	Message *Message
	Err     error
}

// Event 返回结果对应的事件类型，哨兵结果返回 REDIS / ERROR
func (d Decoded) Event() EventType {
	switch d.Kind {
	case DecodedControl:
		return EventRedis
	case DecodedError:
		return EventError
	}
	return d.Message.Event()
}

// Cacheable 是否需要记录到接收日志
func (d Decoded) Cacheable() bool {
	if d.Kind != DecodedMessage {
		return false
	}
	switch d.Message.Event() {
	case EventError, EventRedis, EventHeartbeat:
		return false
	}
	return true
}

// Forwardable 是否需要转发给本地连接，远端心跳同样转发
func (d Decoded) Forwardable() bool {
	if d.Kind != DecodedMessage {
		return false
	}
	switch d.Message.Event() {
	case EventError, EventRedis:
		return false
	}
	return true
}

// DecodeFrame 解码一帧。控制帧映射为REDIS，解析失败映射为ERROR
func DecodeFrame(f *Frame) Decoded {
	if f == nil {
		return Decoded{Kind: DecodedError, Err: fmt.Errorf("nil frame")}
	}
	if !f.Kind.IsData() {
		return Decoded{Kind: DecodedControl, Channel: f.Channel}
	}

	var wire wireMessage
	if err := json.Unmarshal([]byte(f.Data), &wire); err != nil {
		return Decoded{Kind: DecodedError, Channel: f.Channel, Err: fmt.Errorf("decode frame: %w", err)}
	}
	if wire.Channel == "" {
		return Decoded{Kind: DecodedError, Channel: f.Channel, Err: ErrEmptyChannel}
	}

	data, err := decodeData(wire.Data)
	if err != nil {
		return Decoded{Kind: DecodedError, Channel: f.Channel, Err: fmt.Errorf("decode frame data: %w", err)}
	}
	msg, err := NewMessage(wire.Channel, data,
		WithEvent(wire.Event),
		WithID(wire.ID),
		WithRetry(wire.Retry),
	)
	if err != nil {
		return Decoded{Kind: DecodedError, Channel: f.Channel, Err: err}
	}

	return Decoded{Kind: DecodedMessage, Channel: wire.Channel, Message: msg}
}

// decodeData 把 data 字段还原为普通值，数字保留为 json.Number
func decodeData(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}
