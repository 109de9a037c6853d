package sse

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("sse: connection is closed")
	// ErrStreamingUnsupported 响应不支持流式写出
	ErrStreamingUnsupported = errors.New("sse: streaming unsupported")
)

// Connection 本地SSE连接句柄，只属于一个频道，由注册表独占管理
type Connection struct {
	id          string
	channel     string
	nodeID      string
	connectedAt time.Time

	queue   chan *Message
	done    chan struct{}
	closed  bool
	mutex   sync.Mutex
	dropped atomic.Int64
}

func newConnection(channel, nodeID string, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Connection{
		id:          uuid.New().String(),
		channel:     channel,
		nodeID:      nodeID,
		connectedAt: time.Now(),
		queue:       make(chan *Message, bufferSize),
		done:        make(chan struct{}),
	}
}

// ID 连接ID
func (c *Connection) ID() string { return c.id }

// Channel 所属频道
func (c *Connection) Channel() string { return c.channel }

// LocalNodeID 所属进程
func (c *Connection) LocalNodeID() string { return c.nodeID }

// ConnectedAt 连接时间
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Messages 待写出的消息，连接关闭后通道关闭
func (c *Connection) Messages() <-chan *Message { return c.queue }

// Done 连接关闭信号
func (c *Connection) Done() <-chan struct{} { return c.done }

// Dropped 因队列满而丢弃的消息数
func (c *Connection) Dropped() int64 { return c.dropped.Load() }

// Pending 队列中尚未写出的消息数
func (c *Connection) Pending() int { return len(c.queue) }

// IsActive 检查连接是否活跃
func (c *Connection) IsActive() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return !c.closed
}

// Enqueue 非阻塞入队，队列满时丢弃该消息
func (c *Connection) Enqueue(msg *Message) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.queue <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// close 关闭连接，可重复调用
func (c *Connection) close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.queue)
	close(c.done)
}

// StreamWriter 把消息写到HTTP响应流
type StreamWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	closed  bool
	mutex   sync.Mutex
}

// NewStreamWriter 创建流写入器并设置SSE响应头
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &StreamWriter{writer: w, flusher: flusher}, nil
}

// Send 写入一段数据并立即刷新
func (s *StreamWriter) Send(data []byte) (err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return ErrConnectionClosed
	}

	// 客户端断开后 gin 的 writer 可能 panic
	defer func() {
		if r := recover(); r != nil {
			s.closed = true
			err = fmt.Errorf("stream write panic: %v", r)
		}
	}()

	if _, err := s.writer.Write(data); err != nil {
		s.closed = true
		return fmt.Errorf("failed to write data: %w", err)
	}
	s.flusher.Flush()

	return nil
}

// SendMessage 以SSE文本帧写入消息
func (s *StreamWriter) SendMessage(msg *Message) error {
	data, err := msg.ToSSEFormat()
	if err != nil {
		return err
	}
	return s.Send(data)
}

// Open 立即写出响应头，客户端无需等待第一条消息
func (s *StreamWriter) Open() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.writer.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// IsActive 写入器是否仍可用
func (s *StreamWriter) IsActive() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return !s.closed
}

// Serve 持续把连接队列中的消息写出，直到客户端离开或连接被释放
func (s *StreamWriter) Serve(clientGone <-chan struct{}, conn *Connection) error {
	for {
		select {
		case <-clientGone:
			return nil
		case msg, ok := <-conn.Messages():
			if !ok {
				return nil
			}
			if err := s.SendMessage(msg); err != nil {
				return err
			}
		}
	}
}
