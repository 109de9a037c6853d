package sse

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrServiceStarted 服务已启动
var ErrServiceStarted = errors.New("sse: service already started")

// ServiceStats 服务统计信息
type ServiceStats struct {
	Bridge    BridgeStats   `json:"bridge"`
	Registry  RegistryStats `json:"registry"`
	Listening bool          `json:"listening"`
	Uptime    string        `json:"uptime"`
}

// Service 管理监听循环的生命周期，并把HTTP连接接入桥接器
type Service struct {
	bridge   *PubSubBridge
	registry *ConnectionRegistry
	log      zerolog.Logger

	mutex     sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	startTime time.Time
}

// NewService 创建SSE服务
func NewService(bridge *PubSubBridge, registry *ConnectionRegistry, logger zerolog.Logger) *Service {
	return &Service{
		bridge:   bridge,
		registry: registry,
		log:      logger.With().Str("component", "sse_service").Logger(),
	}
}

// Bridge 返回桥接器
func (s *Service) Bridge() *PubSubBridge {
	return s.bridge
}

// Start 在后台启动监听循环
func (s *Service) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.done != nil {
		return ErrServiceStarted
	}

	listenCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startTime = time.Now()

	go func() {
		defer close(s.done)
		err := s.bridge.Listen(listenCtx)

		s.mutex.Lock()
		s.err = err
		s.mutex.Unlock()
	}()

	s.log.Info().Str("node_id", s.registry.LocalNodeID()).Msg("SSE service started")
	return nil
}

// Done 监听循环退出信号，未启动时返回 nil
func (s *Service) Done() <-chan struct{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.done
}

// Err 监听循环退出的原因，正常退出为 nil
func (s *Service) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// Stop 停止注册表、等待循环退出并释放所有连接
func (s *Service) Stop(ctx context.Context) error {
	s.registry.Stop()

	s.mutex.Lock()
	cancel, done := s.cancel, s.done
	s.mutex.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			s.log.Warn().Msg("listen loop did not exit before shutdown deadline")
		}
	}

	err := s.bridge.DisconnectAll(ctx)
	s.log.Info().Msg("SSE service stopped")
	return err
}

// HandleConnection 订阅频道并持续写出消息，直到客户端断开或连接被释放
func (s *Service) HandleConnection(ctx context.Context, channel string, extra map[string]interface{}, w http.ResponseWriter, clientGone <-chan struct{}) error {
	if _, ok := w.(http.Flusher); !ok {
		return ErrStreamingUnsupported
	}

	conn, err := s.bridge.SubscribeChannel(ctx, channel, extra)
	if err != nil {
		return err
	}
	defer func() {
		// 请求 ctx 此时已取消，清理需要独立的 ctx
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.bridge.ReleaseConnection(releaseCtx, conn); err != nil {
			s.log.Warn().Err(err).Str("channel", channel).Str("conn_id", conn.ID()).Msg("failed to release connection")
		}
	}()

	writer, err := NewStreamWriter(w)
	if err != nil {
		return err
	}
	writer.Open()

	s.log.Info().Str("channel", channel).Str("conn_id", conn.ID()).Msg("SSE connection established")
	err = writer.Serve(clientGone, conn)
	s.log.Info().
		Str("channel", channel).
		Str("conn_id", conn.ID()).
		Int64("dropped", conn.Dropped()).
		Msg("SSE connection closed")
	return err
}

// GetStats 获取服务统计信息
func (s *Service) GetStats() ServiceStats {
	s.mutex.Lock()
	listening := s.done != nil
	if listening {
		select {
		case <-s.done:
			listening = false
		default:
		}
	}
	startTime := s.startTime
	s.mutex.Unlock()

	stats := ServiceStats{
		Bridge:    s.bridge.Stats(),
		Registry:  s.registry.Stats(),
		Listening: listening,
	}
	if !startTime.IsZero() {
		stats.Uptime = time.Since(startTime).Round(time.Second).String()
	}
	return stats
}
