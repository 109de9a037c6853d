package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ssebridge/internal/middleware"
	"ssebridge/internal/sse"
)

// HandleSSE 订阅频道并保持SSE连接
func (h *Handler) HandleSSE(c *gin.Context) {
	channel := c.Param("channel")
	ctx := c.Request.Context()

	open, err := h.bridge.IsOpenSSESwitch(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read SSE switch")
		h.respondWithError(c, http.StatusBadGateway, "Failed to read SSE switch")
		return
	}
	if !open {
		middleware.HandleServiceUnavailableError(c, "sse", "switch is closed")
		return
	}

	extra := map[string]interface{}{
		"ip":         c.ClientIP(),
		"user_agent": c.Request.UserAgent(),
	}

	err = h.sseService.HandleConnection(ctx, channel, extra, c.Writer, ctx.Done())
	if err == nil {
		return
	}
	if c.Writer.Written() {
		// 流已开始，只能记录
		h.log.Warn().Err(err).Str("channel", channel).Msg("SSE stream ended with error")
		return
	}
	h.respondWithError(c, sseErrorStatus(err), err.Error())
}

// sseErrorStatus 订阅失败对应的状态码
func sseErrorStatus(err error) int {
	switch {
	case errors.Is(err, sse.ErrEmptyChannel):
		return http.StatusBadRequest
	case errors.Is(err, sse.ErrCapacityExceeded), errors.Is(err, sse.ErrChannelCapacityExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, sse.ErrRegistryStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, sse.ErrStreamingUnsupported):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// PublishRequest 发布请求
type PublishRequest struct {
	Channel string      `json:"channel" binding:"required"`
	Data    interface{} `json:"data"`
	Event   string      `json:"event"`
	ID      string      `json:"id"`
}

// Publish 向频道发布消息
func (h *Handler) Publish(c *gin.Context) {
	var req PublishRequest
	if !h.bindJSON(c, &req) {
		return
	}

	event := sse.EventType(req.Event)
	if event.IsSystem() {
		h.respondWithError(c, http.StatusBadRequest, "Reserved event type: "+req.Event)
		return
	}

	opts := []sse.MessageOption{sse.WithEvent(event)}
	if req.ID != "" {
		opts = append(opts, sse.WithID(req.ID))
	}

	pushCount, err := h.bridge.PublishMessage(c.Request.Context(), req.Channel, req.Data, opts...)
	if err != nil {
		h.log.Error().Err(err).Str("channel", req.Channel).Msg("publish failed")
		h.respondWithError(c, http.StatusBadGateway, "Failed to publish message: "+err.Error())
		return
	}

	h.respondWithSuccess(c, gin.H{
		"channel":    req.Channel,
		"push_count": pushCount,
	}, "Message published")
}

// GetSSEStats 获取SSE统计信息
func (h *Handler) GetSSEStats(c *gin.Context) {
	h.respondWithSuccess(c, h.sseService.GetStats())
}

// GetSwitch 查询总开关
func (h *Handler) GetSwitch(c *gin.Context) {
	open, err := h.bridge.IsOpenSSESwitch(c.Request.Context())
	if err != nil {
		h.respondWithError(c, http.StatusBadGateway, "Failed to read SSE switch: "+err.Error())
		return
	}
	h.respondWithSuccess(c, gin.H{"open": open})
}

// OpenSwitch 打开总开关
func (h *Handler) OpenSwitch(c *gin.Context) {
	if err := h.bridge.OpenSSESwitch(c.Request.Context()); err != nil {
		h.respondWithError(c, http.StatusBadGateway, "Failed to open SSE switch: "+err.Error())
		return
	}
	h.log.Info().Str("by", c.GetString(middleware.ContextUsername)).Msg("SSE switch opened")
	h.respondWithSuccess(c, gin.H{"open": true}, "SSE switch opened")
}

// CloseSwitch 关闭总开关，已建立的连接不受影响
func (h *Handler) CloseSwitch(c *gin.Context) {
	if err := h.bridge.CloseSSESwitch(c.Request.Context()); err != nil {
		h.respondWithError(c, http.StatusBadGateway, "Failed to close SSE switch: "+err.Error())
		return
	}
	h.log.Info().Str("by", c.GetString(middleware.ContextUsername)).Msg("SSE switch closed")
	h.respondWithSuccess(c, gin.H{"open": false}, "SSE switch closed")
}
