// Package handlers 提供SSE桥接的HTTP接口
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ssebridge/internal/auth"
	"ssebridge/internal/config"
	"ssebridge/internal/middleware"
	"ssebridge/internal/sse"
)

// Handler HTTP处理器
type Handler struct {
	config      *config.Config
	authService *auth.Service
	sseService  *sse.Service
	bridge      *sse.PubSubBridge
	log         zerolog.Logger
}

// New 创建处理器实例
func New(cfg *config.Config, authService *auth.Service, sseService *sse.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		config:      cfg,
		authService: authService,
		sseService:  sseService,
		bridge:      sseService.Bridge(),
		log:         logger.With().Str("component", "http").Logger(),
	}
}

// AuthRequired 返回认证中间件
func (h *Handler) AuthRequired() gin.HandlerFunc {
	return middleware.AuthRequiredWithService(h.authService)
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	stats := h.sseService.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "ssebridge",
		"node_id":   stats.Registry.LocalNodeID,
		"listening": stats.Listening,
	})
}

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// respondWithError 返回错误响应
func (h *Handler) respondWithError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// respondWithSuccess 返回成功响应
func (h *Handler) respondWithSuccess(c *gin.Context, data interface{}, message ...string) {
	response := SuccessResponse{
		Success: true,
		Data:    data,
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// bindJSON 绑定JSON请求体
func (h *Handler) bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.respondWithError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseInt64Query 解析int64查询参数，缺省时返回默认值
func (h *Handler) parseInt64Query(c *gin.Context, queryName string, defaultValue int64) (int64, bool) {
	queryStr := c.Query(queryName)
	if queryStr == "" {
		return defaultValue, true
	}

	queryValue, err := strconv.ParseInt(queryStr, 10, 64)
	if err != nil {
		h.respondWithError(c, http.StatusBadRequest, "Invalid parameter: "+queryName)
		return 0, false
	}
	return queryValue, true
}
