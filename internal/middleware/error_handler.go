package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ErrorResponse 统一错误响应格式
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// ErrorHandler panic恢复中间件，debug 为真时在响应中附带panic内容
func ErrorHandler(logger zerolog.Logger, debugMode bool) gin.HandlerFunc {
	log := logger.With().Str("component", "recovery").Logger()
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		var message string
		switch v := recovered.(type) {
		case string:
			message = v
		case error:
			message = v.Error()
		default:
			message = fmt.Sprintf("Unknown error: %v", recovered)
		}

		event := log.Error().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("panic", message)
		if debugMode {
			event = event.Bytes("stack", debug.Stack())
		}
		event.Msg("panic recovered")

		response := ErrorResponse{
			Error:   "Internal Server Error",
			Message: "An unexpected error occurred",
			Code:    "INTERNAL_ERROR",
		}
		if debugMode {
			response.Details = message
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, response)
	})
}

// HandleError 处理业务错误
func HandleError(c *gin.Context, err error, statusCode int) {
	if err == nil {
		return
	}
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: err.Error(),
		Code:    getErrorCode(statusCode),
	})
}

// HandleUnauthorizedError 处理未授权错误
func HandleUnauthorizedError(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Error:   "Unauthorized",
		Message: message,
		Code:    "UNAUTHORIZED",
	})
}

// HandleForbiddenError 处理禁止访问错误
func HandleForbiddenError(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
		Error:   "Forbidden",
		Message: message,
		Code:    "FORBIDDEN",
	})
}

// HandleServiceUnavailableError 处理服务不可用错误
func HandleServiceUnavailableError(c *gin.Context, service string, reason string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:   "Service Unavailable",
		Message: fmt.Sprintf("Service '%s' is currently unavailable: %s", service, reason),
		Code:    "SERVICE_UNAVAILABLE",
		Details: map[string]string{
			"service": service,
			"reason":  reason,
		},
	})
}

// getErrorCode 根据状态码获取错误代码
func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "TOO_MANY_REQUESTS"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusBadGateway:
		return "BAD_GATEWAY"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}
