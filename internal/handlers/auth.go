package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ssebridge/internal/auth"
	"ssebridge/internal/middleware"
)

// AdminRequired 返回管理员权限中间件
func (h *Handler) AdminRequired() gin.HandlerFunc {
	return middleware.AdminRequired()
}

// Login 管理员登录
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if !h.bindJSON(c, &req) {
		return
	}

	response, err := h.authService.Login(&req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.respondWithError(c, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		h.log.Error().Err(err).Msg("login failed")
		h.respondWithError(c, http.StatusInternalServerError, "Login failed")
		return
	}

	h.log.Info().Str("username", response.Username).Str("client_ip", c.ClientIP()).Msg("admin logged in")
	h.respondWithSuccess(c, response, "Login successful")
}
