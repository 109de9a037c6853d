package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部路由
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", h.HealthCheck)

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Login)
		}

		sse := api.Group("/sse")
		{
			// 订阅端点受总开关控制，不需要认证
			sse.GET("/stream/:channel", h.HandleSSE)

			admin := sse.Group("")
			admin.Use(h.AuthRequired(), h.AdminRequired())
			{
				admin.POST("/publish", h.Publish)
				admin.GET("/stats", h.GetSSEStats)
				admin.GET("/stats/pub", h.GetPubMessageStats)
				admin.GET("/stats/sub", h.GetSubMessageStats)
				admin.GET("/stats/connect", h.GetConnectStats)
				admin.GET("/switch", h.GetSwitch)
				admin.PUT("/switch", h.OpenSwitch)
				admin.DELETE("/switch", h.CloseSwitch)
			}
		}
	}
}
