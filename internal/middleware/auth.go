package middleware

import (
	"github.com/gin-gonic/gin"

	"ssebridge/internal/auth"
)

// context 中保存认证信息的键
const (
	ContextClaims   = "claims"
	ContextUsername = "username"
	ContextRole     = "role"
)

// AuthService 认证服务接口
type AuthService interface {
	ValidateToken(tokenString string) (*auth.JWTClaims, error)
}

// AuthRequiredWithService 认证中间件，支持 Authorization 头或 token 查询参数
func AuthRequiredWithService(authService AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			HandleUnauthorizedError(c, "Authorization header is required")
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			HandleUnauthorizedError(c, "Invalid or expired token")
			return
		}

		// 将用户信息存储到context中
		c.Set(ContextClaims, claims)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)

		c.Next()
	}
}

// RoleRequired 角色权限中间件
func RoleRequired(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == "" {
			HandleUnauthorizedError(c, "User role not found")
			return
		}

		for _, requiredRole := range requiredRoles {
			if role == requiredRole {
				c.Next()
				return
			}
		}

		HandleForbiddenError(c, "Insufficient permissions")
	}
}

// AdminRequired 管理员权限中间件
func AdminRequired() gin.HandlerFunc {
	return RoleRequired(auth.RoleAdmin)
}

// GetCurrentClaims 从context中获取当前用户声明
func GetCurrentClaims(c *gin.Context) (*auth.JWTClaims, bool) {
	value, exists := c.Get(ContextClaims)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.JWTClaims)
	return claims, ok
}
