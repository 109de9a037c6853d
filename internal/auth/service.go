// Package auth 管理员登录与JWT校验
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ssebridge/internal/cache"
)

// RoleAdmin 管理员角色
const RoleAdmin = "admin"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// Service 认证服务，只有一个来自配置的管理员账号
type Service struct {
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
	tokenCache   *cache.MemoryCache[*JWTClaims]
}

// NewService 创建认证服务，密码在内存中只保留bcrypt哈希
func NewService(username, password string, jwtManager *JWTManager) (*Service, error) {
	if username == "" || password == "" {
		return nil, errors.New("admin username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	return &Service{
		username:     username,
		passwordHash: hash,
		jwtManager:   jwtManager,
		tokenCache:   cache.NewMemoryCache[*JWTClaims](),
	}, nil
}

// LoginRequest 登录请求结构
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应结构
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

// Login 管理员登录
func (s *Service) Login(req *LoginRequest) (*LoginResponse, error) {
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password))
	if !userOK || passErr != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwtManager.GenerateToken(s.username, RoleAdmin)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Username:  s.username,
		Role:      RoleAdmin,
	}, nil
}

// ValidateToken 验证token，结果缓存到token过期或15分钟
func (s *Service) ValidateToken(tokenString string) (*JWTClaims, error) {
	if claims, found := s.tokenCache.Get(tokenString); found {
		return claims, nil
	}

	claims, err := s.jwtManager.ValidateToken(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Username != s.username {
		return nil, ErrInvalidToken
	}

	ttl := 15 * time.Minute
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl > 0 {
		s.tokenCache.Set(tokenString, claims, ttl)
	}
	return claims, nil
}

// RunCacheCleanup 定期清理过期的token缓存，直到 ctx 取消
func (s *Service) RunCacheCleanup(ctx context.Context, interval time.Duration) {
	s.tokenCache.Run(ctx, interval)
}
