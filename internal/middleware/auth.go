package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.im.message/pkg/jwt"
	"sudooom.im.message/pkg/response"
)

// HeaderUserID 网关透传的用户 ID 请求头
const HeaderUserID = "X-User-Id"

const userIDKey = "user_id"

// JWTAuth JWT 认证中间件
func JWTAuth(verifier *jwt.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, response.CodeTokenInvalid)
			c.Abort()
			return
		}

		claims, err := verifier.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Unauthorized(c, response.CodeTokenExpired)
			} else {
				response.Unauthorized(c, response.CodeTokenInvalid)
			}
			c.Abort()
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// HeaderAuth 信任网关已完成认证，从请求头读取用户 ID
func HeaderAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		if err != nil || userID <= 0 {
			response.Unauthorized(c, response.CodeTokenInvalid)
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// GetUserID 从 context 获取 user_id
func GetUserID(c *gin.Context) int64 {
	userID, exists := c.Get(userIDKey)
	if !exists {
		return 0
	}
	return userID.(int64)
}
