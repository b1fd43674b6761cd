package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"askhub/internal/model"
	"askhub/internal/pkg/token"
	"askhub/internal/store"

	"github.com/gin-gonic/gin"
)

// BasicVerifier 校验 HTTP Basic 凭据。
type BasicVerifier interface {
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
}

// BearerAuth 校验 API 请求的身份。
//
// 支持两种方式：
//   - Authorization: Bearer <token>，令牌由 POST /api/v1/tokens 签发
//   - HTTP Basic，用户名为邮箱
//
// 都没有时以匿名身份继续，由 RequireLogin / RequirePermission 决定是否拒绝。
func BearerAuth(signer *token.Signer, users UserLoader, basic BasicVerifier, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		switch {
		case strings.EqualFold(parts[0], "Bearer"):
			claims, ok := signer.Verify(strings.TrimSpace(parts[1]), token.PurposeAuth)
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			u, err := users.GetUser(c.Request.Context(), claims.UserID())
			if errors.Is(err, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
				return
			}
			if err != nil {
				logger.Error("load token user failed", slog.String("error", err.Error()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			SetCurrentUser(c, u)
			c.Set("authByToken", true)

		case strings.EqualFold(parts[0], "Basic"):
			email, password, ok := c.Request.BasicAuth()
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
				return
			}
			u, err := basic.Authenticate(c.Request.Context(), email, password)
			if errors.Is(err, store.ErrInvalidCredentials) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			if err != nil {
				logger.Error("basic auth failed", slog.String("error", err.Error()))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			SetCurrentUser(c, u)
			c.Set("authByToken", false)

		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}
		c.Next()
	}
}

// AuthenticatedByToken 当前 API 请求是否使用令牌认证。
func AuthenticatedByToken(c *gin.Context) bool {
	return c.GetBool("authByToken")
}
